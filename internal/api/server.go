package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/bryanchriswhite/CameraBridge/internal/config"
	"github.com/bryanchriswhite/CameraBridge/internal/imaging"
	"github.com/bryanchriswhite/CameraBridge/internal/logger"
	"github.com/bryanchriswhite/CameraBridge/internal/output"
	"github.com/bryanchriswhite/CameraBridge/internal/overlay"
	"github.com/bryanchriswhite/CameraBridge/internal/pipeline"
)

const version = "0.1.0"

// StatsSource reports pipeline state
type StatsSource interface {
	Stats() pipeline.Stats
}

// Server represents the HTTP API server
type Server struct {
	router     *mux.Router
	pipeline   StatsSource
	configMgr  *config.Manager
	mjpeg      *output.MJPEGOutput
	overlayMgr *overlay.Manager
	upgrader   websocket.Upgrader
	httpServer *http.Server

	// EventInterval is the period of /api/pipeline/events updates
	EventInterval time.Duration
}

// NewServer creates a new API server. mjpeg and overlayMgr may be nil.
func NewServer(p StatsSource, configMgr *config.Manager, mjpeg *output.MJPEGOutput, overlayMgr *overlay.Manager) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		pipeline:   p,
		configMgr:  configMgr,
		mjpeg:      mjpeg,
		overlayMgr: overlayMgr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		EventInterval: time.Second,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Pipeline state
	api.HandleFunc("/pipeline", s.handleGetPipeline).Methods("GET")
	api.HandleFunc("/pipeline/events", s.handlePipelineEvents)

	// Configuration
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/config", s.handleUpdateConfig).Methods("PUT")

	// Conversion table
	api.HandleFunc("/formats", s.handleGetFormats).Methods("GET")

	// Overlay
	api.HandleFunc("/overlay/widgets", s.handleGetWidgets).Methods("GET")
	api.HandleFunc("/overlay/types", s.handleGetWidgetTypes).Methods("GET")

	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	if s.mjpeg != nil {
		s.router.HandleFunc("/stream", s.mjpeg.GetHTTPHandler()).Methods("GET")
		s.router.HandleFunc("/snapshot.jpg", s.mjpeg.GetSnapshotHandler()).Methods("GET")
		s.router.HandleFunc("/stats", s.mjpeg.GetStatsHandler()).Methods("GET")
		s.router.HandleFunc("/", s.mjpeg.GetViewerHandler()).Methods("GET")
	} else {
		s.router.HandleFunc("/", s.handleIndex).Methods("GET")
	}
}

// Handler returns the routed handler with CORS applied
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start starts the HTTP server and blocks until it stops.
// It returns nil after Shutdown.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.WithComponent("api").Info().Str("addr", addr).Msgf("Starting server on http://localhost%s", addr)

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and waits for active requests
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// HTTP Handlers

func (s *Server) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.pipeline.Stats())
}

func (s *Server) handlePipelineEvents(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	// Reader goroutine notices the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.EventInterval)
	defer ticker.Stop()

	for {
		if err := conn.WriteJSON(s.pipeline.Stats()); err != nil {
			log.Debug().Err(err).Msg("WebSocket write error")
			return
		}
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.configMgr.Get())
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	// Decode over the current config so partial bodies keep other settings
	cfg := s.configMgr.Get()
	if err := json.NewDecoder(r.Body).Decode(cfg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.configMgr.Update(cfg); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]string{
		"status": "success",
		"note":   "capture settings apply on next start",
	})
}

type formatRoute struct {
	imaging.Route
	CodeName    string `json:"code_name"`
	NaturalName string `json:"natural_name"`
	Deviates    bool   `json:"deviates"`
}

func (s *Server) handleGetFormats(w http.ResponseWriter, r *http.Request) {
	routes := imaging.Routes()
	out := make([]formatRoute, 0, len(routes))
	for _, route := range routes {
		out = append(out, formatRoute{
			Route:       route,
			CodeName:    imaging.CodeName(route.Code),
			NaturalName: imaging.CodeName(route.Natural),
			Deviates:    route.Deviates(),
		})
	}
	writeJSON(w, out)
}

func (s *Server) handleGetWidgets(w http.ResponseWriter, r *http.Request) {
	if s.overlayMgr == nil {
		writeJSON(w, map[string]interface{}{"enabled": false, "widgets": []interface{}{}})
		return
	}
	writeJSON(w, map[string]interface{}{
		"enabled": s.overlayMgr.IsEnabled(),
		"widgets": s.overlayMgr.ExportConfig(),
	})
}

func (s *Server) handleGetWidgetTypes(w http.ResponseWriter, r *http.Request) {
	if s.overlayMgr == nil {
		writeJSON(w, []map[string]interface{}{})
		return
	}
	writeJSON(w, s.overlayMgr.GetAvailableWidgetTypes())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if !s.pipeline.Stats().Open {
		status = "degraded"
	}
	writeJSON(w, map[string]string{
		"status":  status,
		"version": version,
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, `<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>CameraBridge</title></head>
<body style="font-family: system-ui, sans-serif; padding: 20px;">
    <h1>CameraBridge</h1>
    <ul>
        <li><a href="/api/pipeline">Pipeline state</a></li>
        <li><a href="/api/formats">Conversion table</a></li>
        <li><a href="/api/config">Configuration</a></li>
    </ul>
</body>
</html>`)
}
