package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bryanchriswhite/CameraBridge/internal/config"
	"github.com/bryanchriswhite/CameraBridge/internal/output"
	"github.com/bryanchriswhite/CameraBridge/internal/overlay"
	"github.com/bryanchriswhite/CameraBridge/internal/pipeline"
)

type fixedStats struct{ stats pipeline.Stats }

func (f *fixedStats) Stats() pipeline.Stats { return f.stats }

func newTestServer(t *testing.T, stats pipeline.Stats, mjpeg *output.MJPEGOutput) (*Server, *config.Manager) {
	t.Helper()
	mgr, err := config.NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return NewServer(&fixedStats{stats: stats}, mgr, mjpeg, overlay.NewManager()), mgr
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	testCases := []struct {
		name string
		open bool
		want string
	}{
		{"open pipeline", true, "healthy"},
		{"closed pipeline", false, "degraded"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s, _ := newTestServer(t, pipeline.Stats{Open: tc.open}, nil)
			rec := get(t, s.Handler(), "/api/health")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			var body map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body["status"] != tc.want {
				t.Errorf("status = %q, want %q", body["status"], tc.want)
			}
		})
	}
}

func TestGetPipeline(t *testing.T) {
	want := pipeline.Stats{
		Session:         "abc",
		Source:          "testpattern",
		Open:            true,
		Width:           640,
		Height:          480,
		Format:          "NV21",
		FramesDelivered: 12,
	}
	s, _ := newTestServer(t, want, nil)

	rec := get(t, s.Handler(), "/api/pipeline")
	var got pipeline.Stats
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("stats = %+v, want %+v", got, want)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
}

func TestGetFormats(t *testing.T) {
	s, _ := newTestServer(t, pipeline.Stats{}, nil)

	rec := get(t, s.Handler(), "/api/formats")
	var routes []struct {
		Format   string `json:"format"`
		CodeName string `json:"code_name"`
		Deviates bool   `json:"deviates"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&routes); err != nil {
		t.Fatal(err)
	}
	if len(routes) != 2 {
		t.Fatalf("got %d routes, want 2", len(routes))
	}

	byFormat := map[string]bool{}
	for _, r := range routes {
		byFormat[r.Format] = r.Deviates
		if r.Format == "yv12" && r.CodeName != "COLOR_YUV2RGBA_IYUV" {
			t.Errorf("YV12 code = %s, want COLOR_YUV2RGBA_IYUV", r.CodeName)
		}
	}
	if byFormat["nv21"] {
		t.Error("NV21 marked as deviating")
	}
	if !byFormat["yv12"] {
		t.Error("YV12 not marked as deviating")
	}
}

func TestUpdateConfigKeepsUnsentFields(t *testing.T) {
	s, mgr := newTestServer(t, pipeline.Stats{}, nil)

	body := strings.NewReader(`{"server_port": 9191}`)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/config", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	cfg := mgr.Get()
	if cfg.ServerPort != 9191 {
		t.Errorf("port = %d, want 9191", cfg.ServerPort)
	}
	if cfg.Capture.Source != config.SourceTestPattern {
		t.Errorf("capture source = %q, partial update lost it", cfg.Capture.Source)
	}

	reloaded, err := config.NewManager(mgr.GetConfigPath())
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.GetPort() != 9191 {
		t.Errorf("persisted port = %d", reloaded.GetPort())
	}
}

func TestUpdateConfigRejectsBadJSON(t *testing.T) {
	s, _ := newTestServer(t, pipeline.Stats{}, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/config", strings.NewReader("{")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t, pipeline.Stats{}, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/config", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow origin = %q", got)
	}
}

func TestStreamRoutesMounted(t *testing.T) {
	m := output.NewMJPEGOutput(output.Config{})
	s, _ := newTestServer(t, pipeline.Stats{}, m)

	// Not started yet
	if rec := get(t, s.Handler(), "/stream"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/stream status = %d, want 503", rec.Code)
	}
	if rec := get(t, s.Handler(), "/"); !strings.Contains(rec.Body.String(), "/api/pipeline/events") {
		t.Error("viewer page does not subscribe to pipeline events")
	}
	if rec := get(t, s.Handler(), "/stats"); rec.Code != http.StatusOK {
		t.Errorf("/stats status = %d", rec.Code)
	}
}

func TestPipelineEvents(t *testing.T) {
	s, _ := newTestServer(t, pipeline.Stats{Open: true, Format: "YV12", FramesDelivered: 7}, nil)
	s.EventInterval = 10 * time.Millisecond

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/pipeline/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for i := 0; i < 3; i++ {
		var got pipeline.Stats
		if err := conn.ReadJSON(&got); err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
		if got.Format != "YV12" || got.FramesDelivered != 7 {
			t.Errorf("event %d = %+v", i, got)
		}
	}
}
