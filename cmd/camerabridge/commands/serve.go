package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bryanchriswhite/CameraBridge/internal/api"
	"github.com/bryanchriswhite/CameraBridge/internal/capture"
	"github.com/bryanchriswhite/CameraBridge/internal/config"
	"github.com/bryanchriswhite/CameraBridge/internal/display"
	"github.com/bryanchriswhite/CameraBridge/internal/imaging"
	"github.com/bryanchriswhite/CameraBridge/internal/logger"
	"github.com/bryanchriswhite/CameraBridge/internal/output"
	"github.com/bryanchriswhite/CameraBridge/internal/overlay"
	"github.com/bryanchriswhite/CameraBridge/internal/pipeline"
)

var prettyLogs bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the CameraBridge server",
	Long: `Open the configured camera, start delivering preview frames and serve
the MJPEG stream, pipeline statistics and configuration API over HTTP.`,
	Example: `  # Start with the built-in test pattern on port 8080
  camerabridge serve

  # Start server on custom port
  camerabridge serve --port 9090

  # Use a V4L2 camera
  CAMERABRIDGE_CAPTURE_SOURCE=v4l2 camerabridge serve

  # Start with debug logging
  camerabridge serve --log-level debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&prettyLogs, "pretty", true, "human readable console logs")
	serveCmd.Flags().String("source", "", "capture source (testpattern, v4l2, gstreamer)")
	serveCmd.Flags().String("device", "", "capture device path")
	viper.BindPFlag("capture.source", serveCmd.Flags().Lookup("source"))
	viper.BindPFlag("capture.device", serveCmd.Flags().Lookup("device"))
}

// applyOverrides layers flags and CAMERABRIDGE_* variables over the loaded
// config without persisting them
func applyOverrides(cfg *config.Config) {
	if port := viper.GetInt("server_port"); port > 0 {
		cfg.ServerPort = port
	}
	if level := viper.GetString("log_level"); level != "" {
		cfg.LogLevel = level
	}
	if source := viper.GetString("capture.source"); source != "" {
		cfg.Capture.Source = source
	}
	if device := viper.GetString("capture.device"); device != "" {
		cfg.Capture.Device = device
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to initialize config manager: %w", err)
	}

	cfg := configMgr.Get()
	applyOverrides(cfg)

	logger.Init(cfg.LogLevel, prettyLogs)
	log := logger.WithComponent("serve")
	log.Info().
		Str("config", configMgr.GetConfigPath()).
		Str("log_level", cfg.LogLevel).
		Msg("Configuration loaded")

	source, err := capture.New(cfg.Capture)
	if err != nil {
		return err
	}
	prefs, err := capture.PreferencesFromConfig(cfg.Capture)
	if err != nil {
		return err
	}

	// Overlay
	overlayMgr := overlay.NewManager()
	overlayMgr.SetEnabled(cfg.Overlay.Enabled)
	if overlayMgr.LoadFromConfig(cfg.Overlay.Widgets) == 0 {
		w, err := overlayMgr.CreateWidget("frame-info", "frame-info", map[string]interface{}{"x": 10, "y": 10})
		if err == nil {
			overlayMgr.AddWidget(w)
		}
	}

	// Outputs
	mjpeg := output.NewMJPEGOutput(output.Config{
		Width:   cfg.Capture.Width,
		Height:  cfg.Capture.Height,
		FPS:     cfg.Capture.FPS,
		Quality: cfg.Output.MJPEGQuality,
	})
	if err := mjpeg.Start(); err != nil {
		return err
	}
	dispatcher := output.NewDispatcher(overlayMgr, mjpeg)
	defer dispatcher.Stop()

	if cfg.Output.PreviewWindow.Enabled {
		window, err := display.NewWindow(cfg.Output.PreviewWindow)
		if err != nil {
			log.Warn().Err(err).Msg("Preview window unavailable, continuing without it")
		} else if err := window.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to start preview window")
		} else {
			dispatcher.AddOutput(window)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bridge := pipeline.New(source, imaging.NewConverter(), dispatcher)
	req := pipeline.Request{
		Width:       cfg.Capture.Width,
		Height:      cfg.Capture.Height,
		Preferences: prefs,
	}
	if err := bridge.Open(ctx, req); err != nil {
		return fmt.Errorf("failed to open camera: %w", err)
	}
	defer func() {
		if err := bridge.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close pipeline")
		}
	}()

	server := api.NewServer(bridge, configMgr, mjpeg, overlayMgr)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(cfg.ServerPort)
	}()

	params := bridge.Params()
	log.Info().
		Str("session", bridge.Session()).
		Str("format", params.Format.String()).
		Str("size", params.Size.String()).
		Bool("recording_hint", params.RecordingHint).
		Int("port", cfg.ServerPort).
		Msg("CameraBridge is running, press Ctrl+C to stop")

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down gracefully...")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Shutdown waits on open /stream requests; end them first
	mjpeg.Stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server did not shut down cleanly")
	}
	return nil
}
