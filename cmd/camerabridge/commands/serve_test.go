package commands

import (
	"testing"

	"github.com/spf13/viper"

	"github.com/bryanchriswhite/CameraBridge/internal/config"
)

func TestApplyOverrides(t *testing.T) {
	t.Cleanup(viper.Reset)

	cfg := config.Defaults()
	applyOverrides(cfg)
	if cfg.ServerPort != 8080 || cfg.Capture.Source != config.SourceTestPattern {
		t.Fatalf("defaults changed without overrides: %+v", cfg)
	}

	viper.Set("server_port", 9000)
	viper.Set("capture.source", "v4l2")
	viper.Set("capture.device", "/dev/video2")
	applyOverrides(cfg)

	if cfg.ServerPort != 9000 {
		t.Errorf("port = %d, want 9000", cfg.ServerPort)
	}
	if cfg.Capture.Source != "v4l2" || cfg.Capture.Device != "/dev/video2" {
		t.Errorf("capture = %s %s", cfg.Capture.Source, cfg.Capture.Device)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log level = %q, unset override replaced it", cfg.LogLevel)
	}
}

func TestCommandsRegistered(t *testing.T) {
	for _, path := range [][]string{{"serve"}, {"formats"}, {"config", "show"}, {"config", "get"}, {"config", "set"}, {"config", "path"}} {
		cmd, _, err := rootCmd.Find(path)
		if err != nil || cmd == rootCmd {
			t.Errorf("command %v not registered", path)
		}
	}
}
