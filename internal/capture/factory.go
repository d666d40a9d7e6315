package capture

import (
	"fmt"
	"strings"

	"github.com/bryanchriswhite/CameraBridge/internal/config"
	"github.com/bryanchriswhite/CameraBridge/internal/frame"
	"github.com/bryanchriswhite/CameraBridge/internal/logger"
)

// New builds the capture source named by cfg.Source
func New(cfg config.CaptureConfig) (Source, error) {
	sizes := sizesFromConfig(cfg.SupportedSizes)

	facing := Facing(strings.ToLower(cfg.Facing))
	if facing != "" && facing != FacingAny {
		// Every backend here drives exactly one device
		logger.WithComponent("capture").Debug().
			Str("facing", string(facing)).
			Str("source", cfg.Source).
			Msg("Source exposes a single camera, facing ignored")
	}

	switch strings.ToLower(cfg.Source) {
	case "", config.SourceTestPattern:
		var focusModes []string
		if cfg.FocusMode != "" {
			focusModes = []string{cfg.FocusMode}
		}
		return NewTestPattern(TestPatternConfig{
			Sizes:      sizes,
			Brand:      cfg.Brand,
			Model:      cfg.Model,
			FocusModes: focusModes,
			FPS:        cfg.FPS,
		}), nil
	case config.SourceV4L2:
		return NewV4L2Source(V4L2Config{
			Device: cfg.Device,
			Sizes:  sizes,
			Brand:  cfg.Brand,
			Model:  cfg.Model,
		}), nil
	case config.SourceGStreamer:
		return NewGStreamerSource(GStreamerConfig{
			Device: cfg.Device,
			Sizes:  sizes,
			Brand:  cfg.Brand,
			Model:  cfg.Model,
		}), nil
	case config.SourceX11:
		// Device names the X display for this source
		return NewScreenSource(X11Config{
			Display: cfg.Device,
			Sizes:   sizes,
			FPS:     cfg.FPS,
		}), nil
	}
	return nil, fmt.Errorf("unknown capture source: %s", cfg.Source)
}

// PreferencesFromConfig converts capture configuration into negotiation preferences
func PreferencesFromConfig(cfg config.CaptureConfig) (Preferences, error) {
	prefs := Preferences{
		Width:                       cfg.Width,
		Height:                      cfg.Height,
		FPS:                         cfg.FPS,
		YV12BrandPrefixes:           cfg.YV12BrandPrefixes,
		RecordingHintExcludedModels: cfg.RecordingHintExcludedModels,
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "auto":
	default:
		f, err := frame.ParsePixelFormat(cfg.Format)
		if err != nil {
			return Preferences{}, err
		}
		prefs.Format = f
	}
	return prefs, nil
}

func sizesFromConfig(in []config.SizeConfig) []Size {
	out := make([]Size, 0, len(in))
	for _, s := range in {
		if s.Width > 0 && s.Height > 0 {
			out = append(out, Size{Width: s.Width, Height: s.Height})
		}
	}
	return out
}
