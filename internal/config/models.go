package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/bryanchriswhite/CameraBridge/internal/logger"
	"gopkg.in/yaml.v3"
)

// Capture source kinds
const (
	SourceTestPattern = "testpattern"
	SourceV4L2        = "v4l2"
	SourceGStreamer   = "gstreamer"
	SourceX11         = "x11"
)

// SizeConfig is a preview size advertised for a device
type SizeConfig struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// CaptureConfig represents camera capture configuration
type CaptureConfig struct {
	Source string `json:"source" yaml:"source"`
	Device string `json:"device" yaml:"device"`
	Facing string `json:"facing" yaml:"facing"`

	// Width and Height bound the negotiated preview size
	Width  int    `json:"width" yaml:"width"`
	Height int    `json:"height" yaml:"height"`
	FPS    int    `json:"fps" yaml:"fps"`
	Format string `json:"format" yaml:"format"` // auto, nv21 or yv12

	SupportedSizes              []SizeConfig `json:"supported_sizes" yaml:"supported_sizes"`
	YV12BrandPrefixes           []string     `json:"yv12_brand_prefixes" yaml:"yv12_brand_prefixes"`
	RecordingHintExcludedModels []string     `json:"recording_hint_excluded_models" yaml:"recording_hint_excluded_models"`

	// Brand and Model override what the device reports
	Brand     string `json:"brand,omitempty" yaml:"brand,omitempty"`
	Model     string `json:"model,omitempty" yaml:"model,omitempty"`
	FocusMode string `json:"focus_mode,omitempty" yaml:"focus_mode,omitempty"`
}

// PreviewWindowConfig represents the X11 preview window
type PreviewWindowConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Width   int  `json:"width" yaml:"width"`
	Height  int  `json:"height" yaml:"height"`
}

// OutputConfig represents output configuration
type OutputConfig struct {
	MJPEGQuality  int                 `json:"mjpeg_quality" yaml:"mjpeg_quality"`
	PreviewWindow PreviewWindowConfig `json:"preview_window" yaml:"preview_window"`
}

// OverlayConfig represents overlay configuration
type OverlayConfig struct {
	Enabled bool                     `json:"enabled" yaml:"enabled"`
	Widgets []map[string]interface{} `json:"widgets" yaml:"widgets"`
}

// Config represents the application configuration
type Config struct {
	Capture    CaptureConfig `json:"capture" yaml:"capture"`
	Output     OutputConfig  `json:"output" yaml:"output"`
	Overlay    OverlayConfig `json:"overlay" yaml:"overlay"`
	ServerPort int           `json:"server_port" yaml:"server_port"`
	LogLevel   string        `json:"log_level" yaml:"log_level"`
}

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// DefaultPath returns $HOME/.config/camerabridge/config.yaml
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "camerabridge", "config.yaml"), nil
}

// NewManager creates a new configuration manager
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := configFile
	if actualConfigPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		actualConfigPath = p
	}

	if err := os.MkdirAll(filepath.Dir(actualConfigPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	m := &Manager{
		configPath: actualConfigPath,
	}

	if err := m.load(); err != nil {
		if os.IsNotExist(err) {
			logger.WithComponent("config").Info().
				Str("path", m.configPath).
				Msg("Config file not found, creating new config")
			m.config = Defaults()
			if err := m.Save(); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Str("source", m.config.Capture.Source).
		Msg("Config loaded")

	return m, nil
}

// Defaults returns the default configuration
func Defaults() *Config {
	return &Config{
		ServerPort: 8080,
		LogLevel:   "info",
		Capture: CaptureConfig{
			Source: SourceTestPattern,
			Facing: "any",
			Width:  640,
			Height: 480,
			FPS:    30,
			Format: "auto",
			SupportedSizes: []SizeConfig{
				{Width: 320, Height: 240},
				{Width: 640, Height: 480},
				{Width: 1280, Height: 720},
			},
			YV12BrandPrefixes:           []string{"generic"},
			RecordingHintExcludedModels: []string{"GT-I9100"},
		},
		Output: OutputConfig{
			MJPEGQuality: 80,
			PreviewWindow: PreviewWindowConfig{
				Enabled: false,
				Width:   640,
				Height:  480,
			},
		},
		Overlay: OverlayConfig{
			Enabled: true,
			Widgets: []map[string]interface{}{},
		},
	}
}

// load reads the configuration from disk; missing sections keep their defaults
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Overlay.Widgets == nil {
		cfg.Overlay.Widgets = []map[string]interface{}{}
	}
	if cfg.Capture.YV12BrandPrefixes == nil {
		cfg.Capture.YV12BrandPrefixes = []string{}
	}
	if cfg.Capture.RecordingHintExcludedModels == nil {
		cfg.Capture.RecordingHintExcludedModels = []string{}
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return Defaults()
	}

	cfg := *m.config
	cfg.Capture.SupportedSizes = append([]SizeConfig(nil), m.config.Capture.SupportedSizes...)
	cfg.Capture.YV12BrandPrefixes = append([]string(nil), m.config.Capture.YV12BrandPrefixes...)
	cfg.Capture.RecordingHintExcludedModels = append([]string(nil), m.config.Capture.RecordingHintExcludedModels...)
	return &cfg
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	if cfg == nil {
		cfg = Defaults()
	}

	log := logger.WithComponent("config")
	log.Debug().Str("path", m.configPath).Msg("Saving config")

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		log.Error().Err(err).Str("config_dir", configDir).Msg("Failed to create config directory")
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal config")
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		log.Error().Err(err).Str("path", m.configPath).Msg("Failed to write config")
		return err
	}

	log.Info().Str("path", m.configPath).Msg("Config saved successfully")
	return nil
}

// Update updates the entire configuration
func (m *Manager) Update(cfg *Config) error {
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return m.Save()
}

// SetPort sets the server port
func (m *Manager) SetPort(port int) error {
	m.mu.Lock()
	m.config.ServerPort = port
	m.mu.Unlock()
	return m.Save()
}

// GetPort gets the server port
func (m *Manager) GetPort() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.ServerPort
}

// SetLogLevel sets the log level
func (m *Manager) SetLogLevel(level string) error {
	m.mu.Lock()
	m.config.LogLevel = level
	m.mu.Unlock()
	return m.Save()
}

// GetLogLevel gets the log level
func (m *Manager) GetLogLevel() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.LogLevel
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// GetConfigDir returns the config directory path
func (m *Manager) GetConfigDir() string {
	return filepath.Dir(m.configPath)
}

// Keys lists the scalar keys accepted by Value and SetValue
func Keys() []string {
	return []string{
		"server_port",
		"log_level",
		"capture.source",
		"capture.device",
		"capture.facing",
		"capture.width",
		"capture.height",
		"capture.fps",
		"capture.format",
		"capture.brand",
		"capture.model",
		"capture.focus_mode",
		"capture.yv12_brand_prefixes",
		"capture.recording_hint_excluded_models",
		"output.mjpeg_quality",
		"output.preview_window.enabled",
		"output.preview_window.width",
		"output.preview_window.height",
		"overlay.enabled",
	}
}

// Value returns the value stored under a dotted key
func (m *Manager) Value(key string) (interface{}, error) {
	cfg := m.Get()
	switch key {
	case "server_port":
		return cfg.ServerPort, nil
	case "log_level":
		return cfg.LogLevel, nil
	case "capture.source":
		return cfg.Capture.Source, nil
	case "capture.device":
		return cfg.Capture.Device, nil
	case "capture.facing":
		return cfg.Capture.Facing, nil
	case "capture.width":
		return cfg.Capture.Width, nil
	case "capture.height":
		return cfg.Capture.Height, nil
	case "capture.fps":
		return cfg.Capture.FPS, nil
	case "capture.format":
		return cfg.Capture.Format, nil
	case "capture.brand":
		return cfg.Capture.Brand, nil
	case "capture.model":
		return cfg.Capture.Model, nil
	case "capture.focus_mode":
		return cfg.Capture.FocusMode, nil
	case "capture.yv12_brand_prefixes":
		return cfg.Capture.YV12BrandPrefixes, nil
	case "capture.recording_hint_excluded_models":
		return cfg.Capture.RecordingHintExcludedModels, nil
	case "output.mjpeg_quality":
		return cfg.Output.MJPEGQuality, nil
	case "output.preview_window.enabled":
		return cfg.Output.PreviewWindow.Enabled, nil
	case "output.preview_window.width":
		return cfg.Output.PreviewWindow.Width, nil
	case "output.preview_window.height":
		return cfg.Output.PreviewWindow.Height, nil
	case "overlay.enabled":
		return cfg.Overlay.Enabled, nil
	}
	return nil, fmt.Errorf("unknown config key: %s", key)
}

// SetValue parses value for a dotted key, stores it and saves the file.
// List keys take a comma-separated value.
func (m *Manager) SetValue(key, value string) error {
	m.mu.Lock()
	if m.config == nil {
		m.config = Defaults()
	}
	err := setField(m.config, key, value)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.Save()
}

func setField(cfg *Config, key, value string) error {
	atoi := func(dst *int) error {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid number for %s: %s", key, value)
		}
		*dst = n
		return nil
	}
	parseBool := func(dst *bool) error {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for %s: %s (use: true or false)", key, value)
		}
		*dst = b
		return nil
	}
	oneOf := func(dst *string, allowed ...string) error {
		v := strings.ToLower(strings.TrimSpace(value))
		for _, a := range allowed {
			if v == a {
				*dst = v
				return nil
			}
		}
		return fmt.Errorf("invalid %s: %s (use: %s)", key, value, strings.Join(allowed, ", "))
	}

	switch key {
	case "server_port":
		return atoi(&cfg.ServerPort)
	case "log_level":
		return oneOf(&cfg.LogLevel, "trace", "debug", "info", "warn", "error")
	case "capture.source":
		return oneOf(&cfg.Capture.Source, SourceTestPattern, SourceV4L2, SourceGStreamer, SourceX11)
	case "capture.device":
		cfg.Capture.Device = value
	case "capture.facing":
		return oneOf(&cfg.Capture.Facing, "any", "back", "front")
	case "capture.width":
		return atoi(&cfg.Capture.Width)
	case "capture.height":
		return atoi(&cfg.Capture.Height)
	case "capture.fps":
		return atoi(&cfg.Capture.FPS)
	case "capture.format":
		return oneOf(&cfg.Capture.Format, "auto", "nv21", "yv12")
	case "capture.brand":
		cfg.Capture.Brand = value
	case "capture.model":
		cfg.Capture.Model = value
	case "capture.focus_mode":
		cfg.Capture.FocusMode = value
	case "capture.yv12_brand_prefixes":
		cfg.Capture.YV12BrandPrefixes = splitList(value)
	case "capture.recording_hint_excluded_models":
		cfg.Capture.RecordingHintExcludedModels = splitList(value)
	case "output.mjpeg_quality":
		return atoi(&cfg.Output.MJPEGQuality)
	case "output.preview_window.enabled":
		return parseBool(&cfg.Output.PreviewWindow.Enabled)
	case "output.preview_window.width":
		return atoi(&cfg.Output.PreviewWindow.Width)
	case "output.preview_window.height":
		return atoi(&cfg.Output.PreviewWindow.Height)
	case "overlay.enabled":
		return parseBool(&cfg.Overlay.Enabled)
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	return nil
}

func splitList(value string) []string {
	out := []string{}
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
