// Package config loads the scenario server configuration from YAML and
// environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/IdanVahab/Temi-Server/internal/scenario"
	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Engine  EngineConfig  `yaml:"engine"`
	Session SessionConfig `yaml:"session"`
	WebRTC  WebRTCConfig  `yaml:"webrtc"`
	Journal JournalConfig `yaml:"journal"`
	Caption CaptionConfig `yaml:"caption"`
	Record  RecordConfig  `yaml:"record"`
}

// ServerConfig holds listen addresses. An empty address disables the listener.
type ServerConfig struct {
	HTTPAddr    string `yaml:"http_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	PprofAddr   string `yaml:"pprof_addr"`
}

// LogConfig configures the leveled logger.
type LogConfig struct {
	Level string `yaml:"level"`
	Color bool   `yaml:"color"`
}

// EngineConfig mirrors scenario.Config with YAML-friendly types.
type EngineConfig struct {
	HistorySize       int                      `yaml:"history_size"`
	TrackHistorySize  int                      `yaml:"track_history_size"`
	MovementThreshold float64                  `yaml:"movement_threshold_px"`
	PourWindow        time.Duration            `yaml:"pour_window"`
	PourCooldown      time.Duration            `yaml:"pour_cooldown"`
	DefaultCooldown   time.Duration            `yaml:"default_cooldown"`
	Cooldowns         map[string]time.Duration `yaml:"cooldowns"`

	// TrackTTL evicts track ids not seen for this long; 0 keeps them forever.
	TrackTTL time.Duration `yaml:"track_ttl"`
}

// SessionConfig controls how long API-created sessions live without frames.
type SessionConfig struct {
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	ReapInterval time.Duration `yaml:"reap_interval"`
}

// WebRTCConfig configures data-channel sessions.
type WebRTCConfig struct {
	STUNServers []string `yaml:"stun_servers"`
	MaxClients  int      `yaml:"max_clients"`
}

// JournalConfig points at the SQLite event journal. Empty path disables it.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// RecordConfig sets the directory for frame recordings. Empty disables the
// recording endpoints.
type RecordConfig struct {
	Path string `yaml:"path"`
}

// CaptionConfig configures forwarding to an external captioner. Empty URL disables it.
type CaptionConfig struct {
	URL      string        `yaml:"url"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	eng := scenario.DefaultConfig()
	cooldowns := make(map[string]time.Duration, len(eng.Cooldowns))
	for name, d := range eng.Cooldowns {
		cooldowns[string(name)] = d
	}

	return Config{
		Server: ServerConfig{
			HTTPAddr:    ":8000",
			MetricsAddr: ":9090",
			PprofAddr:   "",
		},
		Log: LogConfig{
			Level: "info",
			Color: true,
		},
		Engine: EngineConfig{
			HistorySize:       eng.HistorySize,
			TrackHistorySize:  eng.TrackHistorySize,
			MovementThreshold: eng.MovementThreshold,
			PourWindow:        eng.PourWindow,
			PourCooldown:      eng.PourCooldown,
			DefaultCooldown:   eng.DefaultCooldown,
			Cooldowns:         cooldowns,
			TrackTTL:          eng.TrackTTL,
		},
		Session: SessionConfig{
			IdleTimeout:  2 * time.Minute,
			ReapInterval: 30 * time.Second,
		},
		WebRTC: WebRTCConfig{
			STUNServers: []string{"stun:stun.l.google.com:19302"},
			MaxClients:  10,
		},
		Caption: CaptionConfig{
			Interval: 3 * time.Second,
			Timeout:  10 * time.Second,
		},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and scenario names.
func (c Config) Validate() error {
	e := c.Engine
	if e.HistorySize < 2 {
		return fmt.Errorf("engine.history_size must be at least 2, got %d", e.HistorySize)
	}
	if e.TrackHistorySize < 2 {
		return fmt.Errorf("engine.track_history_size must be at least 2, got %d", e.TrackHistorySize)
	}
	if e.MovementThreshold <= 0 {
		return fmt.Errorf("engine.movement_threshold_px must be positive")
	}
	if e.TrackTTL < 0 {
		return fmt.Errorf("engine.track_ttl must not be negative")
	}
	for name, d := range e.Cooldowns {
		if !scenario.Name(name).Valid() {
			return fmt.Errorf("engine.cooldowns: unknown scenario %q", name)
		}
		if d < 0 {
			return fmt.Errorf("engine.cooldowns.%s must not be negative", name)
		}
	}
	if c.WebRTC.MaxClients < 0 {
		return fmt.Errorf("webrtc.max_clients must not be negative")
	}
	if c.Caption.URL != "" && c.Caption.Interval <= 0 {
		return fmt.Errorf("caption.interval must be positive when caption.url is set")
	}
	return nil
}

// Scenario converts the engine section into a scenario.Config.
func (e EngineConfig) Scenario() scenario.Config {
	cooldowns := make(map[scenario.Name]time.Duration, len(e.Cooldowns))
	for name, d := range e.Cooldowns {
		cooldowns[scenario.Name(name)] = d
	}
	return scenario.Config{
		HistorySize:       e.HistorySize,
		TrackHistorySize:  e.TrackHistorySize,
		MovementThreshold: e.MovementThreshold,
		PourWindow:        e.PourWindow,
		PourCooldown:      e.PourCooldown,
		DefaultCooldown:   e.DefaultCooldown,
		Cooldowns:         cooldowns,
		TrackTTL:          e.TrackTTL,
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TEMI_HTTP_ADDR"); v != "" {
		cfg.Server.HTTPAddr = v
	}
	if v := os.Getenv("TEMI_METRICS_ADDR"); v != "" {
		cfg.Server.MetricsAddr = v
	}
	if v := os.Getenv("TEMI_LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("TEMI_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}
	if v := os.Getenv("TEMI_RECORD_PATH"); v != "" {
		cfg.Record.Path = v
	}
	if v := os.Getenv("TEMI_CAPTION_URL"); v != "" {
		cfg.Caption.URL = v
	}
	if v := os.Getenv("TEMI_TRACK_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.TrackTTL = d
		}
	}
	if v := os.Getenv("TEMI_MAX_CLIENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WebRTC.MaxClients = n
		}
	}
}
