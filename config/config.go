package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Terminal   TerminalConfig   `yaml:"terminal"`
	Poller     PollerConfig     `yaml:"poller"`
	Attendance AttendanceConfig `yaml:"attendance"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
	WebhookToken    string  `yaml:"webhook_token"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	LogSQL                 bool   `yaml:"log_sql"`
}

// TerminalConfig holds defaults for talking to biometric terminals.
type TerminalConfig struct {
	DefaultPort       int            `yaml:"default_port"`
	DefaultDeviceCode uint32         `yaml:"default_device_code"`
	TimeoutSeconds    int            `yaml:"timeout_seconds"`
	Timeout           time.Duration  `yaml:"-"`
	ChunkSize         int            `yaml:"chunk_size"`
	Timezone          string         `yaml:"timezone"`
	Location          *time.Location `yaml:"-"`
}

// PollerConfig holds the device record poller configuration.
type PollerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	IntervalSeconds int           `yaml:"interval_seconds"`
	Interval        time.Duration `yaml:"-"`
	Workers         int           `yaml:"workers"`
}

// AttendanceConfig tunes the work session state machine.
type AttendanceConfig struct {
	StaleSessionHours   int `yaml:"stale_session_hours"`
	DefaultBreakMinutes int `yaml:"default_break_minutes"`
}

// LogConfig selects the logger level and encoding.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := Config{
		Attendance: AttendanceConfig{StaleSessionHours: 16},
	}
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() error {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 30
	}

	if cfg.Terminal.DefaultPort <= 0 {
		cfg.Terminal.DefaultPort = 5010
	}
	if cfg.Terminal.DefaultDeviceCode == 0 {
		cfg.Terminal.DefaultDeviceCode = 1
	}
	if cfg.Terminal.TimeoutSeconds <= 0 {
		cfg.Terminal.TimeoutSeconds = 5
	}
	cfg.Terminal.Timeout = time.Duration(cfg.Terminal.TimeoutSeconds) * time.Second
	if cfg.Terminal.ChunkSize <= 0 {
		cfg.Terminal.ChunkSize = 1024
	}
	if cfg.Terminal.Timezone == "" {
		cfg.Terminal.Timezone = "Local"
	}
	loc, err := time.LoadLocation(cfg.Terminal.Timezone)
	if err != nil {
		return fmt.Errorf("failed to load terminal timezone %q: %w", cfg.Terminal.Timezone, err)
	}
	cfg.Terminal.Location = loc

	if cfg.Poller.IntervalSeconds <= 0 {
		cfg.Poller.IntervalSeconds = 60
	}
	cfg.Poller.Interval = time.Duration(cfg.Poller.IntervalSeconds) * time.Second
	if cfg.Poller.Workers <= 0 {
		cfg.Poller.Workers = 1
	}

	if cfg.Attendance.StaleSessionHours < 0 {
		cfg.Attendance.StaleSessionHours = 0
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	return nil
}
