package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/rsslink/pkg/rss"
)

// Backends that can drive the radio.
const (
	BackendGoBLE  = "go-ble"
	BackendTinyGo = "tinygo"
)

// Config holds application configuration
type Config struct {
	LogLevel    string        `yaml:"log_level" default:"warn"`
	Backend     string        `yaml:"backend" default:"go-ble"`
	ScanTimeout time.Duration `yaml:"scan_timeout" default:"10s"`
	// DeviceTimeout bounds one-shot commands such as status and configure.
	DeviceTimeout time.Duration `yaml:"device_timeout" default:"30s"`

	Peripheral rss.PeripheralIdentity `yaml:"peripheral"`
	Session    SessionConfig          `yaml:"session"`
	Metrics    MetricsConfig          `yaml:"metrics"`
}

// SessionConfig tunes the GATT session.
type SessionConfig struct {
	OperationTimeout  time.Duration `yaml:"operation_timeout" default:"5s"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout" default:"10s"`
	ConfirmWrites     bool          `yaml:"confirm_writes" default:"true"`
	ResyncInterval    time.Duration `yaml:"resync_interval" default:"1s"`
	ResyncBurst       int           `yaml:"resync_burst" default:"2"`
	ReconnectFailures uint32        `yaml:"reconnect_failures" default:"3"`
	ReconnectCooldown time.Duration `yaml:"reconnect_cooldown" default:"30s"`
	StreamBuffer      int           `yaml:"stream_buffer" default:"16"`
	HistorySize       uint32        `yaml:"history_size" default:"256"`
}

// MetricsConfig enables the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	cfg.Peripheral = rss.DefaultIdentity()
	return cfg
}

// Load reads path over the defaults. Keys missing from the file keep their default.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values the YAML decoder cannot.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.Backend {
	case BackendGoBLE, BackendTinyGo:
	default:
		return fmt.Errorf("unknown backend %q (want %s or %s)", c.Backend, BackendGoBLE, BackendTinyGo)
	}
	if c.Peripheral.Name == "" {
		return fmt.Errorf("peripheral name is required")
	}
	if c.Peripheral.Service == "" || c.Peripheral.Weight == "" || c.Peripheral.Configuration == "" {
		return fmt.Errorf("peripheral service, weight and configuration UUIDs are required")
	}
	if c.Peripheral.MTU < 23 {
		return fmt.Errorf("peripheral mtu must be at least 23, got %d", c.Peripheral.MTU)
	}
	return nil
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// Identity returns the peripheral contract.
func (c *Config) Identity() rss.PeripheralIdentity {
	return c.Peripheral
}

// ManagerOptions maps the session section onto rss.Options.
func (c *Config) ManagerOptions() rss.Options {
	s := c.Session
	return rss.Options{
		OperationTimeout:    s.OperationTimeout,
		ConnectTimeout:      s.ConnectTimeout,
		DisableWriteConfirm: !s.ConfirmWrites,
		ResyncInterval:      s.ResyncInterval,
		ResyncBurst:         s.ResyncBurst,
		ReconnectFailures:   s.ReconnectFailures,
		ReconnectCooldown:   s.ReconnectCooldown,
		StreamBuffer:        s.StreamBuffer,
		HistorySize:         s.HistorySize,
	}
}
