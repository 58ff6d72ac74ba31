package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/rsslink/pkg/rss"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, logrus.WarnLevel, cfg.Level())
	assert.Equal(t, BackendGoBLE, cfg.Backend)
	assert.Equal(t, 10*time.Second, cfg.ScanTimeout)
	assert.Equal(t, 30*time.Second, cfg.DeviceTimeout)
	assert.Equal(t, rss.DefaultIdentity(), cfg.Peripheral)
	assert.Equal(t, 5*time.Second, cfg.Session.OperationTimeout)
	assert.True(t, cfg.Session.ConfirmWrites)
	assert.Equal(t, uint32(3), cfg.Session.ReconnectFailures)
	assert.Empty(t, cfg.Metrics.Addr)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		want     logrus.Level
	}{
		{
			name:     "creates logger with debug level",
			logLevel: "debug",
			want:     logrus.DebugLevel,
		},
		{
			name:     "creates logger with info level",
			logLevel: "info",
			want:     logrus.InfoLevel,
		},
		{
			name:     "creates logger with warn level",
			logLevel: "warn",
			want:     logrus.WarnLevel,
		},
		{
			name:     "falls back to info on garbage",
			logLevel: "loud",
			want:     logrus.InfoLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				LogLevel: tt.logLevel,
			}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.want, logger.GetLevel())

			// Verify formatter is set correctly
			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rssctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
backend: tinygo
peripheral:
  name: Bench Sorter
session:
  operation_timeout: 2s
  connect_timeout: 4s
  confirm_writes: false
metrics:
  addr: ":9102"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, logrus.DebugLevel, cfg.Level())
	assert.Equal(t, BackendTinyGo, cfg.Backend)
	assert.Equal(t, "Bench Sorter", cfg.Peripheral.Name)
	assert.Equal(t, rss.DefaultIdentity().Service, cfg.Peripheral.Service, "unset keys keep defaults")
	assert.Equal(t, 517, cfg.Peripheral.MTU)
	assert.Equal(t, 2*time.Second, cfg.Session.OperationTimeout)
	assert.Equal(t, 4*time.Second, cfg.Session.ConnectTimeout)
	assert.False(t, cfg.Session.ConfirmWrites)
	assert.Equal(t, time.Second, cfg.Session.ResyncInterval)
	assert.Equal(t, ":9102", cfg.Metrics.Addr)
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed yaml", "log_level: [info"},
		{"bad level", "log_level: loud"},
		{"bad backend", "backend: bluez"},
		{"no name", "peripheral:\n  name: \"\""},
		{"tiny mtu", "peripheral:\n  mtu: 20"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestConfig_ManagerOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Session.ConfirmWrites = false
	cfg.Session.ResyncBurst = 5

	opts := cfg.ManagerOptions()
	assert.Equal(t, 5*time.Second, opts.OperationTimeout)
	assert.Equal(t, 10*time.Second, opts.ConnectTimeout)
	assert.True(t, opts.DisableWriteConfirm)
	assert.Equal(t, 5, opts.ResyncBurst)
	assert.Equal(t, uint32(256), opts.HistorySize)
	assert.Equal(t, cfg.Peripheral, cfg.Identity())
}
