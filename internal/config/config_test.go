package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/finshlink/internal/config"
	"codeberg.org/mutker/finshlink/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "finshlink.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load([]string{"--auto-connect=false"})
	require.NoError(t, err)

	assert.Equal(t, 1000000, cfg.BaudRate)
	assert.Equal(t, time.Second, cfg.Interval())
	assert.Equal(t, 500*time.Millisecond, cfg.ResponseTimeout())
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, 256, cfg.HistorySize)
	assert.Equal(t, "127.0.0.1:9360", cfg.StatusAddr)
	assert.False(t, cfg.Telemetry)
	assert.Equal(t, "beijing", cfg.Weather.City)
	assert.Equal(t, "1010", cfg.Stock.Index)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `
device = "/dev/ttyACM0"
baud_rate = 115200
interval_ms = 2000
response_timeout_ms = 800

[weather]
enabled = true
city = "shanghai"
api_key = "secret"

[stock]
enabled = true
index = "1112"
`)

	cfg, err := config.Load([]string{"--config", path})
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyACM0", cfg.Device)
	assert.Equal(t, 115200, cfg.BaudRate)
	assert.Equal(t, 2*time.Second, cfg.Interval())
	assert.True(t, cfg.Weather.Enabled)
	assert.Equal(t, "shanghai", cfg.Weather.City)
	assert.True(t, cfg.Stock.Enabled)
	assert.Equal(t, "1112", cfg.Stock.Index)
}

func TestFlagsOverrideFile(t *testing.T) {
	path := writeConfigFile(t, `
device = "/dev/ttyACM0"
baud_rate = 115200
`)

	cfg, err := config.Load([]string{"--config", path, "--baud-rate", "1000000", "--device", "/dev/ttyUSB3"})
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyUSB3", cfg.Device)
	assert.Equal(t, 1000000, cfg.BaudRate)
}

func TestExplicitConfigFileMustExist(t *testing.T) {
	_, err := config.Load([]string{"--config", "/nonexistent/finshlink.toml"})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, config.ErrReadFailed))
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *config.Config {
		return &config.Config{
			Device:            "/dev/ttyUSB0",
			BaudRate:          1000000,
			IntervalMs:        1000,
			ResponseTimeoutMs: 500,
			HistorySize:       16,
		}
	}

	cases := map[string]struct {
		mutate func(*config.Config)
		code   errors.ErrorCode
	}{
		"zero baud": {
			mutate: func(c *config.Config) { c.BaudRate = 0 },
			code:   config.ErrInvalidBaudRate,
		},
		"interval too short": {
			mutate: func(c *config.Config) { c.IntervalMs = 50 },
			code:   config.ErrInvalidInterval,
		},
		"timeout exceeds interval": {
			mutate: func(c *config.Config) { c.ResponseTimeoutMs = 1500 },
			code:   config.ErrInvalidTimeout,
		},
		"negative retries": {
			mutate: func(c *config.Config) { c.MaxRetries = -1 },
			code:   config.ErrInvalidRetries,
		},
		"auto connect without device": {
			mutate: func(c *config.Config) { c.AutoConnect = true; c.Device = "" },
			code:   config.ErrMissingDevice,
		},
		"telemetry without db path": {
			mutate: func(c *config.Config) { c.Telemetry = true; c.TelemetryDBPath = "" },
			code:   config.ErrMissingDBPath,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)

			err := config.Validate(cfg)
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, tc.code))
		})
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg, err := config.Load([]string{"--device", "/dev/ttyUSB0"})
	require.NoError(t, err)
	assert.NoError(t, config.Validate(cfg))
}

func TestEnvConfigFileOverride(t *testing.T) {
	path := writeConfigFile(t, `device = "/dev/ttyS9"`)
	t.Setenv("FINSHLINK_CONFIG", path)

	cfg, err := config.Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyS9", cfg.Device)
}
