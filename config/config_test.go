package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.GreaterOrEqual(t, cfg.Scheduler.MaxPoolSize, cfg.Scheduler.CorePoolSize)
	assert.True(t, cfg.Breaker.Enabled)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Server.Port, cfg.Server.Port)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blyfast.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
  shutdown_timeout: 5s
scheduler:
  core_pool_size: 3
  max_pool_size: 6
  queue_capacity: 100
logging:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 3, cfg.Scheduler.CorePoolSize)
	assert.Equal(t, 6, cfg.Scheduler.MaxPoolSize)
	assert.Equal(t, 100, cfg.Scheduler.QueueCapacity)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Untouched fields keep their defaults.
	assert.Equal(t, Default().Server.MetricsPath, cfg.Server.MetricsPath)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BLYFAST_PORT", "7070")
	t.Setenv("BLYFAST_LOG_LEVEL", "warn")
	t.Setenv("BLYFAST_CORE_POOL_SIZE", "2")
	t.Setenv("BLYFAST_MAX_POOL_SIZE", "4")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 2, cfg.Scheduler.CorePoolSize)
	assert.Equal(t, 4, cfg.Scheduler.MaxPoolSize)
}

func TestEnvOverridesBeatFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blyfast.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o644))
	t.Setenv("BLYFAST_PORT", "7070")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		mod  func(*Config)
	}{
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"zero core pool", func(c *Config) { c.Scheduler.CorePoolSize = 0 }},
		{"max below core", func(c *Config) {
			c.Scheduler.CorePoolSize = 4
			c.Scheduler.MaxPoolSize = 2
		}},
		{"negative queue", func(c *Config) { c.Scheduler.QueueCapacity = -1 }},
		{"breaker threshold", func(c *Config) { c.Breaker.FailureRateThreshold = 1.5 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mod(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
