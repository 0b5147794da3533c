package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 9090, cfg.Server.GRPCPort)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Empty(t, cfg.EventBus.URL)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Equal(t, 2*time.Second, cfg.Coverage.Timeout)
	assert.Equal(t, 50.0, cfg.Coverage.Scoring.PrimaryBonus)
	assert.Equal(t, 9091, cfg.Telemetry.MetricsPort)
	require.Len(t, cfg.Catalog.Packages, 3)
	assert.Equal(t, "home-30", cfg.Catalog.Packages[0].ID)
	assert.Equal(t, []string{"residential"}, cfg.Catalog.Packages[0].CustomerTypes)
	assert.True(t, cfg.Catalog.Packages[0].Active)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	t.Setenv("NETMAP_SERVER_PORT", "9999")
	t.Setenv("NETMAP_DATABASE_DRIVER", "postgres")
	t.Setenv("NETMAP_DATABASE_DSN", "postgres://netmap@localhost/netmap?sslmode=disable")
	t.Setenv("NETMAP_TELEMETRY_ENABLED", "false")
	t.Setenv("NETMAP_LOGGING_LEVEL", "debug")
	t.Setenv("NETMAP_COVERAGE_TIMEOUT", "500ms")
	t.Setenv("NETMAP_COVERAGE_SCORING_PRIMARY_BONUS", "10")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://netmap@localhost/netmap?sslmode=disable", cfg.Database.DSN)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 500*time.Millisecond, cfg.Coverage.Timeout)
	assert.Equal(t, 10.0, cfg.Coverage.Scoring.PrimaryBonus)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netmap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 8181
redis:
  addr: localhost:6379
catalog:
  packages:
    - id: fiber-50
      name: Fiber 50
      download_mbps: 50
      monthly_price: 300000
      customer_types: [residential, soho]
      zone_types: [residential]
      active: true
`), 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 8181, cfg.Server.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	require.Len(t, cfg.Catalog.Packages, 1)
	assert.Equal(t, []string{"residential", "soho"}, cfg.Catalog.Packages[0].CustomerTypes)
	assert.Equal(t, []string{"residential"}, cfg.Catalog.Packages[0].ZoneTypes)
}

func TestValidate(t *testing.T) {
	base, err := Load()
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "sqlite" }},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres"; c.Database.DSN = "" }},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
		{"zero timeout", func(c *Config) { c.Coverage.Timeout = 0 }},
		{"no primary bonus", func(c *Config) { c.Coverage.Scoring.PrimaryBonus = 0 }},
		{"factor above one", func(c *Config) { c.Coverage.Scoring.DegradedFactor = 1.5 }},
		{"rate limit without burst", func(c *Config) { c.RateLimit.Burst = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *base
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
	assert.NoError(t, base.Validate())
}
