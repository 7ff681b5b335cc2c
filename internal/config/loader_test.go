package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, int64(10<<20), cfg.Limits.MaxFileBytes)
	assert.Equal(t, 10000, cfg.Limits.MaxRows)
	assert.Equal(t, 10, cfg.Limits.ImportsPerHour)
	assert.Equal(t, 500, cfg.Limits.BatchSize)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	yaml := `
database:
  host: db.internal
  port: 6543
store:
  driver: sqlite
  sqlite_dsn: file:test.db
limits:
  batch_size: 100
security:
  csrf_ttl: 30m
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	t.Setenv("BULKIMPORT_LIMITS_MAX_ROWS", "250")
	t.Setenv("BULKIMPORT_DATABASE_PASSWORD", "from-env")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, "from-env", cfg.Database.Password)
	assert.Equal(t, StoreSQLite, cfg.Store.Driver)
	assert.Equal(t, 100, cfg.Limits.BatchSize)
	assert.Equal(t, 250, cfg.Limits.MaxRows)
	assert.Equal(t, 30*time.Minute, cfg.Security.CSRFTTL)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"driver":     func(c *Config) { c.Store.Driver = "mongo" },
		"batch":      func(c *Config) { c.Limits.BatchSize = 0 },
		"rows":       func(c *Config) { c.Limits.MaxRows = -1 },
		"rate":       func(c *Config) { c.Limits.ImportsPerHour = 0 },
		"secret":     func(c *Config) { c.Security.CSRFSecret = "short" },
		"cache":      func(c *Config) { c.Cache.Driver = "redis" },
		"sqlite dsn": func(c *Config) { c.Store.Driver = StoreSQLite; c.Store.SQLiteDSN = " " },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
