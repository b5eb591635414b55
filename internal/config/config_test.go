package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "./snapshots", cfg.Ingest.Dir)
	assert.Equal(t, 500, cfg.Ingest.BatchSize)
	assert.Equal(t, 4, cfg.Ingest.Workers)
	assert.Equal(t, 7, cfg.Reconcile.WindowDays)
	assert.Equal(t, "sources.yaml", cfg.Reconcile.Catalog)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
  database_url: ./marketsync.db
reconcile:
  window_days: 14
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "./marketsync.db", cfg.Store.DatabaseURL)
	assert.Equal(t, 14, cfg.Reconcile.WindowDays)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	// Defaults still apply for unset values
	assert.Equal(t, 500, cfg.Ingest.BatchSize)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("MARKETSYNC_STORE_DRIVER", "postgres")
	t.Setenv("MARKETSYNC_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("MARKETSYNC_RECONCILE_WINDOW_DAYS", "3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Reconcile.WindowDays)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

func TestValidateReconcile_PostgresNeedsURL(t *testing.T) {
	cfg := &Config{}
	cfg.Store.Driver = "postgres"

	err := cfg.Validate("reconcile")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url")
}

func TestValidateReconcile_SQLiteNeedsNoURL(t *testing.T) {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"

	assert.NoError(t, cfg.Validate("reconcile"))
}

func TestValidateIngest_NeedsSomeLocation(t *testing.T) {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"

	err := cfg.Validate("ingest")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ingest.bucket or ingest.dir")

	cfg.Ingest.Dir = "./snapshots"
	assert.NoError(t, cfg.Validate("ingest"))
}
