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

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "subletwatch.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "https://app.scrapingbee.com/api/v1", cfg.ScrapingBee.BaseURL)
	assert.InDelta(t, 2.0, cfg.ScrapingBee.RequestsPerSecond, 0.001)
	assert.Equal(t, "gb", cfg.ScrapingBee.CountryCode)
	assert.Equal(t, "https://api.postcodes.io", cfg.Postcodes.BaseURL)
	assert.Equal(t, 10, cfg.Postcodes.Concurrency)
	assert.Equal(t, 15, cfg.Scan.ChunkSize)
	assert.Equal(t, 30, cfg.Scan.ChunkPaceSecs)
	assert.Equal(t, 3, cfg.Scan.Concurrency)
	assert.Equal(t, []string{"airbnb", "spareroom", "gumtree"}, cfg.Scan.Platforms)
	assert.Equal(t, 2, cfg.Scan.InterStrategySecs)
	assert.Equal(t, 2000, cfg.Scan.ContentPreviewLen)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/subletwatch
log:
  level: debug
  format: console
server:
  port: 9090
scan:
  chunk_size: 5
  platforms:
    - airbnb
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Scan.ChunkSize)
	assert.Equal(t, []string{"airbnb"}, cfg.Scan.Platforms)
	// Defaults still apply for unset values
	assert.Equal(t, 30, cfg.Scan.ChunkPaceSecs)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("SUBLETWATCH_STORE_DRIVER", "sqlite")
	t.Setenv("SUBLETWATCH_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("SUBLETWATCH_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
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

func TestValidateScan_AllPresent(t *testing.T) {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "subletwatch.db"
	cfg.ScrapingBee.Key = "sb-key"

	assert.NoError(t, cfg.Validate("scan"))
}

func TestValidateScan_MissingKey(t *testing.T) {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "subletwatch.db"

	err := cfg.Validate("scan")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scrapingbee.key is required")
}

func TestValidateReview_NoProxyKeyNeeded(t *testing.T) {
	cfg := &Config{}
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = "postgres://localhost/subletwatch"

	assert.NoError(t, cfg.Validate("review"))
}

func TestValidate_BadDriver(t *testing.T) {
	cfg := &Config{}
	cfg.Store.Driver = "mysql"
	cfg.Store.DatabaseURL = "whatever"

	err := cfg.Validate("review")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
}
