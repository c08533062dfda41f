package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Pipeline.Concurrency)
	assert.Equal(t, 30, cfg.Pipeline.RadiusMeters)
	assert.Equal(t, "out/geodata.json", cfg.Pipeline.OutputPath)
	assert.Equal(t, "append", cfg.Reconcile.FeaturePolicy)
	assert.Equal(t, "https://overpass.private.coffee/api/interpreter", cfg.Overpass.BaseURL)
	assert.Equal(t, 150*time.Second, cfg.Overpass.Timeout())
	assert.Equal(t, "https://api.postcodes.io/postcodes/", cfg.Postcodes.BaseURL)
	assert.Equal(t, "https://nominatim.openstreetmap.org/reverse", cfg.Nominatim.BaseURL)
	assert.Equal(t, 25*time.Second, cfg.Nominatim.Timeout())
	assert.Equal(t, time.Second, cfg.Nominatim.Cooldown())
	assert.NotEmpty(t, cfg.Nominatim.UserAgent)
	assert.Equal(t, "https://maps.googleapis.com/maps/api/geocode/json", cfg.Google.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Google.Timeout())
	assert.Equal(t, time.Hour, cfg.Cache.TTL())
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  database_url: facilities.db
log:
  level: debug
  format: console
pipeline:
  concurrency: 2
reconcile:
  feature_policy: skip_duplicate
google:
  key: abc
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "facilities.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 2, cfg.Pipeline.Concurrency)
	assert.Equal(t, "skip_duplicate", cfg.Reconcile.FeaturePolicy)
	assert.Equal(t, "abc", cfg.Google.Key)
	// Defaults still apply for unset values
	assert.Equal(t, 30, cfg.Pipeline.RadiusMeters)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))
	t.Setenv("FACILITY_STORE_DRIVER", "postgres")
	t.Setenv("FACILITY_STORE_DATABASE_URL", "postgres://localhost/facilities")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/facilities", cfg.Store.DatabaseURL)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("FACILITY_SERVER_PORT=3000\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("FACILITY_SERVER_PORT") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.Error(t, InitLogger(LogConfig{Level: "invalid", Format: "json"}))
}

func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Pipeline.Concurrency = 4
	cfg.Pipeline.RadiusMeters = 30
	cfg.Reconcile.FeaturePolicy = "append"
	cfg.Server.Port = 8080
	return cfg
}

func TestValidate(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("enrich"))
	assert.NoError(t, validDefaults().Validate("serve"))

	cfg := validDefaults()
	cfg.Store.Driver = "postgres"
	err := cfg.Validate("enrich")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	// query-only runs never touch the store
	assert.NoError(t, cfg.Validate("query"))
	cfg.Store.DatabaseURL = "postgres://localhost/test"
	assert.NoError(t, cfg.Validate("enrich"))
}

func TestValidate_CollectsErrors(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"
	cfg.Pipeline.Concurrency = 0
	cfg.Reconcile.FeaturePolicy = "merge"

	err := cfg.Validate("seed")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `store.driver "mysql"`)
	assert.Contains(t, err.Error(), "pipeline.concurrency")
	assert.Contains(t, err.Error(), "reconcile.feature_policy")
}

func TestValidate_ServePort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidate_UnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
