package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ismart.yaml")

	cfg, err := LoadConfig(context.Background(), path)
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err, "default config should be written")

	assert.Equal(t, 3, cfg.Upload.Concurrency)
	assert.Equal(t, 80*time.Millisecond, cfg.Upload.RetickDelay)
	assert.Equal(t, 100*time.Millisecond, cfg.Upload.ProgressInterval)
	assert.Equal(t, 90*time.Second, cfg.Ingest.SimulatedDuration)
	assert.Equal(t, filepath.Join(dir, "data", "session.yaml"), cfg.Storage.Path)
	assert.Equal(t, filepath.Join(dir, "data", "staging"), cfg.Storage.StagingDir)
}

func TestLoadConfigRoundTripsDurations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ismart.yaml")

	cfg := DefaultConfig()
	cfg.Upload.RetickDelay = 250 * time.Millisecond
	cfg.Backend.BaseURL = "https://api.example.org"
	require.NoError(t, cfg.Save(path))

	loaded, err := LoadConfig(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, loaded.Upload.RetickDelay)
	assert.Equal(t, "https://api.example.org", loaded.Backend.BaseURL)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("ISMART_BACKEND_URL", "http://backend:9000")
	t.Setenv("ISMART_UPLOAD_CONCURRENCY", "5")
	t.Setenv("ISMART_PORT", "9100")
	t.Setenv("ISMART_STORAGE_DRIVER", "memory")
	t.Setenv("ISMART_BACKEND_TIMEOUT", "30s")

	cfg, err := LoadConfig(context.Background(), filepath.Join(t.TempDir(), "ismart.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "http://backend:9000", cfg.Backend.BaseURL)
	assert.Equal(t, 5, cfg.Upload.Concurrency)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 30*time.Second, cfg.Backend.Timeout)
}

func TestEnvironmentOverrideRejectsGarbage(t *testing.T) {
	t.Setenv("ISMART_UPLOAD_CONCURRENCY", "three")

	_, err := LoadConfig(context.Background(), filepath.Join(t.TempDir(), "ismart.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr bool
	}{
		{"defaults", func(*AppConfig) {}, false},
		{"zero concurrency", func(c *AppConfig) { c.Upload.Concurrency = 0 }, true},
		{"port too high", func(c *AppConfig) { c.Server.Port = 70000 }, true},
		{"empty base url", func(c *AppConfig) { c.Backend.BaseURL = " " }, true},
		{"unknown driver", func(c *AppConfig) { c.Storage.Driver = "postgres" }, true},
		{"duckdb driver", func(c *AppConfig) { c.Storage.Driver = "duckdb" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRecommendBaseURL(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, cfg.Backend.BaseURL, cfg.RecommendBaseURL())

	cfg.Backend.RecommendURL = "http://recs:8001"
	assert.Equal(t, "http://recs:8001", cfg.RecommendBaseURL())
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Storage.Path = filepath.Join(dir, "state", "session.yaml")
	cfg.Storage.StagingDir = filepath.Join(dir, "staging")

	require.NoError(t, cfg.EnsureDirectories())

	for _, p := range []string{filepath.Join(dir, "state"), cfg.Storage.StagingDir} {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
