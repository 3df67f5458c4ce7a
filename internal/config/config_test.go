package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 10, cfg.Engine().MaxPages)
	require.Equal(t, 20*time.Second, cfg.Engine().MaxDuration)
	require.Equal(t, 5, cfg.Queue().MaxAttempts)
}

func TestLoadFromFile(t *testing.T) {
	path := writeFile(t, "recsync.toml", `
[sync]
max_pages = 3
max_duration = "5s"
staleness_minutes = 15

[upload]
backoff_max = "2m"

[storage]
db_path = "/tmp/lib.db"

[logging]
format = "json"
`)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Sync.MaxPages)
	require.Equal(t, 5*time.Second, cfg.Sync.MaxDuration)
	require.Equal(t, 15, cfg.Sync.StalenessMinutes)
	require.True(t, cfg.Sync.Enabled, "omitted keys keep defaults")
	require.Equal(t, 200, cfg.Sync.PageLimit)
	require.Equal(t, 2*time.Minute, cfg.Upload.BackoffMax)
	require.Equal(t, "/tmp/lib.db", cfg.Storage.DBPath)
	require.Equal(t, "json", cfg.Logging.Format)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile_Errors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.ErrorContains(t, err, "does not exist")

	_, err = LoadFromFile(writeFile(t, "bad.toml", "[sync\nmax_pages = 1"))
	require.ErrorContains(t, err, "failed to parse")

	_, err = LoadFromFile(writeFile(t, "typo.toml", "[sync]\nmax_pagez = 1\n"))
	require.ErrorContains(t, err, "sync.max_pagez")
}

func TestLoad_EnvOverrides(t *testing.T) {
	envFile := writeFile(t, ".env", "RECSYNC_TOKEN=from-dotenv\nRECSYNC_BASE_URL=https://dotenv.example\n")
	t.Setenv("RECSYNC_BASE_URL", "https://env.example")
	t.Setenv("RECSYNC_DATABASE_URL", "postgres://localhost/recsync")
	// godotenv sets variables without going through t.Setenv.
	t.Cleanup(func() { _ = os.Unsetenv("RECSYNC_TOKEN") })

	cfg, err := Load("", envFile)
	require.NoError(t, err)
	require.Equal(t, "https://env.example", cfg.Server.BaseURL, "real env wins over .env")
	require.Equal(t, "from-dotenv", cfg.Server.Token)
	require.Equal(t, "postgres", cfg.Storage.Driver)
	require.Equal(t, "postgres://localhost/recsync", cfg.Storage.DatabaseURL)
}

func TestLoad_MissingEnvFileIsFine(t *testing.T) {
	cfg, err := Load("", filepath.Join(t.TempDir(), "nope.env"))
	require.NoError(t, err)
	require.NotNil(t, cfg)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero pages", func(c *Config) { c.Sync.MaxPages = 0 }, "max pages"},
		{"negative staleness", func(c *Config) { c.Sync.StalenessMinutes = -1 }, "staleness"},
		{"backoff order", func(c *Config) { c.Upload.BackoffMax = time.Millisecond }, "backoff"},
		{"driver", func(c *Config) { c.Storage.Driver = "mysql" }, "unsupported storage driver"},
		{"postgres url", func(c *Config) { c.Storage.Driver = "postgres" }, "database_url"},
		{"postgres namespace", func(c *Config) {
			c.Storage.Driver, c.Storage.DatabaseURL, c.Storage.Namespace = "postgres", "postgres://x", ""
		}, "namespace"},
		{"control secret", func(c *Config) { c.Control.Enabled = true }, "jwt_secret"},
		{"log level", func(c *Config) { c.Logging.Level = "trace" }, "invalid log level"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			require.ErrorContains(t, cfg.Validate(), tc.want)
		})
	}
}
