// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/mobiletoly/go-recsync/recsync"
)

// Config represents the application configuration
type Config struct {
	Sync    SyncConfig    `toml:"sync"`
	Upload  UploadConfig  `toml:"upload"`
	Server  ServerConfig  `toml:"server"`
	Storage StorageConfig `toml:"storage"`
	Logging LoggingConfig `toml:"logging"`
	Control ControlConfig `toml:"control"`
}

// SyncConfig holds pull engine settings
type SyncConfig struct {
	Enabled            bool          `toml:"enabled"`
	MaxPages           int           `toml:"max_pages"`
	MaxDuration        time.Duration `toml:"max_duration"`
	PageLimit          int           `toml:"page_limit"`
	StalenessMinutes   int           `toml:"staleness_minutes"`
	TombstoneRetention time.Duration `toml:"tombstone_retention"`
}

// UploadConfig holds upload queue and loop settings
type UploadConfig struct {
	MaxAttempts     int           `toml:"max_attempts"`
	BackoffMin      time.Duration `toml:"backoff_min"`
	BackoffMax      time.Duration `toml:"backoff_max"`
	SyncedRetention time.Duration `toml:"synced_retention"`
}

// ServerConfig points at the sync backend
type ServerConfig struct {
	BaseURL string        `toml:"base_url"`
	Token   string        `toml:"token"`
	Timeout time.Duration `toml:"timeout"`
}

// StorageConfig selects where sync state lives
type StorageConfig struct {
	Driver      string `toml:"driver"` // sqlite or postgres
	DBPath      string `toml:"db_path"`
	DatabaseURL string `toml:"database_url"`
	Namespace   string `toml:"namespace"` // postgres state scope
	BlobDir     string `toml:"blob_dir"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// ControlConfig holds the local control API settings
type ControlConfig struct {
	Enabled   bool   `toml:"enabled"`
	Address   string `toml:"address"`
	Port      int    `toml:"port"`
	JWTSecret string `toml:"jwt_secret"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	engine := recsync.DefaultConfig()
	queue := recsync.DefaultQueueConfig()
	uploader := recsync.DefaultUploaderConfig()
	return &Config{
		Sync: SyncConfig{
			Enabled:            engine.Enabled,
			MaxPages:           engine.MaxPages,
			MaxDuration:        engine.MaxDuration,
			PageLimit:          engine.PageLimit,
			StalenessMinutes:   engine.StalenessMinutes,
			TombstoneRetention: recsync.DefaultTombstoneRetention,
		},
		Upload: UploadConfig{
			MaxAttempts:     queue.MaxAttempts,
			BackoffMin:      uploader.BackoffMin,
			BackoffMax:      uploader.BackoffMax,
			SyncedRetention: uploader.SyncedRetention,
		},
		Server: ServerConfig{
			BaseURL: "http://localhost:8080",
			Timeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Driver:    "sqlite",
			DBPath:    "recsync.db",
			Namespace: "default",
			BlobDir:   "recordings",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Control: ControlConfig{
			Enabled: false,
			Address: "127.0.0.1",
			Port:    8787,
		},
	}
}

// LoadFromFile loads configuration from a TOML file on top of the defaults
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	md, err := toml.DecodeFile(path, config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return config, nil
}

// Load loads configuration with the following precedence:
// 1. Default values
// 2. Config file (if specified)
// 3. .env file and environment variables
func Load(path string, envFiles ...string) (*Config, error) {
	config := DefaultConfig()
	if path != "" {
		var err error
		if config, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}

	// Variables already set in the environment take precedence over .env values.
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	config.applyEnv()

	return config, nil
}

func (c *Config) applyEnv() {
	c.Server.BaseURL = getEnv("RECSYNC_BASE_URL", c.Server.BaseURL)
	c.Server.Token = getEnv("RECSYNC_TOKEN", c.Server.Token)
	c.Storage.DBPath = getEnv("RECSYNC_DB_PATH", c.Storage.DBPath)
	if url := os.Getenv("RECSYNC_DATABASE_URL"); url != "" {
		c.Storage.DatabaseURL = url
		c.Storage.Driver = "postgres"
	}
	c.Control.JWTSecret = getEnv("RECSYNC_JWT_SECRET", c.Control.JWTSecret)
	c.Logging.Level = getEnv("RECSYNC_LOG_LEVEL", c.Logging.Level)
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.Engine().Validate(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if c.Sync.TombstoneRetention < 0 {
		return fmt.Errorf("sync tombstone_retention cannot be negative")
	}

	if c.Upload.MaxAttempts <= 0 {
		return fmt.Errorf("upload max_attempts must be positive")
	}
	if c.Upload.BackoffMin <= 0 || c.Upload.BackoffMax < c.Upload.BackoffMin {
		return fmt.Errorf("upload backoff must satisfy 0 < backoff_min <= backoff_max")
	}

	if c.Server.BaseURL == "" {
		return fmt.Errorf("server base_url must be specified")
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server timeout must be positive")
	}

	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.DBPath == "" {
			return fmt.Errorf("storage db_path must be specified for sqlite")
		}
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("storage database_url must be specified for postgres")
		}
		if c.Storage.Namespace == "" {
			return fmt.Errorf("storage namespace must be specified for postgres")
		}
	default:
		return fmt.Errorf("unsupported storage driver: %s (must be sqlite or postgres)", c.Storage.Driver)
	}
	if c.Storage.BlobDir == "" {
		return fmt.Errorf("storage blob_dir must be specified")
	}

	if c.Control.Enabled {
		if c.Control.Port <= 0 || c.Control.Port > 65535 {
			return fmt.Errorf("control port must be between 1 and 65535")
		}
		if c.Control.JWTSecret == "" {
			return fmt.Errorf("control jwt_secret must be set when the control API is enabled")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}
	return nil
}

// Engine returns the engine configuration carried by the [sync] section
func (c *Config) Engine() recsync.Config {
	return recsync.Config{
		Enabled:          c.Sync.Enabled,
		MaxPages:         c.Sync.MaxPages,
		MaxDuration:      c.Sync.MaxDuration,
		PageLimit:        c.Sync.PageLimit,
		StalenessMinutes: c.Sync.StalenessMinutes,
	}
}

// Queue returns the upload queue configuration
func (c *Config) Queue() recsync.QueueConfig {
	q := recsync.DefaultQueueConfig()
	q.MaxAttempts = c.Upload.MaxAttempts
	q.BackoffMax = c.Upload.BackoffMax
	return q
}

// Uploader returns the upload loop configuration
func (c *Config) Uploader() recsync.UploaderConfig {
	return recsync.UploaderConfig{
		BackoffMin:      c.Upload.BackoffMin,
		BackoffMax:      c.Upload.BackoffMax,
		SyncedRetention: c.Upload.SyncedRetention,
	}
}

// ControlAddr returns the listen address of the control API
func (c *Config) ControlAddr() string {
	return fmt.Sprintf("%s:%d", c.Control.Address, c.Control.Port)
}
