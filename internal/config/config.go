// Package config loads configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	v "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/joho/godotenv"
)

// Config holds all client configuration.
type Config struct {
	// Remote store
	ServerURL   string
	HTTPTimeout time.Duration

	// Local state
	CacheDir    string
	SessionFile string

	// Sync engine
	BatchSize   int
	SnapshotTTL time.Duration
	ThumbSize   int

	// Logging
	LogLevel  string
	LogFormat string

	// Metrics listener, empty to disable
	MetricsAddr string
}

// Load reads configuration from environment variables with defaults.
// A .env file in the working directory, if present, is loaded first;
// variables already set in the environment win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		ServerURL:   envOr("SCREENIE_SERVER_URL", ""),
		HTTPTimeout: envDuration("SCREENIE_HTTP_TIMEOUT", 30*time.Second),
		CacheDir:    envOr("SCREENIE_CACHE_DIR", defaultDir("cache")),
		SessionFile: envOr("SCREENIE_SESSION_FILE", defaultSessionFile()),
		BatchSize:   envInt("SCREENIE_BATCH_SIZE", 5),
		SnapshotTTL: envDuration("SCREENIE_SNAPSHOT_TTL", 5*time.Second),
		ThumbSize:   envInt("SCREENIE_THUMB_SIZE", 400),
		LogLevel:    envOr("LOG_LEVEL", "info"),
		LogFormat:   envOr("LOG_FORMAT", "console"),
		MetricsAddr: envOr("METRICS_ADDR", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for obvious mistakes.
func (c Config) Validate() error {
	return v.ValidateStruct(&c,
		v.Field(&c.ServerURL, v.Required.Error("SCREENIE_SERVER_URL is required"), is.URL),
		v.Field(&c.BatchSize, v.Min(1)),
		v.Field(&c.SnapshotTTL, v.Min(time.Duration(0))),
		v.Field(&c.ThumbSize, v.Min(16)),
		v.Field(&c.CacheDir, v.Required),
		v.Field(&c.LogFormat, v.In("json", "console")),
	)
}

func defaultDir(sub string) string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "screenie", sub)
}

func defaultSessionFile() string {
	base, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "screenie", "session.json")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
