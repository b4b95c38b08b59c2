// Package config reads process configuration from the environment.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/caarlos0/env/v11"
)

const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreBBolt  = "bbolt"
	StoreNATS   = "nats"
)

var stores = []string{StoreMemory, StoreSQLite, StoreBBolt, StoreNATS}

type Config struct {
	// Store selects the event store backend.
	Store string `env:"EVBUF_STORE" envDefault:"memory"`
	// Path is the database file of the sqlite and bbolt stores.
	Path        string     `env:"EVBUF_PATH" envDefault:"evbuf.db"`
	NatsURL     string     `env:"NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	LogLevel    slog.Level `env:"EVBUF_LOG_LEVEL" envDefault:"info"`
	LogFormat   string     `env:"EVBUF_LOG_FORMAT" envDefault:"text"`
	MetricsAddr string     `env:"EVBUF_METRICS_ADDR"`
	// CacheSize of the repository LRU; 0 disables the cache.
	CacheSize int `env:"EVBUF_CACHE_SIZE" envDefault:"1000"`
}

// Load parses the process environment.
func Load() (Config, error) {
	return parse(env.Options{})
}

// FromMap parses environ instead of the process environment.
func FromMap(environ map[string]string) (Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](opts)
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Store = strings.ToLower(cfg.Store)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if !slices.Contains(stores, c.Store) {
		return fmt.Errorf("EVBUF_STORE: unknown store %q, want one of %s", c.Store, strings.Join(stores, ", "))
	}
	if (c.Store == StoreSQLite || c.Store == StoreBBolt) && strings.TrimSpace(c.Path) == "" {
		return fmt.Errorf("EVBUF_PATH is required for the %s store", c.Store)
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("EVBUF_CACHE_SIZE must not be negative, got %d", c.CacheSize)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("EVBUF_LOG_FORMAT: unknown format %q", c.LogFormat)
	}
	return nil
}

// Logger returns a logger writing to w in the configured format and level.
func (c Config) Logger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
