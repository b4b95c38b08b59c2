package config

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromMap_Defaults(t *testing.T) {
	cfg, err := FromMap(map[string]string{})
	require.NoError(t, err)
	require.Equal(t, Config{
		Store:     StoreMemory,
		Path:      "evbuf.db",
		NatsURL:   "nats://127.0.0.1:4222",
		LogLevel:  slog.LevelInfo,
		LogFormat: "text",
		CacheSize: 1000,
	}, cfg)
}

func TestFromMap(t *testing.T) {
	cfg, err := FromMap(map[string]string{
		"EVBUF_STORE":        "sqlite",
		"EVBUF_PATH":         "/tmp/x.db",
		"EVBUF_LOG_LEVEL":    "debug",
		"EVBUF_METRICS_ADDR": ":9090",
		"EVBUF_CACHE_SIZE":   "0",
	})
	require.NoError(t, err)
	require.Equal(t, StoreSQLite, cfg.Store)
	require.Equal(t, "/tmp/x.db", cfg.Path)
	require.Equal(t, slog.LevelDebug, cfg.LogLevel)
	require.Equal(t, ":9090", cfg.MetricsAddr)
	require.Zero(t, cfg.CacheSize)
}

func TestFromMap_Invalid(t *testing.T) {
	for name, environ := range map[string]map[string]string{
		"unknown store":  {"EVBUF_STORE": "postgres"},
		"empty path":     {"EVBUF_STORE": "bbolt", "EVBUF_PATH": " "},
		"negative cache": {"EVBUF_CACHE_SIZE": "-1"},
		"bad level":      {"EVBUF_LOG_LEVEL": "loud"},
		"bad format":     {"EVBUF_LOG_FORMAT": "xml"},
		"bad cache size": {"EVBUF_CACHE_SIZE": "many"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := FromMap(environ)
			require.Error(t, err)
		})
	}
}

func TestConfig_Logger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{LogLevel: slog.LevelWarn, LogFormat: "json"}
	log := cfg.Logger(&buf)
	log.Info("hidden")
	log.Warn("shown")
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), `"msg":"shown"`)
}
