package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codewandler/evbuf-go/adapters/bbolt"
	"github.com/codewandler/evbuf-go/adapters/nats"
	"github.com/codewandler/evbuf-go/adapters/sqlite"
	"github.com/codewandler/evbuf-go/core/es"
	"github.com/codewandler/evbuf-go/internal/config"
)

// openStore returns the configured event store and the function that
// releases it.
func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (es.EventStore, func() error, error) {
	nop := func() error { return nil }

	switch cfg.Store {
	case config.StoreMemory:
		return es.NewInMemoryStore(es.WithLogger(log)), nop, nil
	case config.StoreSQLite:
		s, err := sqlite.Open(ctx, sqlite.EventStoreConfig{Path: cfg.Path, Log: log})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.StoreBBolt:
		s, err := bbolt.Open(bbolt.EventStoreConfig{Path: cfg.Path, Log: log})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.StoreNATS:
		s, err := nats.NewEventStore(ctx, nats.EventStoreConfig{
			Connect:       nats.ConnectURL(cfg.NatsURL),
			Log:           log,
			SubjectPrefix: "evbuf.demo",
			StreamName:    "EVBUF_DEMO",
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
}
