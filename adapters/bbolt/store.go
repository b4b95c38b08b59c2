// Package bbolt stores aggregate streams in a single bbolt file.
//
// Layout: bucket "events" holds one bucket per aggregate type, which holds
// one bucket per aggregate id, whose keys are big-endian versions and whose
// values are JSON envelopes. The store-wide sequence is the "events"
// bucket's sequence.
package bbolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/codewandler/evbuf-go/core/es"
)

const eventsBucket = "events"

type EventStoreConfig struct {
	Path string       // Path of the database file
	Log  *slog.Logger // Log for diagnostics (optional)
	// Timeout for acquiring the file lock (default 1s).
	Timeout time.Duration
}

// EventStore implements es.EventStore. bbolt runs one write transaction at a
// time, which makes the expected version check and the append atomic.
type EventStore struct {
	db  *bbolt.DB
	log *slog.Logger
}

func Open(cfg EventStoreConfig) (*EventStore, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("bbolt path is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	path := filepath.Clean(cfg.Path)
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(eventsBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create %s bucket: %w", eventsBucket, err)
	}

	return &EventStore{
		db:  db,
		log: log.With(slog.String("store", "bbolt"), slog.String("path", path)),
	}, nil
}

func (s *EventStore) Close() error { return s.db.Close() }

func (s *EventStore) Load(ctx context.Context, aggType, aggID string, opts ...es.StoreLoadOption) ([]es.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	loadOpts := es.NewStoreLoadOptions(opts...)

	var out []es.Envelope
	err := s.db.View(func(tx *bbolt.Tx) error {
		stream := streamBucket(tx, aggType, aggID)
		if stream == nil {
			return nil
		}
		c := stream.Cursor()
		for k, v := c.Seek(versionKey(max(loadOpts.StartVersion, 1))); k != nil; k, v = c.Next() {
			var env es.Envelope
			if err := json.Unmarshal(v, &env); err != nil {
				return fmt.Errorf("decode envelope %s/%s version %d: %w", aggType, aggID, binary.BigEndian.Uint64(k), err)
			}
			out = append(out, env)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *EventStore) Append(ctx context.Context, aggType, aggID string, expected es.Version, events []es.Envelope) (*es.StoreAppendResult, error) {
	if err := es.CheckAppend(aggType, aggID, expected, events); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var lastSeq uint64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket([]byte(eventsBucket))
		types, err := root.CreateBucketIfNotExists([]byte(aggType))
		if err != nil {
			return err
		}
		stream, err := types.CreateBucketIfNotExists([]byte(aggID))
		if err != nil {
			return err
		}

		var current es.Version
		if k, _ := stream.Cursor().Last(); k != nil {
			current = es.Version(binary.BigEndian.Uint64(k))
		}
		if current != expected {
			return &es.ConcurrencyError{AggregateType: aggType, AggregateID: aggID, Expected: expected, Actual: current}
		}

		for _, ev := range events {
			if ev.Seq, err = root.NextSequence(); err != nil {
				return err
			}
			data, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			if err := stream.Put(versionKey(ev.Version), data); err != nil {
				return err
			}
			lastSeq = ev.Seq
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug(
		"append",
		slog.Group("agg", slog.String("type", aggType), slog.String("id", aggID)),
		slog.Uint64("last_seq", lastSeq),
		slog.Int("num_events", len(events)),
	)
	return &es.StoreAppendResult{LastSeq: lastSeq}, nil
}

func streamBucket(tx *bbolt.Tx, aggType, aggID string) *bbolt.Bucket {
	types := tx.Bucket([]byte(eventsBucket)).Bucket([]byte(aggType))
	if types == nil {
		return nil
	}
	return types.Bucket([]byte(aggID))
}

func versionKey(v es.Version) []byte {
	return binary.BigEndian.AppendUint64(make([]byte, 0, 8), v.Uint64())
}

var _ es.EventStore = (*EventStore)(nil)
