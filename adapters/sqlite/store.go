// Package sqlite stores aggregate streams in a SQLite database using the
// pure Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/codewandler/evbuf-go/core/es"
)

// dsnParams enables WAL and makes every transaction take the write lock
// up front, so concurrent appends queue on busy_timeout instead of failing
// on lock upgrade.
const dsnParams = "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"

type EventStoreConfig struct {
	Path string       // Path of the database file; ":memory:" is not supported
	Log  *slog.Logger // Log for diagnostics (optional)
}

// EventStore implements es.EventStore on a single events table. The unique
// (aggregate_type, aggregate_id, version) key backs the expected version
// check.
type EventStore struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens or creates the database at cfg.Path and applies pending
// migrations.
func Open(ctx context.Context, cfg EventStoreConfig) (*EventStore, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if strings.HasPrefix(cfg.Path, ":memory:") {
		return nil, errors.New("sqlite in-memory databases are not supported")
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	path := filepath.Clean(cfg.Path)
	log = log.With(slog.String("store", "sqlite"), slog.String("path", path))

	db, err := sql.Open("sqlite", path+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	applied, err := migrate(ctx, db, migrationFS, "migrations")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	if len(applied) > 0 {
		log.Info("applied migrations", slog.Any("migrations", applied))
	}

	return &EventStore{db: db, log: log}, nil
}

func (s *EventStore) Close() error { return s.db.Close() }

func (s *EventStore) Load(ctx context.Context, aggType, aggID string, opts ...es.StoreLoadOption) ([]es.Envelope, error) {
	loadOpts := es.NewStoreLoadOptions(opts...)

	rows, err := s.db.QueryContext(ctx, `
SELECT seq, id, version, event_type, occurred_at, data, checksum
FROM events
WHERE aggregate_type = ? AND aggregate_id = ? AND version >= ?
ORDER BY version`,
		aggType, aggID, int64(loadOpts.StartVersion),
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []es.Envelope
	for rows.Next() {
		var (
			env        = es.Envelope{AggregateType: aggType, AggregateID: aggID}
			version    int64
			occurredAt int64
			data       []byte
		)
		if err := rows.Scan(&env.Seq, &env.ID, &version, &env.Type, &occurredAt, &data, &env.Checksum); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		env.Version = es.Version(version)
		env.OccurredAt = time.Unix(0, occurredAt).UTC()
		env.Data = data
		out = append(out, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return out, nil
}

func (s *EventStore) Append(ctx context.Context, aggType, aggID string, expected es.Version, events []es.Envelope) (*es.StoreAppendResult, error) {
	if err := es.CheckAppend(aggType, aggID, expected, events); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := currentVersion(ctx, tx, aggType, aggID)
	if err != nil {
		return nil, err
	}
	if current != expected {
		return nil, &es.ConcurrencyError{AggregateType: aggType, AggregateID: aggID, Expected: expected, Actual: current}
	}

	var lastSeq int64
	for _, ev := range events {
		res, err := tx.ExecContext(ctx, `
INSERT INTO events (id, aggregate_type, aggregate_id, version, event_type, occurred_at, data, checksum)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.ID, aggType, aggID, int64(ev.Version), ev.Type, ev.OccurredAt.UnixNano(), []byte(ev.Data), ev.Checksum,
		)
		if err != nil {
			if isConstraintError(err) {
				return nil, s.conflict(ctx, aggType, aggID, expected, err)
			}
			return nil, fmt.Errorf("insert event version %d: %w", ev.Version, err)
		}
		if lastSeq, err = res.LastInsertId(); err != nil {
			return nil, fmt.Errorf("read event seq: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		if isConstraintError(err) {
			return nil, s.conflict(ctx, aggType, aggID, expected, err)
		}
		return nil, fmt.Errorf("commit: %w", err)
	}

	s.log.Debug(
		"append",
		slog.Group("agg", slog.String("type", aggType), slog.String("id", aggID)),
		slog.Int64("last_seq", lastSeq),
		slog.Int("num_events", len(events)),
	)
	return &es.StoreAppendResult{LastSeq: uint64(lastSeq)}, nil
}

// conflict turns a unique key violation into a *es.ConcurrencyError. A
// duplicate event id is reported as is.
func (s *EventStore) conflict(ctx context.Context, aggType, aggID string, expected es.Version, cause error) error {
	if strings.Contains(cause.Error(), "events.id") {
		return fmt.Errorf("duplicate event id: %w", cause)
	}
	actual, err := currentVersion(ctx, s.db, aggType, aggID)
	if err != nil {
		return errors.Join(cause, err)
	}
	return &es.ConcurrencyError{AggregateType: aggType, AggregateID: aggID, Expected: expected, Actual: actual}
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func currentVersion(ctx context.Context, q queryRower, aggType, aggID string) (es.Version, error) {
	var v int64
	err := q.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_type = ? AND aggregate_id = ?",
		aggType, aggID,
	).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("read stream version: %w", err)
	}
	return es.Version(v), nil
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

var _ es.EventStore = (*EventStore)(nil)
