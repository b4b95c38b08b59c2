package es

import (
	"context"
	"errors"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	ErrStoreNoEvents       = errors.New("no events to store")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// ConcurrencyError is returned by Append when the stream moved past the
// expected version.
type ConcurrencyError struct {
	AggregateType string
	AggregateID   string
	Expected      Version
	Actual        Version
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf(
		"%s: %s/%s expected version %d, stream is at %d",
		ErrConcurrencyConflict, e.AggregateType, e.AggregateID, e.Expected, e.Actual,
	)
}

func (e *ConcurrencyError) Is(target error) bool { return target == ErrConcurrencyConflict }

type (
	valueOption[T any] struct{ v T }
	startVersionOption valueOption[Version]

	StoreLoadOptions struct {
		StartVersion Version
	}

	StoreLoadOption interface {
		ApplyToStoreLoadOptions(*StoreLoadOptions)
	}
)

// WithStartAtVersion loads only events with version >= v.
func WithStartAtVersion(v Version) StoreLoadOption { return startVersionOption{v} }

func (o startVersionOption) ApplyToStoreLoadOptions(opts *StoreLoadOptions) { opts.StartVersion = o.v }

// NewStoreLoadOptions applies opts. Store implementations call it in Load.
func NewStoreLoadOptions(opts ...StoreLoadOption) StoreLoadOptions {
	var o StoreLoadOptions
	for _, opt := range opts {
		opt.ApplyToStoreLoadOptions(&o)
	}
	return o
}

type (
	StoreAppendResult struct {
		// LastSeq is the store sequence of the last appended event.
		LastSeq uint64
	}

	// EventStore persists aggregate streams.
	//
	// Load returns the stored envelopes of one stream in version order; an
	// unknown stream yields no envelopes and no error. Append stores events
	// atomically if the stream is at version expected, and fails with a
	// *ConcurrencyError otherwise.
	EventStore interface {
		Load(ctx context.Context, aggType string, aggID string, opts ...StoreLoadOption) ([]Envelope, error)
		Append(ctx context.Context, aggType string, aggID string, expected Version, events []Envelope) (*StoreAppendResult, error)
	}
)

// CheckAppend validates an append request before a store touches its
// storage: at least one valid event, all of them for aggType/aggID and
// numbered expected+1, expected+2 and so on.
func CheckAppend(aggType, aggID string, expected Version, events []Envelope) error {
	if len(events) == 0 {
		return ErrStoreNoEvents
	}
	for i, e := range events {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
		if e.AggregateType != aggType || e.AggregateID != aggID {
			return fmt.Errorf("event %d: belongs to %s/%s, not %s/%s", i, e.AggregateType, e.AggregateID, aggType, aggID)
		}
		if want := expected + Version(i+1); e.Version != want {
			return fmt.Errorf("event %d: version %d, want %d", i, e.Version, want)
		}
	}
	return nil
}

// DefaultIDGenerator returns a new nanoid.
func DefaultIDGenerator() string { return gonanoid.Must() }

// AppendEvents encodes events with registry and appends them to the stream
// aggType/aggID at expected. It bypasses aggregates and is meant for
// seeding and tests.
func AppendEvents(
	ctx context.Context,
	store EventStore,
	registry *TypeRegistry,
	aggType string,
	aggID string,
	expected Version,
	events ...any,
) (*StoreAppendResult, error) {
	if len(events) == 0 {
		return nil, ErrStoreNoEvents
	}
	envs := make([]Envelope, 0, len(events))
	for i, ev := range events {
		name, data, err := registry.Encode(ev)
		if err != nil {
			return nil, err
		}
		envs = append(envs, Envelope{
			ID:            DefaultIDGenerator(),
			Type:          name,
			AggregateType: aggType,
			AggregateID:   aggID,
			Version:       expected + Version(i+1),
			OccurredAt:    time.Now(),
			Data:          data,
		}.Seal())
	}
	return store.Append(ctx, aggType, aggID, expected, envs)
}

type instrumentedStore struct {
	EventStore
	metrics ESMetrics
}

// InstrumentStore records load and append durations and appended event
// counts of store in m.
func InstrumentStore(store EventStore, m ESMetrics) EventStore {
	return &instrumentedStore{EventStore: store, metrics: m}
}

func (s *instrumentedStore) Load(ctx context.Context, aggType string, aggID string, opts ...StoreLoadOption) ([]Envelope, error) {
	defer s.metrics.StoreLoadDuration(aggType).ObserveDuration()
	return s.EventStore.Load(ctx, aggType, aggID, opts...)
}

func (s *instrumentedStore) Append(ctx context.Context, aggType string, aggID string, expected Version, events []Envelope) (*StoreAppendResult, error) {
	t := s.metrics.StoreAppendDuration(aggType)
	res, err := s.EventStore.Append(ctx, aggType, aggID, expected, events)
	t.ObserveDuration()
	if err == nil {
		s.metrics.EventsAppended(aggType, len(events))
	}
	return res, err
}
