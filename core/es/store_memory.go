package es

import (
	"context"
	"log/slog"
	"slices"
	"sync"
)

type streamKey struct{ aggType, aggID string }

// InMemoryStore keeps streams in memory. It is meant for tests and the demo.
type InMemoryStore struct {
	mu      sync.Mutex
	log     *slog.Logger
	seq     uint64
	streams map[streamKey][]Envelope
}

func NewInMemoryStore(opts ...InMemoryStoreOption) *InMemoryStore {
	options := inMemoryStoreOpts{log: slog.Default()}
	for _, opt := range opts {
		opt.applyToInMemoryStore(&options)
	}
	return &InMemoryStore{
		log:     options.log.With(slog.String("store", "memory")),
		streams: map[streamKey][]Envelope{},
	}
}

func (s *InMemoryStore) Load(_ context.Context, aggType, aggID string, opts ...StoreLoadOption) ([]Envelope, error) {
	loadOpts := NewStoreLoadOptions(opts...)

	s.mu.Lock()
	defer s.mu.Unlock()

	// stream[i] holds version i+1
	stream := s.streams[streamKey{aggType, aggID}]
	from := max(loadOpts.StartVersion, 1)
	if from > Version(len(stream)) {
		return nil, nil
	}
	return slices.Clone(stream[from-1:]), nil
}

func (s *InMemoryStore) Append(_ context.Context, aggType, aggID string, expected Version, events []Envelope) (*StoreAppendResult, error) {
	if err := CheckAppend(aggType, aggID, expected, events); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := streamKey{aggType, aggID}
	stream := s.streams[key]
	if current := Version(len(stream)); current != expected {
		return nil, &ConcurrencyError{AggregateType: aggType, AggregateID: aggID, Expected: expected, Actual: current}
	}

	for _, e := range events {
		s.seq++
		e.Seq = s.seq
		stream = append(stream, e)
	}
	s.streams[key] = stream

	s.log.Debug(
		"append",
		slog.Group("agg", slog.String("type", aggType), slog.String("id", aggID)),
		slog.Uint64("last_seq", s.seq),
		slog.Int("num_events", len(events)),
	)

	return &StoreAppendResult{LastSeq: s.seq}, nil
}

var _ EventStore = (*InMemoryStore)(nil)
