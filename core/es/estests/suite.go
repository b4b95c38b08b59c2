// Package estests holds the conformance suite every EventStore must pass and
// the end-to-end tests of the event-sourcing core.
package estests

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/evbuf-go/core/es"
	"github.com/codewandler/evbuf-go/core/es/estests/domain"
)

// NewStoreFunc returns an empty store. It is called once per subtest.
type NewStoreFunc func(t *testing.T) es.EventStore

// RunStoreSuite checks the EventStore contract against the stores created
// by newStore.
func RunStoreSuite(t *testing.T, newStore NewStoreFunc) {
	t.Run("load unknown stream", func(t *testing.T) {
		s := newStore(t)
		envs, err := s.Load(t.Context(), "test_agg", "missing")
		require.NoError(t, err)
		require.Empty(t, envs)
	})

	t.Run("append and load", func(t *testing.T) {
		s := newStore(t)
		aggID := gonanoid.Must()
		in := envelopes("test_agg", aggID, 0, 3)

		res, err := s.Append(t.Context(), "test_agg", aggID, 0, in)
		require.NoError(t, err)
		require.NotNil(t, res)
		require.NotZero(t, res.LastSeq)

		out, err := s.Load(t.Context(), "test_agg", aggID)
		require.NoError(t, err)
		require.Len(t, out, 3)

		var lastSeq uint64
		for i, got := range out {
			want := in[i]
			require.Equal(t, want.ID, got.ID)
			require.Equal(t, want.Version, got.Version)
			require.Equal(t, want.AggregateType, got.AggregateType)
			require.Equal(t, want.AggregateID, got.AggregateID)
			require.Equal(t, want.Type, got.Type)
			require.Equal(t, want.Checksum, got.Checksum)
			require.JSONEq(t, string(want.Data), string(got.Data))
			require.True(t, want.OccurredAt.Equal(got.OccurredAt), "occurred at %s != %s", want.OccurredAt, got.OccurredAt)
			require.NoError(t, got.Verify())
			require.Greater(t, got.Seq, lastSeq)
			lastSeq = got.Seq
		}
		require.Equal(t, res.LastSeq, lastSeq)
	})

	t.Run("load from version", func(t *testing.T) {
		s := newStore(t)
		aggID := gonanoid.Must()
		_, err := s.Append(t.Context(), "test_agg", aggID, 0, envelopes("test_agg", aggID, 0, 5))
		require.NoError(t, err)

		out, err := s.Load(t.Context(), "test_agg", aggID, es.WithStartAtVersion(4))
		require.NoError(t, err)
		require.Len(t, out, 2)
		require.Equal(t, es.Version(4), out[0].Version)
		require.Equal(t, es.Version(5), out[1].Version)

		out, err = s.Load(t.Context(), "test_agg", aggID, es.WithStartAtVersion(6))
		require.NoError(t, err)
		require.Empty(t, out)
	})

	t.Run("append continues a stream", func(t *testing.T) {
		s := newStore(t)
		aggID := gonanoid.Must()
		_, err := s.Append(t.Context(), "test_agg", aggID, 0, envelopes("test_agg", aggID, 0, 2))
		require.NoError(t, err)
		_, err = s.Append(t.Context(), "test_agg", aggID, 2, envelopes("test_agg", aggID, 2, 2))
		require.NoError(t, err)

		out, err := s.Load(t.Context(), "test_agg", aggID)
		require.NoError(t, err)
		require.Len(t, out, 4)
		for i, e := range out {
			require.Equal(t, es.Version(i+1), e.Version)
		}
	})

	t.Run("concurrency conflict", func(t *testing.T) {
		s := newStore(t)
		aggID := gonanoid.Must()
		_, err := s.Append(t.Context(), "test_agg", aggID, 0, envelopes("test_agg", aggID, 0, 2))
		require.NoError(t, err)

		for _, expected := range []es.Version{0, 1, 3} {
			_, err = s.Append(t.Context(), "test_agg", aggID, expected, envelopes("test_agg", aggID, expected, 1))
			require.ErrorIs(t, err, es.ErrConcurrencyConflict, "expected %d", expected)

			var cerr *es.ConcurrencyError
			require.ErrorAs(t, err, &cerr)
			require.Equal(t, expected, cerr.Expected)
			require.Equal(t, es.Version(2), cerr.Actual)
			require.Equal(t, aggID, cerr.AggregateID)
		}

		out, err := s.Load(t.Context(), "test_agg", aggID)
		require.NoError(t, err)
		require.Len(t, out, 2)
	})

	t.Run("invalid batch is rejected", func(t *testing.T) {
		s := newStore(t)
		aggID := gonanoid.Must()

		_, err := s.Append(t.Context(), "test_agg", aggID, 0, nil)
		require.ErrorIs(t, err, es.ErrStoreNoEvents)

		gap := envelopes("test_agg", aggID, 0, 3)
		gap = append(gap[:1], gap[2])
		_, err = s.Append(t.Context(), "test_agg", aggID, 0, gap)
		require.Error(t, err)
		require.NotErrorIs(t, err, es.ErrConcurrencyConflict)

		foreign := envelopes("test_agg", "other", 0, 1)
		_, err = s.Append(t.Context(), "test_agg", aggID, 0, foreign)
		require.Error(t, err)

		out, err := s.Load(t.Context(), "test_agg", aggID)
		require.NoError(t, err)
		require.Empty(t, out)
	})

	t.Run("streams are isolated", func(t *testing.T) {
		s := newStore(t)
		aggID := gonanoid.Must()
		_, err := s.Append(t.Context(), "test_agg", aggID, 0, envelopes("test_agg", aggID, 0, 2))
		require.NoError(t, err)
		_, err = s.Append(t.Context(), "other_agg", aggID, 0, envelopes("other_agg", aggID, 0, 1))
		require.NoError(t, err)
		_, err = s.Append(t.Context(), "test_agg", aggID+"x", 0, envelopes("test_agg", aggID+"x", 0, 3))
		require.NoError(t, err)

		out, err := s.Load(t.Context(), "test_agg", aggID)
		require.NoError(t, err)
		require.Len(t, out, 2)

		out, err = s.Load(t.Context(), "other_agg", aggID)
		require.NoError(t, err)
		require.Len(t, out, 1)
	})

	t.Run("concurrent appends", func(t *testing.T) {
		s := newStore(t)
		aggID := gonanoid.Must()

		const n = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			wins      int
			conflicts int
		)
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Append(t.Context(), "test_agg", aggID, 0, envelopes("test_agg", aggID, 0, 1))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case errors.Is(err, es.ErrConcurrencyConflict):
					conflicts++
				default:
					assert.NoError(t, err)
				}
			}()
		}
		wg.Wait()

		require.Equal(t, 1, wins)
		require.Equal(t, n-1, conflicts)
	})

	t.Run("repository round trip", func(t *testing.T) {
		s := newStore(t)
		repo := es.NewRepository[domain.TestAgg, string](s, domain.Registry(), domain.Validator)
		aggID := gonanoid.Must()

		res, err := repo.New(aggID).IncBy(5)
		a := es.RequireApplied(t, res, err)
		res, err = a.IncBy(2)
		a = es.RequireApplied(t, res, err)

		saved, err := repo.Save(t.Context(), a)
		require.NoError(t, err)
		require.False(t, saved.HasUncommitted())

		loaded, err := repo.Load(t.Context(), aggID)
		require.NoError(t, err)
		require.Equal(t, 7, loaded.Count())
		require.Equal(t, es.Version(2), loaded.Version())
		require.Equal(t, es.Version(2), loaded.CommittedVersion())
		require.Equal(t, 2, loaded.NumIncrements)
	})
}

func envelopes(aggType, aggID string, after es.Version, n int) []es.Envelope {
	out := make([]es.Envelope, 0, n)
	now := time.Now().UTC().Truncate(time.Microsecond)
	for i := range n {
		data, _ := json.Marshal(domain.Incremented{Inc: 1, Nth: int(after) + i + 1})
		out = append(out, es.Envelope{
			ID:            gonanoid.Must(),
			Version:       after + es.Version(i+1),
			AggregateType: aggType,
			AggregateID:   aggID,
			Type:          "incremented",
			OccurredAt:    now,
			Data:          data,
		}.Seal())
	}
	return out
}

// Events returns n increments, for seeding streams in tests.
func Events(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = domain.Incremented{Inc: 1, Nth: i + 1}
	}
	return out
}
