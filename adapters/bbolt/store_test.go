package bbolt

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/codewandler/evbuf-go/core/es"
	"github.com/codewandler/evbuf-go/core/es/estests"
	"github.com/codewandler/evbuf-go/core/es/estests/domain"
)

func openTestStore(t *testing.T, path string) *EventStore {
	t.Helper()
	s, err := Open(EventStoreConfig{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEventStore(t *testing.T) {
	estests.RunStoreSuite(t, func(t *testing.T) es.EventStore {
		return openTestStore(t, filepath.Join(t.TempDir(), "events.bolt"))
	})
}

func TestEventStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.bolt")

	s, err := Open(EventStoreConfig{Path: path})
	require.NoError(t, err)
	res, err := es.AppendEvents(t.Context(), s, domain.Registry(), "test_agg", "a-1", 0, estests.Events(3)...)
	require.NoError(t, err)
	require.Equal(t, uint64(3), res.LastSeq)
	require.NoError(t, s.Close())

	s = openTestStore(t, path)
	res, err = es.AppendEvents(t.Context(), s, domain.Registry(), "test_agg", "a-2", 0, estests.Events(1)...)
	require.NoError(t, err)
	require.Equal(t, uint64(4), res.LastSeq, "sequence survives reopening")

	envs, err := s.Load(t.Context(), "test_agg", "a-1")
	require.NoError(t, err)
	require.Len(t, envs, 3)
}

func TestEventStore_Layout(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "events.bolt"))
	_, err := es.AppendEvents(t.Context(), s, domain.Registry(), "test_agg", "a-1", 0, estests.Events(2)...)
	require.NoError(t, err)

	err = s.db.View(func(tx *bbolt.Tx) error {
		stream := streamBucket(tx, "test_agg", "a-1")
		require.NotNil(t, stream)
		require.Equal(t, 2, stream.Stats().KeyN)
		require.NotNil(t, stream.Get(versionKey(2)))
		require.Nil(t, streamBucket(tx, "test_agg", "a-2"))
		return nil
	})
	require.NoError(t, err)
}

func TestOpen_Locked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.bolt")
	openTestStore(t, path)

	_, err := Open(EventStoreConfig{Path: path, Timeout: 50 * time.Millisecond})
	require.Error(t, err)
}
