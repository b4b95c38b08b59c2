package prometheus

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/evbuf-go/core/command"
	"github.com/codewandler/evbuf-go/core/es"
	"github.com/codewandler/evbuf-go/core/es/estests/domain"
	"github.com/codewandler/evbuf-go/core/es/validation"
)

func gatheredNames(t *testing.T, reg *prometheus.Registry) map[string]bool {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	return names
}

func TestESMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewESMetrics(reg)

	m.StoreLoadDuration("user").ObserveDuration()
	m.StoreAppendDuration("user").ObserveDuration()
	m.EventsAppended("user", 5)
	m.RepoLoadDuration("user").ObserveDuration()
	m.RepoSaveDuration("user").ObserveDuration()
	m.ConcurrencyConflict("user")
	m.ValidationRejected("user")
	m.EventsReplayed("user", 3)
	m.UnknownEventSkipped("user", "renamed")
	m.CacheHit("user")
	m.CacheMiss("user")
	m.CacheMiss("user")

	assert.Equal(t, 5.0, testutil.ToFloat64(m.eventsAppended.WithLabelValues("user")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.eventsReplayed.WithLabelValues("user")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheMisses.WithLabelValues("user")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.unknownEvents.WithLabelValues("user", "renamed")))

	names := gatheredNames(t, reg)
	for _, n := range []string{
		"evbuf_es_store_load_duration_seconds",
		"evbuf_es_store_append_duration_seconds",
		"evbuf_es_repo_load_duration_seconds",
		"evbuf_es_repo_save_duration_seconds",
		"evbuf_es_concurrency_conflicts_total",
		"evbuf_es_validation_rejected_total",
		"evbuf_es_cache_hits_total",
	} {
		assert.True(t, names[n], n)
	}
}

func TestESMetrics_Repository(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewESMetrics(reg)

	store := es.InstrumentStore(es.NewInMemoryStore(), m)
	repo := es.NewRepository[domain.TestAgg, string](store, domain.Registry(), domain.Validator, es.WithMetrics(m))

	res, err := repo.Create(t.Context(), "a-1", func(a *domain.TestAgg) (validation.Result[*domain.TestAgg], error) {
		return a.IncBy(2)
	})
	es.RequireApplied(t, res, err)

	_, err = repo.Load(t.Context(), "a-1")
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsAppended.WithLabelValues("test_agg")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.repoSaveDuration))
	assert.Equal(t, 1, testutil.CollectAndCount(m.storeLoadDuration))
}

func TestCommandMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCommandMetrics(reg)

	type ping struct{ Fail bool }
	p := command.NewProcessor(command.NewRegistry(
		command.Bind[ping](command.HandlerFunc[ping](func(c ping) error {
			if c.Fail {
				return errors.New("failed")
			}
			return nil
		})),
	).Resolve, command.WithMetrics(m))

	require.NoError(t, p.Send(context.Background(), ping{}))
	require.Error(t, p.Send(context.Background(), ping{Fail: true}))
	require.NoError(t, p.Send(context.Background(), ping{}))
	m.CommandPanic("ping")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.processed.WithLabelValues("ping", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.processed.WithLabelValues("ping", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.panics.WithLabelValues("ping")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inflight))

	names := gatheredNames(t, reg)
	assert.True(t, names["evbuf_command_duration_seconds"])
	assert.True(t, names["evbuf_commands_inflight"])
}

func TestNewAllMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	all := NewAllMetrics(reg)
	require.NotNil(t, all.ES)
	require.NotNil(t, all.Command)

	require.Panics(t, func() { NewAllMetrics(reg) }, "collectors register once")
}
