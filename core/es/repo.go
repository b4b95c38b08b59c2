package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codewandler/evbuf-go/core/cache"
	"github.com/codewandler/evbuf-go/core/es/validation"
	"github.com/codewandler/evbuf-go/core/reflector"
)

// Mutation derives a new aggregate state from a, typically by calling
// ApplyEvent on it.
type Mutation[A any] func(a *A) (validation.Result[*A], error)

// Repository loads aggregates of type A from an EventStore and appends their
// uncommitted events back to it.
type Repository[A any, ID comparable, P Aggregate[A, ID]] struct {
	log      *slog.Logger
	store    EventStore
	registry *TypeRegistry
	aggType  string
	metrics  ESMetrics
	idGen    func() string
	now      func() time.Time
	cache    cache.TypedCache[*A]
	aggOpts  []AggregateOption[A]
}

// NewRepository creates a repository for aggregates of type A. Events are
// stored under the names registered in registry.
//
// The aggregate type name defaults to the result of an AggregateType()
// string method on A, else its lower-cased type name.
func NewRepository[A any, ID comparable, P Aggregate[A, ID]](
	store EventStore,
	registry *TypeRegistry,
	opts ...RepositoryOption,
) *Repository[A, ID, P] {
	options := repoOpts{
		log:     slog.Default(),
		metrics: NopESMetrics(),
		idGen:   DefaultIDGenerator,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt.applyToRepository(&options)
	}
	if options.aggType == "" {
		options.aggType = defaultAggregateType[A]()
	}

	r := &Repository[A, ID, P]{
		store:    store,
		registry: registry,
		aggType:  options.aggType,
		metrics:  options.metrics,
		idGen:    options.idGen,
		now:      options.now,
	}
	r.log = options.log.With(slog.String("repo", r.aggType))
	if options.cache != nil {
		r.cache = cache.NewTyped[*A](options.cache)
	}
	if options.validator != nil {
		v, ok := options.validator.(validation.Validator[*A])
		if !ok {
			panic(fmt.Sprintf("es: repository for %s got a validator for another aggregate type (%T)", r.aggType, options.validator))
		}
		r.aggOpts = append(r.aggOpts, WithValidator[A](v))
	}
	return r
}

func defaultAggregateType[A any]() string {
	if n, ok := any(new(A)).(interface{ AggregateType() string }); ok {
		return n.AggregateType()
	}
	return strings.ToLower(reflector.TypeInfoFor[A]().ShortName)
}

// AggregateType returns the name streams of this repository are stored under.
func (r *Repository[A, ID, P]) AggregateType() string { return r.aggType }

// New creates an aggregate without history, configured like the ones the
// repository loads.
func (r *Repository[A, ID, P]) New(id ID) *A { return New[A, ID, P](id, r.aggOpts...) }

// Load replays the stream of id. It fails with ErrAggregateNotFound if the
// stream is empty and with a *HistoryError if the stored stream is not a
// complete history.
func (r *Repository[A, ID, P]) Load(ctx context.Context, id ID) (*A, error) {
	defer r.metrics.RepoLoadDuration(r.aggType).ObserveDuration()

	key := aggregateKey(id)
	log := r.log.With(slog.Group("agg", slog.String("type", r.aggType), slog.String("id", key)))

	if r.cache != nil {
		if cached, ok := r.cache.Get(key); ok {
			r.metrics.CacheHit(r.aggType)
			return r.catchUp(ctx, log, key, cached)
		}
		r.metrics.CacheMiss(r.aggType)
	}

	envs, err := r.store.Load(ctx, r.aggType, key)
	if err != nil {
		return nil, fmt.Errorf("load %s/%s: %w", r.aggType, key, err)
	}
	if len(envs) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrAggregateNotFound, r.aggType, key)
	}
	if err := CheckHistory(key, 1, envs); err != nil {
		return nil, err
	}
	events, err := r.decode(log, envs)
	if err != nil {
		return nil, err
	}

	a := FromStorage[A, ID, P](BufferFromStorage(id, 0, events, identity), r.aggOpts...)
	r.metrics.EventsReplayed(r.aggType, len(events))
	r.put(key, a)

	log.Debug("loaded", P(a).root().Version().SlogAttr())
	return a, nil
}

func (r *Repository[A, ID, P]) catchUp(ctx context.Context, log *slog.Logger, key string, cached *A) (*A, error) {
	from := P(cached).root().CommittedVersion() + 1
	envs, err := r.store.Load(ctx, r.aggType, key, WithStartAtVersion(from))
	if err != nil {
		return nil, fmt.Errorf("load %s/%s: %w", r.aggType, key, err)
	}
	if len(envs) == 0 {
		return cached, nil
	}
	if err := CheckHistory(key, from, envs); err != nil {
		r.cache.Delete(key)
		return nil, err
	}
	events, err := r.decode(log, envs)
	if err != nil {
		return nil, err
	}

	a := P(cached).root().Replay(events...)
	r.metrics.EventsReplayed(r.aggType, len(events))
	r.put(key, a)

	log.Debug("caught up", from.SlogAttrWithKey("from"), P(a).root().Version().SlogAttr())
	return a, nil
}

func (r *Repository[A, ID, P]) decode(log *slog.Logger, envs []Envelope) ([]any, error) {
	events := make([]any, 0, len(envs))
	for _, env := range envs {
		ev, err := r.registry.DecodeEnvelope(env)
		if err != nil {
			return nil, fmt.Errorf("%s/%s version %d: %w", r.aggType, env.AggregateID, env.Version, err)
		}
		if _, unknown := ev.(UnknownEvent); unknown {
			log.Debug("skipping unknown event", slog.String("event_type", env.Type), env.Version.SlogAttr())
			r.metrics.UnknownEventSkipped(r.aggType, env.Type)
		}
		events = append(events, ev)
	}
	return events, nil
}

// Save appends the uncommitted events of a to its stream, expecting the
// stream to be at a's committed version. It returns a copy of a with all
// events committed; an aggregate without uncommitted events is returned as
// is. A stream that moved on fails with a *ConcurrencyError.
func (r *Repository[A, ID, P]) Save(ctx context.Context, a *A) (*A, error) {
	root := P(a).root()
	if root.kind == nil {
		return nil, ErrUnboundAggregate
	}
	if !root.HasUncommitted() {
		return a, nil
	}
	defer r.metrics.RepoSaveDuration(r.aggType).ObserveDuration()

	var (
		key      = aggregateKey(root.ID())
		expected = root.CommittedVersion()
		now      = r.now()
		envs     = make([]Envelope, 0, root.Version()-expected)
		encErr   error
		log      = r.log.With(slog.Group("agg", slog.String("type", r.aggType), slog.String("id", key)))
	)

	for env := range SelectUncommitted(root.Buffer(), func(_ ID, v Version, event any) Envelope {
		name, data, err := r.registry.Encode(event)
		if err != nil {
			encErr = fmt.Errorf("%s/%s version %d: %w", r.aggType, key, v, err)
		}
		return Envelope{
			ID:            r.idGen(),
			Version:       v,
			AggregateType: r.aggType,
			AggregateID:   key,
			Type:          name,
			OccurredAt:    now,
			Data:          data,
		}.Seal()
	}) {
		if encErr != nil {
			return nil, encErr
		}
		envs = append(envs, env)
	}

	res, err := r.store.Append(ctx, r.aggType, key, expected, envs)
	if err != nil {
		if errors.Is(err, ErrConcurrencyConflict) {
			r.metrics.ConcurrencyConflict(r.aggType)
			if r.cache != nil {
				r.cache.Delete(key)
			}
			log.Warn("concurrency conflict", expected.SlogAttrWithKey("expected"))
		}
		return nil, fmt.Errorf("save %s/%s: %w", r.aggType, key, err)
	}

	saved := root.MarkCommitted()
	r.put(key, saved)

	log.Debug(
		"saved",
		slog.Int("num_events", len(envs)),
		P(saved).root().Version().SlogAttr(),
		slog.Uint64("last_seq", res.LastSeq),
	)
	return saved, nil
}

// Update loads the aggregate id, applies fn and saves the result if it is
// valid. Invalid results are returned without touching the store.
func (r *Repository[A, ID, P]) Update(ctx context.Context, id ID, fn Mutation[A]) (validation.Result[*A], error) {
	a, err := r.Load(ctx, id)
	if err != nil {
		return fail[*A](err)
	}
	return r.mutate(ctx, a, fn)
}

// Create applies fn to a new aggregate and saves the result if it is valid.
// It fails with a *ConcurrencyError if the stream of id already exists.
func (r *Repository[A, ID, P]) Create(ctx context.Context, id ID, fn Mutation[A]) (validation.Result[*A], error) {
	return r.mutate(ctx, r.New(id), fn)
}

func (r *Repository[A, ID, P]) mutate(ctx context.Context, a *A, fn Mutation[A]) (validation.Result[*A], error) {
	res, err := fn(a)
	if err != nil {
		return res, err
	}
	next, ok := res.Get()
	if !ok {
		r.metrics.ValidationRejected(r.aggType)
		return res, nil
	}
	saved, err := r.Save(ctx, next)
	if err != nil {
		return fail[*A](err)
	}
	return validation.OK(saved, res.Messages()...), nil
}

func (r *Repository[A, ID, P]) put(key string, a *A) {
	if r.cache != nil {
		r.cache.Put(key, a)
	}
}

func aggregateKey[ID comparable](id ID) string {
	if s, ok := any(id).(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprint(id)
}

func identity(e any) any { return e }
