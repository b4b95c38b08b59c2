package es

import (
	"log/slog"
	"time"

	"github.com/codewandler/evbuf-go/core/cache"
	"github.com/codewandler/evbuf-go/core/es/validation"
)

type (
	aggregateOpts[A any] struct {
		validator validation.Validator[*A]
	}
	AggregateOption[A any] interface {
		applyToAggregate(*aggregateOpts[A])
	}

	repoOpts struct {
		aggType   string
		log       *slog.Logger
		metrics   ESMetrics
		idGen     func() string
		cache     cache.Cache
		now       func() time.Time
		validator any
	}
	RepositoryOption interface {
		applyToRepository(*repoOpts)
	}

	inMemoryStoreOpts struct {
		log *slog.Logger
	}
	InMemoryStoreOption interface {
		applyToInMemoryStore(*inMemoryStoreOpts)
	}
)

type (
	ValidatorOption[A any] valueOption[validation.Validator[*A]]
	LogOption              valueOption[*slog.Logger]
	MetricsOption          valueOption[ESMetrics]
	AggregateTypeOption    valueOption[string]
	IDGeneratorOption      valueOption[func() string]
	CacheOption            valueOption[cache.Cache]
	ClockOption            valueOption[func() time.Time]
)

// WithValidator validates every candidate state of aggregates of type A.
// Passed to a repository it applies to all aggregates the repository loads
// or creates.
func WithValidator[A any](v validation.Validator[*A]) ValidatorOption[A] {
	return ValidatorOption[A]{v: v}
}

// WithValidatorFunc is WithValidator for a plain function.
func WithValidatorFunc[A any](fn func(*A) validation.Result[*A]) ValidatorOption[A] {
	return WithValidator[A](validation.ValidatorFunc[*A](fn))
}

func WithLogger(log *slog.Logger) LogOption              { return LogOption{v: log} }
func WithMetrics(m ESMetrics) MetricsOption              { return MetricsOption{v: m} }
func WithAggregateType(name string) AggregateTypeOption  { return AggregateTypeOption{v: name} }
func WithIDGenerator(fn func() string) IDGeneratorOption { return IDGeneratorOption{v: fn} }
func WithCache(c cache.Cache) CacheOption                { return CacheOption{v: c} }
func WithClock(now func() time.Time) ClockOption         { return ClockOption{v: now} }

// WithCacheLRU keeps up to size recently used aggregates in memory.
func WithCacheLRU(size int) CacheOption {
	return CacheOption{v: cache.NewLRU(cache.LRUOpts{Size: size})}
}

func (o ValidatorOption[A]) applyToAggregate(a *aggregateOpts[A]) { a.validator = o.v }
func (o ValidatorOption[A]) applyToRepository(r *repoOpts)        { r.validator = o.v }

func (o LogOption) applyToRepository(r *repoOpts)             { r.log = o.v }
func (o LogOption) applyToInMemoryStore(s *inMemoryStoreOpts) { s.log = o.v }
func (o MetricsOption) applyToRepository(r *repoOpts)         { r.metrics = o.v }
func (o AggregateTypeOption) applyToRepository(r *repoOpts)   { r.aggType = o.v }
func (o IDGeneratorOption) applyToRepository(r *repoOpts)     { r.idGen = o.v }
func (o CacheOption) applyToRepository(r *repoOpts)           { r.cache = o.v }
func (o ClockOption) applyToRepository(r *repoOpts)           { r.now = o.v }
