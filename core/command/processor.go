package command

import (
	"context"
	"log/slog"
	"reflect"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/codewandler/evbuf-go/core/perkey"
	"github.com/codewandler/evbuf-go/core/reflector"
	"github.com/codewandler/evbuf-go/core/sf"
)

const tracerName = "github.com/codewandler/evbuf-go/core/command"

// Keyed is implemented by commands that must not run concurrently with other
// commands of the same key, typically the id of the target aggregate.
type Keyed interface {
	CommandKey() string
}

type options struct {
	log     *slog.Logger
	metrics Metrics
	tracer  trace.Tracer
	keyed   bool
}

// Option configures a Processor.
type Option func(*options)

func WithLogger(log *slog.Logger) Option { return func(o *options) { o.log = log } }
func WithMetrics(m Metrics) Option       { return func(o *options) { o.metrics = m } }

// WithTracer records one span per command. The default tracer comes from the
// global otel provider.
func WithTracer(t trace.Tracer) Option { return func(o *options) { o.tracer = t } }

// WithKeyedSerialization runs commands implementing Keyed one at a time per
// key, in the order they were sent.
func WithKeyedSerialization() Option { return func(o *options) { o.keyed = true } }

// Processor sends commands to the handlers a Resolver returns for them.
type Processor struct {
	resolve  Resolver
	log      *slog.Logger
	metrics  Metrics
	tracer   trace.Tracer
	keys     *perkey.Scheduler[string]
	bindings sync.Map // reflect.Type -> Binding
	builds   *sf.Singleflight[Binding]
	inflight atomic.Int64
}

func NewProcessor(resolve Resolver, opts ...Option) *Processor {
	o := options{
		log:     slog.Default(),
		metrics: NopMetrics(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}

	p := &Processor{
		resolve: resolve,
		log:     o.log.With(slog.String("component", "command")),
		metrics: o.metrics,
		tracer:  o.tracer,
		builds:  sf.New[Binding](),
	}
	if o.keyed {
		p.keys = perkey.New[string]()
	}
	return p
}

// Send runs the handler bound to cmd's type and returns its error.
func (p *Processor) Send(ctx context.Context, cmd any) error {
	if isNil(cmd) {
		return ErrNilCommand
	}

	b, err := p.binding(reflect.TypeOf(cmd))
	if err != nil {
		return err
	}
	if !b.cancellable && ctx.Done() != nil {
		return ErrCancellationNotSupported
	}

	attrs := []attribute.KeyValue{attribute.String("command.type", b.name)}
	key, keyed := p.keyOf(cmd)
	if keyed {
		attrs = append(attrs, attribute.String("command.key", key))
	}
	ctx, span := p.tracer.Start(ctx, "command "+b.name, trace.WithAttributes(attrs...))
	defer span.End()

	p.metrics.CommandsInflight(int(p.inflight.Add(1)))
	defer func() { p.metrics.CommandsInflight(int(p.inflight.Add(-1))) }()
	timer := p.metrics.CommandDuration(b.name)

	run := func() error { return p.invoke(ctx, b, cmd) }
	if keyed {
		if b.cancellable {
			err = p.keys.DoContext(ctx, key, run)
		} else {
			err = p.keys.Do(key, run)
		}
	} else {
		err = run()
	}
	timer.ObserveDuration()
	p.metrics.CommandProcessed(b.name, err == nil)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.log.Debug("command failed", slog.String("command", b.name), slog.Any("error", err))
		return err
	}
	p.log.Debug("command handled", slog.String("command", b.name))
	return nil
}

// Close stops the per-key workers. Commands already queued still run.
func (p *Processor) Close() {
	if p.keys != nil {
		p.keys.Close()
	}
}

func (p *Processor) keyOf(cmd any) (string, bool) {
	if p.keys == nil {
		return "", false
	}
	k, ok := cmd.(Keyed)
	if !ok {
		return "", false
	}
	return k.CommandKey(), true
}

func (p *Processor) invoke(ctx context.Context, b Binding, cmd any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			p.metrics.CommandPanic(b.name)
			p.log.Error("command handler panicked",
				slog.String("command", b.name),
				slog.Any("recovered", r),
				slog.String("stack", string(stack)),
			)
			err = &PanicError{Command: b.name, Recovered: r, Stack: stack}
		}
	}()
	return b.invoke(ctx, cmd)
}

// binding resolves t once and caches the result. Misses are not cached so a
// dynamic resolver may learn new types later.
func (p *Processor) binding(t reflect.Type) (Binding, error) {
	if b, ok := p.bindings.Load(t); ok {
		return b.(Binding), nil
	}

	b, err := p.builds.Do(reflector.IdentityKey(t), func() (Binding, error) {
		if b, ok := p.bindings.Load(t); ok {
			return b.(Binding), nil
		}
		b, ok := p.resolve(t)
		if !ok && t.Kind() == reflect.Pointer {
			b, ok = p.resolve(t.Elem())
		}
		if !ok || b.IsZero() {
			return Binding{}, &UnresolvedHandlerError{CommandType: t}
		}
		p.bindings.Store(t, b)
		return b, nil
	})
	if err != nil {
		return Binding{}, err
	}
	return b, nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
