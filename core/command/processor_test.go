package command

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/codewandler/evbuf-go/core/metrics"
)

type (
	ping     struct{ N int }
	rename   struct{ To string }
	transfer struct {
		Account string
		Amount  int
	}
	unbound struct{}
)

func (t transfer) CommandKey() string { return t.Account }

func TestProcessor_Send(t *testing.T) {
	var pings []int
	var renamed string
	reg := NewRegistry(
		Bind[ping](HandlerFunc[ping](func(c ping) error {
			pings = append(pings, c.N)
			return nil
		})),
		BindContext[rename](ContextHandlerFunc[rename](func(ctx context.Context, c rename) error {
			require.NoError(t, ctx.Err())
			renamed = c.To
			return nil
		})),
	)
	p := NewProcessor(reg.Resolve)

	require.NoError(t, p.Send(context.Background(), ping{N: 1}))
	require.NoError(t, p.Send(context.Background(), &ping{N: 2}))
	require.Equal(t, []int{1, 2}, pings)

	require.NoError(t, p.Send(t.Context(), rename{To: "bob"}))
	require.Equal(t, "bob", renamed)
}

func TestProcessor_HandlerError(t *testing.T) {
	boom := errors.New("boom")
	p := NewProcessor(NewRegistry(
		Bind[ping](HandlerFunc[ping](func(ping) error { return boom })),
	).Resolve)

	require.ErrorIs(t, p.Send(context.Background(), ping{}), boom)
}

func TestProcessor_Unresolved(t *testing.T) {
	p := NewProcessor(NewRegistry().Resolve)

	err := p.Send(context.Background(), unbound{})
	require.ErrorIs(t, err, ErrUnresolvedHandler)

	var uerr *UnresolvedHandlerError
	require.ErrorAs(t, err, &uerr)
	require.Equal(t, reflect.TypeFor[unbound](), uerr.CommandType)
}

func TestProcessor_NilCommand(t *testing.T) {
	p := NewProcessor(NewRegistry().Resolve)
	require.ErrorIs(t, p.Send(context.Background(), nil), ErrNilCommand)

	var c *ping
	require.ErrorIs(t, p.Send(context.Background(), c), ErrNilCommand)
}

func TestProcessor_CancellationNotSupported(t *testing.T) {
	called := false
	p := NewProcessor(NewRegistry(
		Bind[ping](HandlerFunc[ping](func(ping) error {
			called = true
			return nil
		})),
	).Resolve)

	require.ErrorIs(t, p.Send(t.Context(), ping{}), ErrCancellationNotSupported)
	require.False(t, called)

	require.NoError(t, p.Send(context.WithoutCancel(t.Context()), ping{}))
	require.True(t, called)
}

func TestProcessor_ResolvesOncePerType(t *testing.T) {
	var calls atomic.Int32
	reg := NewRegistry(Bind[ping](HandlerFunc[ping](func(ping) error { return nil })))
	p := NewProcessor(func(ct reflect.Type) (Binding, bool) {
		calls.Add(1)
		return reg.Resolve(ct)
	})

	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Send(context.Background(), ping{}))
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), calls.Load())
}

func shadowA(calls *atomic.Int32) (Binding, any) {
	type shadow struct{}
	return Bind[shadow](HandlerFunc[shadow](func(shadow) error {
		calls.Add(1)
		return nil
	})), shadow{}
}

func shadowB(calls *atomic.Int32) (Binding, any) {
	type shadow struct{}
	return Bind[shadow](HandlerFunc[shadow](func(shadow) error {
		calls.Add(1)
		return nil
	})), shadow{}
}

func TestProcessor_SameNamedTypesResolveSeparately(t *testing.T) {
	var callsA, callsB atomic.Int32
	bindA, cmdA := shadowA(&callsA)
	bindB, cmdB := shadowB(&callsB)
	require.Equal(t, bindA.Name(), bindB.Name())

	reg := NewRegistry(bindA, bindB)
	for range 20 {
		p := NewProcessor(func(ct reflect.Type) (Binding, bool) {
			time.Sleep(time.Millisecond)
			return reg.Resolve(ct)
		})

		var wg sync.WaitGroup
		for _, cmd := range []any{cmdA, cmdB} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, p.Send(context.Background(), cmd))
			}()
		}
		wg.Wait()
	}
	require.Equal(t, int32(20), callsA.Load())
	require.Equal(t, int32(20), callsB.Load())
}

func TestProcessor_MissesAreRetried(t *testing.T) {
	var b Binding
	p := NewProcessor(func(ct reflect.Type) (Binding, bool) {
		return b, !b.IsZero()
	})

	require.ErrorIs(t, p.Send(context.Background(), ping{}), ErrUnresolvedHandler)

	b = Bind[ping](HandlerFunc[ping](func(ping) error { return nil }))
	require.NoError(t, p.Send(context.Background(), ping{}))
}

func TestProcessor_Panic(t *testing.T) {
	m := &recordingMetrics{}
	p := NewProcessor(NewRegistry(
		Bind[ping](HandlerFunc[ping](func(ping) error { panic("kaputt") })),
	).Resolve, WithMetrics(m))

	err := p.Send(context.Background(), ping{})
	require.ErrorIs(t, err, ErrHandlerPanic)

	var perr *PanicError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "kaputt", perr.Recovered)
	require.Equal(t, "ping", perr.Command)
	require.Equal(t, 1, m.panics)
}

func TestProcessor_Metrics(t *testing.T) {
	m := &recordingMetrics{}
	p := NewProcessor(NewRegistry(
		Bind[ping](HandlerFunc[ping](func(c ping) error {
			if c.N < 0 {
				return errors.New("negative")
			}
			return nil
		})),
	).Resolve, WithMetrics(m))

	require.NoError(t, p.Send(context.Background(), ping{N: 1}))
	require.Error(t, p.Send(context.Background(), ping{N: -1}))

	m.mu.Lock()
	defer m.mu.Unlock()
	require.Equal(t, map[string]int{"ping/true": 1, "ping/false": 1}, m.processed)
	require.Equal(t, 2, m.timers)
	require.Equal(t, []int{1, 0, 1, 0}, m.inflight)
}

func TestProcessor_Tracing(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	p := NewProcessor(NewRegistry(
		BindContext[transfer](ContextHandlerFunc[transfer](func(_ context.Context, c transfer) error {
			if c.Amount <= 0 {
				return errors.New("amount must be positive")
			}
			return nil
		})),
	).Resolve, WithTracer(tp.Tracer("test")), WithKeyedSerialization())
	t.Cleanup(p.Close)

	require.NoError(t, p.Send(t.Context(), transfer{Account: "a-1", Amount: 5}))
	require.Error(t, p.Send(t.Context(), transfer{Account: "a-1"}))

	spans := sr.Ended()
	require.Len(t, spans, 2)

	require.Equal(t, "command transfer", spans[0].Name())
	require.Equal(t, codes.Unset, spans[0].Status().Code)
	require.Contains(t, spans[0].Attributes(), attribute.String("command.type", "transfer"))
	require.Contains(t, spans[0].Attributes(), attribute.String("command.key", "a-1"))

	require.Equal(t, codes.Error, spans[1].Status().Code)
	require.Equal(t, "amount must be positive", spans[1].Status().Description)
}

func TestProcessor_KeyedSerialization(t *testing.T) {
	var (
		active  atomic.Int32
		overlap atomic.Bool
		mu      sync.Mutex
		order   = map[string][]int{}
	)
	p := NewProcessor(NewRegistry(
		BindContext[transfer](ContextHandlerFunc[transfer](func(_ context.Context, c transfer) error {
			if c.Account == "a" {
				if active.Add(1) > 1 {
					overlap.Store(true)
				}
				defer active.Add(-1)
				time.Sleep(time.Millisecond)
			}
			mu.Lock()
			order[c.Account] = append(order[c.Account], c.Amount)
			mu.Unlock()
			return nil
		})),
	).Resolve, WithKeyedSerialization())
	t.Cleanup(p.Close)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Send(t.Context(), transfer{Account: "a", Amount: i}))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Send(t.Context(), transfer{Account: "b", Amount: i}))
		}()
	}
	wg.Wait()

	require.False(t, overlap.Load())
	require.Len(t, order["a"], 20)
	require.Len(t, order["b"], 20)
}

func TestNewRegistry(t *testing.T) {
	h := HandlerFunc[ping](func(ping) error { return nil })

	require.PanicsWithValue(t, "command: more than one handler for command.ping", func() {
		NewRegistry(Bind[ping](h), Bind[ping](h))
	})
	require.Panics(t, func() { NewRegistry(Binding{}) })
	require.Panics(t, func() {
		Bind[error](HandlerFunc[error](func(error) error { return nil }))
	})

	reg := NewRegistry(
		Bind[ping](h),
		BindContext[rename](ContextHandlerFunc[rename](func(context.Context, rename) error { return nil })),
	)
	require.Equal(t, []reflect.Type{reflect.TypeFor[ping](), reflect.TypeFor[rename]()}, reg.CommandTypes())

	b, ok := reg.Resolve(reflect.TypeFor[rename]())
	require.True(t, ok)
	require.True(t, b.Cancellable())
	require.Equal(t, "rename", b.Name())
	require.Equal(t, reflect.TypeFor[rename](), b.CommandType())
}

type recordingMetrics struct {
	mu        sync.Mutex
	processed map[string]int
	timers    int
	panics    int
	inflight  []int
}

func (m *recordingMetrics) CommandDuration(string) metrics.Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timers++
	return metrics.NopTimer()
}

func (m *recordingMetrics) CommandProcessed(command string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed == nil {
		m.processed = map[string]int{}
	}
	key := command + "/false"
	if success {
		key = command + "/true"
	}
	m.processed[key]++
}

func (m *recordingMetrics) CommandPanic(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panics++
}

func (m *recordingMetrics) CommandsInflight(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inflight = append(m.inflight, count)
}
