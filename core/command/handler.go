package command

import (
	"cmp"
	"context"
	"fmt"
	"reflect"
	"slices"

	"github.com/codewandler/evbuf-go/core/reflector"
)

type (
	// Handler handles commands of type C without observing cancellation.
	Handler[C any] interface {
		Handle(cmd C) error
	}

	// ContextHandler handles commands of type C and honours ctx.
	ContextHandler[C any] interface {
		Handle(ctx context.Context, cmd C) error
	}

	HandlerFunc[C any]        func(cmd C) error
	ContextHandlerFunc[C any] func(ctx context.Context, cmd C) error
)

func (f HandlerFunc[C]) Handle(cmd C) error                             { return f(cmd) }
func (f ContextHandlerFunc[C]) Handle(ctx context.Context, cmd C) error { return f(ctx, cmd) }

// Binding is a handler bound to one command type.
type Binding struct {
	commandType reflect.Type
	name        string
	cancellable bool
	invoke      func(ctx context.Context, cmd any) error
}

// CommandType returns the type the binding accepts.
func (b Binding) CommandType() reflect.Type { return b.commandType }

// Name returns the short type name used in logs, metrics and spans.
func (b Binding) Name() string { return b.name }

// Cancellable reports whether the handler receives the caller's context.
func (b Binding) Cancellable() bool { return b.cancellable }

// IsZero reports whether b binds nothing.
func (b Binding) IsZero() bool { return b.invoke == nil }

// Bind binds h to commands of type C. Both C and *C values are accepted.
// It panics if C is an interface type.
func Bind[C any](h Handler[C]) Binding {
	return bind[C](false, func(_ context.Context, cmd C) error { return h.Handle(cmd) })
}

// BindContext binds a context-aware handler to commands of type C.
func BindContext[C any](h ContextHandler[C]) Binding {
	return bind[C](true, h.Handle)
}

func bind[C any](cancellable bool, fn func(context.Context, C) error) Binding {
	t := reflect.TypeFor[C]()
	if t.Kind() == reflect.Interface {
		panic(fmt.Sprintf("command: cannot bind interface type %s", t))
	}
	return Binding{
		commandType: t,
		name:        reflector.TypeInfoForType(t).ShortName,
		cancellable: cancellable,
		invoke: func(ctx context.Context, cmd any) error {
			switch c := cmd.(type) {
			case C:
				return fn(ctx, c)
			case *C:
				return fn(ctx, *c)
			}
			return fmt.Errorf("command: %s handler received %T", t, cmd)
		},
	}
}

// Resolver looks up the binding for a command type. The processor calls it
// with the command's dynamic type and, for pointers, with the element type.
type Resolver func(commandType reflect.Type) (Binding, bool)

// Registry is a static Resolver built from a list of bindings.
type Registry struct {
	bindings map[reflect.Type]Binding
}

// NewRegistry panics if two bindings accept the same command type.
func NewRegistry(bindings ...Binding) *Registry {
	r := &Registry{bindings: make(map[reflect.Type]Binding, len(bindings))}
	for _, b := range bindings {
		if b.IsZero() {
			panic("command: zero Binding")
		}
		if _, dup := r.bindings[b.commandType]; dup {
			panic(fmt.Sprintf("command: more than one handler for %s", b.commandType))
		}
		r.bindings[b.commandType] = b
	}
	return r
}

// Resolve implements Resolver.
func (r *Registry) Resolve(t reflect.Type) (Binding, bool) {
	b, ok := r.bindings[t]
	return b, ok
}

// CommandTypes returns the registered command types sorted by name.
func (r *Registry) CommandTypes() []reflect.Type {
	out := make([]reflect.Type, 0, len(r.bindings))
	for t := range r.bindings {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b reflect.Type) int { return cmp.Compare(a.String(), b.String()) })
	return out
}
