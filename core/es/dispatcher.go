package es

import (
	"errors"
	"fmt"
	"iter"
	"reflect"
	"sync"

	"github.com/codewandler/evbuf-go/core/ds"
	"github.com/codewandler/evbuf-go/core/reflector"
	"github.com/codewandler/evbuf-go/core/sf"
)

var ErrUnsupportedEventType = errors.New("event type not supported")

// UnsupportedEventError is returned when an event is applied directly to an
// aggregate that has no handler for it.
type UnsupportedEventError struct {
	Aggregate string
	EventType string
}

func (e *UnsupportedEventError) Error() string {
	return fmt.Sprintf("%s: %s does not handle %s", ErrUnsupportedEventType, e.Aggregate, e.EventType)
}

func (e *UnsupportedEventError) Is(target error) bool { return target == ErrUnsupportedEventType }

// Handler applies one event type to an aggregate of type A.
type Handler[A any] struct {
	eventType reflect.Type
	apply     func(*A, any)
}

// On declares fn as the handler for events of type E. A handler for a
// struct type also receives pointers to it.
//
//	func (a *Account) EventHandlers() []es.Handler[Account] {
//	    return []es.Handler[Account]{
//	        es.On((*Account).onOpened),
//	    }
//	}
//
// EventHandlers is called once on a zero value, so handlers must be method
// expressions or plain functions and only mutate the aggregate passed in.
func On[A, E any](fn func(a *A, event E)) Handler[A] {
	t := reflect.TypeFor[E]()
	if t.Kind() == reflect.Interface {
		panic(fmt.Sprintf("es: handler for interface type %s, handlers must name a concrete event type", t))
	}
	return Handler[A]{
		eventType: t,
		apply: func(a *A, event any) {
			switch e := event.(type) {
			case E:
				fn(a, e)
			case *E:
				fn(a, *e)
			}
		},
	}
}

// EventType returns the event type the handler accepts.
func (h Handler[A]) EventType() reflect.Type { return h.eventType }

// Dispatcher is the immutable event type to handler table of one aggregate
// type. It is safe for concurrent use.
type Dispatcher[A any] struct {
	name      string
	handlers  map[reflect.Type]func(*A, any)
	supported *ds.Set[reflect.Type]
}

// NewDispatcher builds a dispatcher from handlers. Registering two handlers
// for the same event type panics.
func NewDispatcher[A any](handlers ...Handler[A]) *Dispatcher[A] {
	d := &Dispatcher[A]{
		name:      reflector.TypeInfoFor[A]().ShortName,
		handlers:  make(map[reflect.Type]func(*A, any), len(handlers)*2),
		supported: ds.NewSet[reflect.Type](),
	}
	for _, h := range handlers {
		if h.eventType == nil || h.apply == nil {
			panic(fmt.Sprintf("es: %s declares an empty handler, use es.On", d.name))
		}
		if !d.supported.Add(h.eventType) {
			panic(fmt.Sprintf("es: %s declares more than one handler for %s", d.name, h.eventType))
		}
		d.handlers[h.eventType] = h.apply
		if h.eventType.Kind() != reflect.Pointer {
			pt := reflect.PointerTo(h.eventType)
			if _, taken := d.handlers[pt]; !taken {
				d.handlers[pt] = h.apply
			}
		}
	}
	return d
}

// SupportedEventTypes iterates over the declared event types in declaration
// order.
func (d *Dispatcher[A]) SupportedEventTypes() iter.Seq[reflect.Type] { return d.supported.All() }

// Supports reports whether event has a handler.
func (d *Dispatcher[A]) Supports(event any) bool {
	if event == nil {
		return false
	}
	_, ok := d.handlers[reflect.TypeOf(event)]
	return ok
}

// Dispatch applies event to a and reports whether a handler ran. Events
// without a handler are skipped.
func (d *Dispatcher[A]) Dispatch(a *A, event any) bool {
	if event == nil {
		return false
	}
	h, ok := d.handlers[reflect.TypeOf(event)]
	if !ok {
		return false
	}
	h(a, event)
	return true
}

// Apply applies event to a and fails with an *UnsupportedEventError if the
// aggregate has no handler for it.
func (d *Dispatcher[A]) Apply(a *A, event any) error {
	if !d.Dispatch(a, event) {
		return &UnsupportedEventError{Aggregate: d.name, EventType: fmt.Sprintf("%T", event)}
	}
	return nil
}

// Replay dispatches every event in order, skipping unknown ones, and returns
// the number of events applied.
func (d *Dispatcher[A]) Replay(a *A, events iter.Seq[any]) int {
	n := 0
	for e := range events {
		if d.Dispatch(a, e) {
			n++
		}
	}
	return n
}

// EventHandlerProvider is implemented by aggregates to declare their
// handlers. It is called on the zero value once per process.
type EventHandlerProvider[A any] interface {
	*A
	EventHandlers() []Handler[A]
}

var (
	dispatchers      sync.Map // reflect.Type -> any(*Dispatcher[A])
	dispatcherBuilds = sf.New[any]()
)

// DispatcherFor returns the process-wide dispatcher of aggregate type A,
// building it on first use.
func DispatcherFor[A any, P EventHandlerProvider[A]]() *Dispatcher[A] {
	t := reflect.TypeFor[A]()
	if d, ok := dispatchers.Load(t); ok {
		return d.(*Dispatcher[A])
	}
	d, _ := dispatcherBuilds.Do(reflector.IdentityKey(t), func() (any, error) {
		if d, ok := dispatchers.Load(t); ok {
			return d, nil
		}
		var zero A
		d := NewDispatcher(P(&zero).EventHandlers()...)
		dispatchers.Store(t, d)
		return d, nil
	})
	return d.(*Dispatcher[A])
}
