package es

import (
	"errors"

	"github.com/codewandler/evbuf-go/core/ds"
	"github.com/codewandler/evbuf-go/core/es/must"
	"github.com/codewandler/evbuf-go/core/es/validation"
)

var (
	ErrNoEvents          = errors.New("no events to apply")
	ErrNilEvent          = errors.New("event is nil")
	ErrUnboundAggregate  = errors.New("aggregate was not created with es.New or es.FromStorage")
	ErrAggregateNotFound = errors.New("aggregate not found")
	ErrUncommittedEvents = errors.New("aggregate has uncommitted events")
)

// Aggregate is the constraint satisfied by a pointer to a struct that embeds
// Root and declares its event handlers:
//
//	type Account struct {
//	    es.Root[Account, uuid.UUID]
//	    balance int64
//	}
//
//	func (*Account) EventHandlers() []es.Handler[Account] {
//	    return []es.Handler[Account]{es.On((*Account).onDeposited)}
//	}
type Aggregate[A any, ID comparable] interface {
	*A
	root() *Root[A, ID]
	EventHandlers() []Handler[A]
}

// EventPreprocessor may be implemented by an aggregate to rewrite events
// before they are applied, e.g. to stamp identifiers or timestamps derived
// from the aggregate onto the event. The hook runs on the candidate state.
type EventPreprocessor interface {
	PreProcessEvent(event any) any
}

// Root is the embeddable base of an aggregate. It owns the aggregate's event
// buffer; all other aggregate state is derived by replaying that buffer.
//
// Aggregates are values: ApplyEvent and friends return a new aggregate and
// never modify the receiver.
type Root[A any, ID comparable] struct {
	self   *A
	kind   *aggregateKind[A, ID]
	buffer EventBuffer[ID]
}

type aggregateKind[A any, ID comparable] struct {
	dispatcher *Dispatcher[A]
	validator  validation.Validator[*A]
	rootOf     func(*A) *Root[A, ID]
}

func (r *Root[A, ID]) root() *Root[A, ID] { return r }

// New creates an aggregate without history.
func New[A any, ID comparable, P Aggregate[A, ID]](id ID, opts ...AggregateOption[A]) *A {
	return newKind[A, ID, P](opts).instantiate(EmptyEventBuffer(id))
}

// FromStorage creates an aggregate from buffer by replaying all of its
// events, committed or not. Events without a handler are skipped. The
// aggregate's buffer is buffer itself.
func FromStorage[A any, ID comparable, P Aggregate[A, ID]](buffer EventBuffer[ID], opts ...AggregateOption[A]) *A {
	return newKind[A, ID, P](opts).instantiate(buffer)
}

func newKind[A any, ID comparable, P Aggregate[A, ID]](opts []AggregateOption[A]) *aggregateKind[A, ID] {
	options := aggregateOpts[A]{validator: validation.None[*A]()}
	for _, opt := range opts {
		opt.applyToAggregate(&options)
	}
	return &aggregateKind[A, ID]{
		dispatcher: DispatcherFor[A, P](),
		validator:  options.validator,
		rootOf:     func(a *A) *Root[A, ID] { return P(a).root() },
	}
}

func (k *aggregateKind[A, ID]) instantiate(buffer EventBuffer[ID]) *A {
	a := new(A)
	r := k.rootOf(a)
	r.self, r.kind, r.buffer = a, k, buffer
	k.dispatcher.Replay(a, buffer.Events())
	return a
}

// ID returns the aggregate identifier.
func (r *Root[A, ID]) ID() ID { return r.buffer.AggregateID() }

// Version returns the version of the last buffered event.
func (r *Root[A, ID]) Version() Version { return r.buffer.Version() }

// CommittedVersion returns the version of the last persisted event.
func (r *Root[A, ID]) CommittedVersion() Version { return r.buffer.CommittedVersion() }

// HasUncommitted reports whether the aggregate holds events not yet saved.
func (r *Root[A, ID]) HasUncommitted() bool { return r.buffer.HasUncommitted() }

// Buffer returns the aggregate's event buffer.
func (r *Root[A, ID]) Buffer() EventBuffer[ID] { return r.buffer }

// Must starts a guard chain on the aggregate.
func (r *Root[A, ID]) Must() must.Guard[*A] { return must.For(r.self) }

// ApplyEvent is ApplyEvents with a single event.
func (r *Root[A, ID]) ApplyEvent(event any) (validation.Result[*A], error) {
	return r.ApplyEvents(event)
}

// ApplyEvents applies events to a copy of the aggregate, validates the copy
// and, if it is valid, appends the events to its buffer.
//
// A valid outcome carries the new aggregate along with any info and warning
// messages of the validator. An invalid outcome carries the validator's
// messages; the candidate is discarded. The error is non-nil only for misuse:
// no events, an event without handler or an unbound aggregate. The receiver
// is never modified.
func (r *Root[A, ID]) ApplyEvents(events ...any) (validation.Result[*A], error) {
	if r.kind == nil {
		return fail[*A](ErrUnboundAggregate)
	}
	var pending ds.AppendOnly
	for _, e := range events {
		pending = pending.Add(e)
	}
	if pending.IsEmpty() {
		return fail[*A](ErrNoEvents)
	}

	candidate := r.kind.instantiate(r.buffer)
	pp, hasPreprocessor := any(candidate).(EventPreprocessor)

	applied := make([]any, 0, pending.Count())
	for e := range pending.All() {
		if hasPreprocessor {
			if e = pp.PreProcessEvent(e); e == nil {
				return fail[*A](ErrNilEvent)
			}
		}
		if err := r.kind.dispatcher.Apply(candidate, e); err != nil {
			return fail[*A](err)
		}
		applied = append(applied, e)
	}

	res := r.kind.validator.Validate(candidate)
	if !res.IsValid() {
		return validation.Fail[*A](res.Messages()...), nil
	}

	cr := r.kind.rootOf(candidate)
	cr.buffer = cr.buffer.Add(applied)
	return validation.OK(candidate, res.Messages()...), nil
}

// Replay returns a new aggregate with events appended to its history. The
// whole history of the result is committed. Events are not validated and
// events without a handler are skipped. It panics with ErrUncommittedEvents
// if the receiver holds events that were not saved yet.
func (r *Root[A, ID]) Replay(events ...any) *A {
	if r.kind == nil {
		panic(ErrUnboundAggregate)
	}
	if r.HasUncommitted() {
		panic(ErrUncommittedEvents)
	}
	buffer := r.buffer
	for _, e := range events {
		buffer = buffer.Add(e)
	}
	return r.kind.instantiate(buffer.MarkAllAsCommitted())
}

// MarkCommitted returns a copy of the aggregate whose events are all
// committed. The derived state is shared with the receiver.
func (r *Root[A, ID]) MarkCommitted() *A {
	if r.kind == nil {
		panic(ErrUnboundAggregate)
	}
	c := *r.self
	cr := r.kind.rootOf(&c)
	cr.self = &c
	cr.buffer = r.buffer.MarkAllAsCommitted()
	return &c
}

func fail[T any](err error) (validation.Result[T], error) {
	return validation.FailWith[T](err.Error()), err
}
