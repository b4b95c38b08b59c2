package es

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/codewandler/evbuf-go/core/reflector"
)

var (
	ErrUnknownEventType = errors.New("unknown event type")
	ErrTypeConflict     = errors.New("event type conflict")
)

// UnknownEvent stands in for a stored event whose type name is not
// registered, e.g. one written by a newer release. Aggregates do not handle
// it, so replay skips it while versions still line up.
type UnknownEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Registration binds an event type to its stored name.
type Registration struct {
	name   string
	typ    reflect.Type
	decode func(data []byte) (any, error)
}

func (r Registration) Name() string       { return r.name }
func (r Registration) Type() reflect.Type { return r.typ }

// Event registers T under its default name: the result of an
// EventType() string method if T has one, else its qualified Go type name.
func Event[T any]() Registration { return EventAs[T]("") }

// EventAs registers T under name.
func EventAs[T any](name string) Registration {
	t := reflect.TypeFor[T]()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if name == "" {
		name = defaultEventName(t)
	}
	return Registration{
		name: name,
		typ:  t,
		decode: func(data []byte) (any, error) {
			v := reflect.New(t)
			if len(data) > 0 {
				if err := json.Unmarshal(data, v.Interface()); err != nil {
					return nil, err
				}
			}
			return v.Elem().Interface(), nil
		},
	}
}

func defaultEventName(t reflect.Type) string {
	zero := reflect.New(t)
	for _, v := range []reflect.Value{zero.Elem(), zero} {
		if n, ok := v.Interface().(interface{ EventType() string }); ok {
			return n.EventType()
		}
	}
	return reflector.TypeInfoForType(t).Name
}

// TypeRegistry maps event types to stored names and back. It is safe for
// concurrent use.
type TypeRegistry struct {
	mu     sync.RWMutex
	byName map[string]Registration
	byType map[reflect.Type]string
}

// NewTypeRegistry creates a registry holding regs. It panics if regs
// conflict with each other.
func NewTypeRegistry(regs ...Registration) *TypeRegistry {
	r := &TypeRegistry{
		byName: map[string]Registration{},
		byType: map[reflect.Type]string{},
	}
	if err := r.Register(regs...); err != nil {
		panic(err)
	}
	return r
}

// Register adds regs. Registering a type again under the same name is a
// no-op; reusing a name for another type or a type under another name fails
// with ErrTypeConflict and registers nothing.
func (r *TypeRegistry) Register(regs ...Registration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, reg := range regs {
		if reg.typ == nil || reg.decode == nil {
			return fmt.Errorf("registration %d is empty, use es.Event", i)
		}
		if err := r.check(reg, regs[:i]); err != nil {
			return err
		}
	}
	for _, reg := range regs {
		r.byName[reg.name] = reg
		r.byType[reg.typ] = reg.name
	}
	return nil
}

func (r *TypeRegistry) check(reg Registration, pending []Registration) error {
	existing := func(name string) (reflect.Type, bool) {
		if e, ok := r.byName[name]; ok {
			return e.typ, true
		}
		for _, p := range pending {
			if p.name == name {
				return p.typ, true
			}
		}
		return nil, false
	}
	if t, ok := existing(reg.name); ok && t != reg.typ {
		return fmt.Errorf("%w: name %q is taken by %s", ErrTypeConflict, reg.name, t)
	}
	name, ok := r.byType[reg.typ]
	if !ok {
		if i := slices.IndexFunc(pending, func(p Registration) bool { return p.typ == reg.typ }); i >= 0 {
			name, ok = pending[i].name, true
		}
	}
	if ok && name != reg.name {
		return fmt.Errorf("%w: %s is already registered as %q", ErrTypeConflict, reg.typ, name)
	}
	return nil
}

// RegisterEvent registers T under name, or under its default name if name
// is empty.
func RegisterEvent[T any](r *TypeRegistry, name string) error {
	return r.Register(EventAs[T](name))
}

// NameOf returns the stored name of event. Pointers are resolved to their
// element type.
func (r *TypeRegistry) NameOf(event any) (string, bool) {
	t := reflect.TypeOf(event)
	if t == nil {
		return "", false
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.byType[t]
	return name, ok
}

// TypeOf returns the event type registered under name.
func (r *TypeRegistry) TypeOf(name string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byName[name]
	return reg.typ, ok
}

// Names returns all registered names, sorted.
func (r *TypeRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Encode returns the stored name and JSON payload of event. An UnknownEvent
// encodes back to its original name and payload.
func (r *TypeRegistry) Encode(event any) (string, []byte, error) {
	if u, ok := event.(UnknownEvent); ok {
		return u.Type, u.Data, nil
	}
	name, ok := r.NameOf(event)
	if !ok {
		return "", nil, fmt.Errorf("%w: %T", ErrUnknownEventType, event)
	}
	data, err := json.Marshal(event)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s: %w", name, err)
	}
	return name, data, nil
}

// Decode returns the event stored under name as a value of its registered
// type. Unregistered names decode to an UnknownEvent.
func (r *TypeRegistry) Decode(name string, data []byte) (any, error) {
	r.mu.RLock()
	reg, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return UnknownEvent{Type: name, Data: slices.Clone(data)}, nil
	}
	ev, err := reg.decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return ev, nil
}

// DecodeEnvelope decodes the payload of env.
func (r *TypeRegistry) DecodeEnvelope(env Envelope) (any, error) {
	return r.Decode(env.Type, env.Data)
}
