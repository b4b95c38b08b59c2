// Package domain holds a small counter aggregate used by the event-sourcing
// tests and the store conformance suite.
package domain

import (
	"github.com/codewandler/evbuf-go/core/es"
	"github.com/codewandler/evbuf-go/core/es/validation"
)

const MaxCount = 24

type (
	TestAgg struct {
		es.Root[TestAgg, string]

		Counter        uint16
		NumIncrements  int
		NumResets      int
		NumTotalEvents int
		Locked         bool
	}

	Incremented struct {
		Inc uint8 `json:"inc,omitempty"`
		// Nth is stamped by PreProcessEvent: the count of increments
		// including this one.
		Nth int `json:"nth,omitempty"`
	}

	Reset  struct{}
	Locked struct{}

	// NotHandled is registered but has no handler on TestAgg.
	NotHandled struct {
		Note string `json:"note"`
	}
)

func (*TestAgg) AggregateType() string { return "test_agg" }

func (*TestAgg) EventHandlers() []es.Handler[TestAgg] {
	return []es.Handler[TestAgg]{
		es.On((*TestAgg).onIncremented),
		es.On((*TestAgg).onReset),
		es.On((*TestAgg).onLocked),
	}
}

func (a *TestAgg) onIncremented(e Incremented) {
	a.NumTotalEvents++
	a.Counter += uint16(e.Inc)
	a.NumIncrements++
}

func (a *TestAgg) onReset(Reset) {
	a.NumTotalEvents++
	a.Counter = 0
	a.NumResets++
}

func (a *TestAgg) onLocked(Locked) {
	a.NumTotalEvents++
	a.Locked = true
}

func (a *TestAgg) PreProcessEvent(event any) any {
	if e, ok := event.(Incremented); ok {
		e.Nth = a.NumIncrements + 1
		return e
	}
	return event
}

// Registry returns a registry holding every event of TestAgg.
func Registry() *es.TypeRegistry {
	return es.NewTypeRegistry(
		es.EventAs[Incremented]("incremented"),
		es.EventAs[Reset]("reset"),
		es.EventAs[Locked]("locked"),
		es.EventAs[NotHandled]("not_handled"),
	)
}

// Validate rejects locked aggregates and counters above MaxCount.
func Validate(a *TestAgg) validation.Result[*TestAgg] {
	return a.Must().
		NotBe(a.Locked, "aggregate is locked").
		Be(a.Counter <= MaxCount, "counter cannot exceed 24").
		Result()
}

var Validator = es.WithValidatorFunc(Validate)

// === Commands ===

func (a *TestAgg) Inc() (validation.Result[*TestAgg], error) { return a.IncBy(1) }
func (a *TestAgg) IncBy(v uint8) (validation.Result[*TestAgg], error) {
	return a.ApplyEvent(Incremented{Inc: v})
}
func (a *TestAgg) Reset() (validation.Result[*TestAgg], error) { return a.ApplyEvent(Reset{}) }
func (a *TestAgg) Lock() (validation.Result[*TestAgg], error)  { return a.ApplyEvent(Locked{}) }

// === Read ===

func (a *TestAgg) Count() int { return int(a.Counter) }

func NewTestAgg(id string) *TestAgg { return es.New[TestAgg](id, Validator) }
