// Package must provides declarative preconditions that produce validation
// results. Guards chain left to right and stop at the first failure:
//
//	must.For(account).
//		Be(amount > 0, "amount must be positive", must.Field("amount")).
//		NotBe(account.Frozen(), "account is frozen").
//		Result()
package must

import "github.com/codewandler/evbuf-go/core/es/validation"

// Option decorates the message of a failing guard.
type Option func(*validation.Message)

// Field associates the failure message with a field name.
func Field(name string) Option { return func(m *validation.Message) { m.Field = name } }

// Guard is a chain of preconditions on a subject.
type Guard[T any] struct {
	r validation.Result[T]
}

// For starts a guard chain on subject.
func For[T any](subject T) Guard[T] { return Guard[T]{r: validation.OK(subject)} }

// Be fails with message unless cond holds.
func (g Guard[T]) Be(cond bool, message string, opts ...Option) Guard[T] {
	if !g.r.IsValid() || cond {
		return g
	}
	return g.fail(message, opts)
}

// NotBe fails with message if cond holds.
func (g Guard[T]) NotBe(cond bool, message string, opts ...Option) Guard[T] {
	return g.Be(!cond, message, opts...)
}

// Satisfy fails with message unless pred holds for the subject. pred is not
// called once the chain has failed.
func (g Guard[T]) Satisfy(pred func(T) bool, message string, opts ...Option) Guard[T] {
	if !g.r.IsValid() || pred(g.r.Value()) {
		return g
	}
	return g.fail(message, opts)
}

// And continues the chain with a result-returning check.
func (g Guard[T]) And(next func(T) validation.Result[T]) Guard[T] {
	return Guard[T]{r: g.r.And(next)}
}

// Result returns the outcome of the chain.
func (g Guard[T]) Result() validation.Result[T] { return g.r }

// IsValid reports whether every guard so far passed.
func (g Guard[T]) IsValid() bool { return g.r.IsValid() }

// Err returns the chain's failure as an error, or nil.
func (g Guard[T]) Err() error { return g.r.Err() }

func (g Guard[T]) fail(message string, opts []Option) Guard[T] {
	m := validation.ErrorMessage(message)
	for _, opt := range opts {
		opt(&m)
	}
	return Guard[T]{r: g.r.WithMessages(m)}
}

// Exist looks id up through selector and fails with notFound if it is
// absent. selector is not called once the chain has failed.
func Exist[T, K, E any](g Guard[T], id K, selector func(K) (E, bool), notFound string, opts ...Option) Guard[T] {
	if !g.r.IsValid() {
		return g
	}
	if _, ok := selector(id); ok {
		return g
	}
	return g.fail(notFound, opts)
}

// Then runs fn on the subject if every guard passed.
func Then[T, U any](g Guard[T], fn func(T) validation.Result[U]) validation.Result[U] {
	return validation.Then(g.r, fn)
}
