// Package es is an event-sourcing core: aggregates derive their state by
// replaying an ordered sequence of immutable events and change it only by
// appending new events after the resulting state has been validated.
//
// # Aggregates
//
// An aggregate is a struct embedding [Root] that declares one handler per
// event type with [On]:
//
//	type Account struct {
//	    es.Root[Account, uuid.UUID]
//	    balance int64
//	}
//
//	func (*Account) EventHandlers() []es.Handler[Account] {
//	    return []es.Handler[Account]{
//	        es.On((*Account).onDeposited),
//	    }
//	}
//
//	func (a *Account) onDeposited(e Deposited) { a.balance += e.Amount }
//
// The handler table is built once per aggregate type and shared process-wide
// (see [DispatcherFor]).
//
// Aggregates are values. [Root.ApplyEvents] replays the current history into
// a fresh instance, applies the new events to it, runs the validator and
// returns the new instance; the receiver is never modified:
//
//	res, err := account.ApplyEvent(Deposited{Amount: 10})
//	if err != nil {
//	    return err // misuse: no events, or an event Account does not handle
//	}
//	next, ok := res.Get()
//	if !ok {
//	    return res.Err() // rejected by the validator
//	}
//
// # Event buffer
//
// Each aggregate owns an [EventBuffer] separating committed events from the
// ones not yet stored. [SelectUncommitted] numbers the uncommitted events
// CommittedVersion+1, +2, ... which is the numbering stores persist.
//
// # Storage
//
// [EventStore] persists envelopes per stream with optimistic concurrency:
// an append fails with a [*ConcurrencyError] if the stream moved past the
// expected version. [Repository] ties an aggregate type to a store and a
// [TypeRegistry]:
//
//	repo := es.NewRepository[Account, uuid.UUID](store, registry, es.WithCacheLRU(1000))
//	res, err := repo.Update(ctx, id, func(a *Account) (validation.Result[*Account], error) {
//	    return a.Deposit(10)
//	})
//
// Loading verifies that the stored history is complete before any handler
// runs. Stored events of unknown types decode to [UnknownEvent] and are
// skipped on replay, so older releases can read streams written by newer
// ones.
package es
