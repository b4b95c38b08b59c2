package es

import "github.com/codewandler/evbuf-go/core/metrics"

// ESMetrics instruments stores and repositories. Implementations must be
// safe for concurrent use.
type ESMetrics interface {
	// Store operations
	StoreLoadDuration(aggType string) metrics.Timer
	StoreAppendDuration(aggType string) metrics.Timer
	EventsAppended(aggType string, count int)

	// Repository operations
	RepoLoadDuration(aggType string) metrics.Timer
	RepoSaveDuration(aggType string) metrics.Timer
	ConcurrencyConflict(aggType string)
	ValidationRejected(aggType string)

	// Replay
	EventsReplayed(aggType string, count int)
	UnknownEventSkipped(aggType, eventType string)

	// Cache
	CacheHit(aggType string)
	CacheMiss(aggType string)
}

type nopESMetrics struct{}

func (nopESMetrics) StoreLoadDuration(string) metrics.Timer   { return metrics.NopTimer() }
func (nopESMetrics) StoreAppendDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) EventsAppended(string, int)               {}

func (nopESMetrics) RepoLoadDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) RepoSaveDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) ConcurrencyConflict(string)            {}
func (nopESMetrics) ValidationRejected(string)             {}

func (nopESMetrics) EventsReplayed(string, int)         {}
func (nopESMetrics) UnknownEventSkipped(string, string) {}

func (nopESMetrics) CacheHit(string)  {}
func (nopESMetrics) CacheMiss(string) {}

// NopESMetrics returns an ESMetrics that records nothing.
func NopESMetrics() ESMetrics { return nopESMetrics{} }
