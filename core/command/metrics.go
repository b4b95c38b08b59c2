package command

import "github.com/codewandler/evbuf-go/core/metrics"

// Metrics defines the instruments of the command processor. All methods are
// safe for concurrent use.
type Metrics interface {
	CommandDuration(command string) metrics.Timer
	CommandProcessed(command string, success bool)
	CommandPanic(command string)
	CommandsInflight(count int)
}

type nopMetrics struct{}

func (nopMetrics) CommandDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) CommandProcessed(string, bool)        {}
func (nopMetrics) CommandPanic(string)                  {}
func (nopMetrics) CommandsInflight(int)                 {}

// NopMetrics returns a Metrics implementation that records nothing.
func NopMetrics() Metrics { return nopMetrics{} }
