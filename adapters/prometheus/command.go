package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/evbuf-go/core/command"
	"github.com/codewandler/evbuf-go/core/metrics"
)

// CommandMetrics implements command.Metrics.
type CommandMetrics struct {
	duration  *prometheus.HistogramVec
	processed *prometheus.CounterVec
	panics    *prometheus.CounterVec
	inflight  prometheus.Gauge
}

func NewCommandMetrics(reg prometheus.Registerer) *CommandMetrics {
	m := &CommandMetrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Command handling time in seconds",
			Buckets:   defaultBuckets,
		}, []string{"command"}),

		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Total number of commands handled",
		}, []string{"command", "success"}),

		panics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_panics_total",
			Help:      "Total number of command handler panics",
		}, []string{"command"}),

		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "commands_inflight",
			Help:      "Number of commands currently being handled",
		}),
	}

	reg.MustRegister(m.duration, m.processed, m.panics, m.inflight)
	return m
}

func (m *CommandMetrics) CommandDuration(cmd string) metrics.Timer {
	return newTimer(m.duration.WithLabelValues(cmd))
}

func (m *CommandMetrics) CommandProcessed(cmd string, success bool) {
	m.processed.WithLabelValues(cmd, boolToStr(success)).Inc()
}

func (m *CommandMetrics) CommandPanic(cmd string) { m.panics.WithLabelValues(cmd).Inc() }

func (m *CommandMetrics) CommandsInflight(count int) { m.inflight.Set(float64(count)) }

var _ command.Metrics = (*CommandMetrics)(nil)
