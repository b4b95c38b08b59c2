// Package metrics declares the instruments used by the core packages. The
// core only talks to these interfaces; adapters/prometheus implements them.
package metrics

// Counter only goes up.
type Counter interface {
	Inc()
	Add(delta float64)
}

// Gauge reports a value that goes up and down, e.g. commands in flight.
type Gauge interface {
	Inc()
	Dec()
	Set(value float64)
}

// Timer measures one operation. It starts when it is created; the caller
// reports completion with ObserveDuration:
//
//	defer m.StoreLoadDuration("account").ObserveDuration()
type Timer interface {
	ObserveDuration()
}
