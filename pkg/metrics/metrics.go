// Package metrics is the observability surface lsmcloud's components
// report through: every collaborator in pkg/cloudenv takes a Collector
// and never imports a metrics backend directly, the same separation the
// teacher draws between its packages and its own internal/metrics.
package metrics

// Collector captures counters, gauges and histograms. Grounded on the
// teacher's own metrics surface (internal/metrics), generalized from the
// teacher's package of fixed global vars into an interface so cloudenv's
// collaborators can be tested against a no-op without touching a real
// registry.
type Collector interface {
	IncCounter(name string, labels map[string]string, delta float64)
	SetGauge(name string, labels map[string]string, value float64)
	ObserveHistogram(name string, labels map[string]string, value float64)
}