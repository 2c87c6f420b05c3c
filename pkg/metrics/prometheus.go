package metrics

import (
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector is a Collector backed by a prometheus.Registerer.
// Unlike the teacher's internal/metrics (a fixed set of package-level
// vars declared up front with promauto), lsmcloud's collaborators report
// metrics by name at call sites scattered across several packages, so
// vectors are created lazily on first use and cached by name plus the
// sorted set of label keys seen for that name. A given metric name is
// expected to always be called with the same label keys; mixing label
// sets for one name falls back to a label-less vector (the first form is
// observed and stuck with) rather than panicking.
type PrometheusCollector struct {
	reg prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusCollector returns a Collector that registers its vectors
// against reg as they are first used.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	return &PrometheusCollector{
		reg:        reg,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func sortedKeys(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func labelValues(keys []string, labels map[string]string) []string {
	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = labels[k]
	}
	return values
}

func metricName(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}

func (p *PrometheusCollector) IncCounter(name string, labels map[string]string, delta float64) {
	keys := sortedKeys(labels)
	p.mu.Lock()
	vec, ok := p.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricName(name),
			Help: name,
		}, keys)
		p.reg.MustRegister(vec)
		p.counters[name] = vec
	}
	p.mu.Unlock()
	vec.WithLabelValues(labelValues(keys, labels)...).Add(delta)
}

func (p *PrometheusCollector) SetGauge(name string, labels map[string]string, value float64) {
	keys := sortedKeys(labels)
	p.mu.Lock()
	vec, ok := p.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metricName(name),
			Help: name,
		}, keys)
		p.reg.MustRegister(vec)
		p.gauges[name] = vec
	}
	p.mu.Unlock()
	vec.WithLabelValues(labelValues(keys, labels)...).Set(value)
}

func (p *PrometheusCollector) ObserveHistogram(name string, labels map[string]string, value float64) {
	keys := sortedKeys(labels)
	p.mu.Lock()
	vec, ok := p.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metricName(name),
			Help:    name,
			Buckets: prometheus.DefBuckets,
		}, keys)
		p.reg.MustRegister(vec)
		p.histograms[name] = vec
	}
	p.mu.Unlock()
	vec.WithLabelValues(labelValues(keys, labels)...).Observe(value)
}

var _ Collector = (*PrometheusCollector)(nil)
