package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gatherValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		m := fam.GetMetric()[0]
		switch {
		case m.Counter != nil:
			return m.Counter.GetValue()
		case m.Gauge != nil:
			return m.Gauge.GetValue()
		}
	}
	t.Fatalf("metric %q not found", name)
	return 0
}

func TestIncCounterAccumulates(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.IncCounter("cloudenv_opens_total", map[string]string{"mode": "cloud-full"}, 1)
	c.IncCounter("cloudenv_opens_total", map[string]string{"mode": "cloud-full"}, 2)

	if got := gatherValue(t, reg, "cloudenv_opens_total"); got != 3 {
		t.Fatalf("expected accumulated value 3, got %v", got)
	}
}

func TestSetGaugeOverwrites(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.SetGauge("pending_deletes", nil, 5)
	c.SetGauge("pending_deletes", nil, 2)

	if got := gatherValue(t, reg, "pending_deletes"); got != 2 {
		t.Fatalf("expected latest value 2, got %v", got)
	}
}

func TestObserveHistogramRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.ObserveHistogram("read_latency_seconds", map[string]string{"kind": "data"}, 0.1)
	c.ObserveHistogram("read_latency_seconds", map[string]string{"kind": "data"}, 0.2)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var found *dto.MetricFamily
	for _, fam := range families {
		if fam.GetName() == "read_latency_seconds" {
			found = fam
		}
	}
	if found == nil {
		t.Fatalf("histogram not registered")
	}
	if got := found.GetMetric()[0].Histogram.GetSampleCount(); got != 2 {
		t.Fatalf("expected 2 observations, got %d", got)
	}
}
