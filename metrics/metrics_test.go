package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNoopSinkDoesNotPanic(t *testing.T) {
	Noop.IncHit("GET")
	Noop.IncMiss("GET")
	Noop.IncEviction("allkeys-lru")
	Noop.ObserveCommandLatency("GET", 0.001)
	Noop.SetConnectedClients(5)
	Noop.SetUsedMemory(1024)
	Noop.IncExpired()
}

func TestPromSinkRecordsHitsAndMisses(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewPromSink(reg)

	sink.IncHit("GET")
	sink.IncHit("GET")
	sink.IncMiss("GET")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("unexpected error gathering metrics: %v", err)
	}

	hitCount := findCounterValue(t, families, "emberkv_hits_total", "GET")
	if hitCount != 2 {
		t.Fatalf("expected 2 hits, got %v", hitCount)
	}
	missCount := findCounterValue(t, families, "emberkv_misses_total", "GET")
	if missCount != 1 {
		t.Fatalf("expected 1 miss, got %v", missCount)
	}
}

func findCounterValue(t *testing.T, families []*dto.MetricFamily, name, label string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetValue() == label {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric family %q with label %q not found", name, label)
	return 0
}
