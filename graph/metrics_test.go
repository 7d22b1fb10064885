package graph

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestPrometheusMetrics_NilSafe(t *testing.T) {
	var pm *PrometheusMetrics

	pm.AddInflight(1)
	pm.RecordStepLatency("g", "n", time.Millisecond, "success")
	pm.ObserveFanout("g", 3)
	pm.IncrementInterrupts("g", "n")
	pm.IncrementCheckpoints("g", "done")
	pm.IncrementRetries("n", "error")
	pm.AddTokens("worker", 10, 5)
}

func TestPrometheusMetrics_Disable(t *testing.T) {
	registry := prometheus.NewRegistry()
	pm := NewPrometheusMetrics(registry)

	pm.Disable()
	pm.AddTokens("worker", 10, 5)
	pm.Enable()
	pm.AddTokens("planner", 7, 0)

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	got := make(map[string]float64)
	for _, mf := range families {
		if mf.GetName() != "research_tokens_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			key := ""
			for _, lp := range m.GetLabel() {
				key += lp.GetName() + "=" + lp.GetValue() + ";"
			}
			got[key] = m.GetCounter().GetValue()
		}
	}

	if len(got) != 1 || got["component=planner;direction=input;"] != 7 {
		t.Errorf("expected only planner input tokens, got %v", got)
	}
}
