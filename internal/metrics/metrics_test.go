package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	m := &dto.Metric{}
	if err := (<-ch).Write(m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestPrometheusRecorder_ObserveTransition(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewPrometheus(reg)

	r.ObserveTransition("orders", "order", "confirm", 5*time.Millisecond)
	r.ObserveTransition("orders", "order", "confirm", 10*time.Millisecond)

	pr := r.(*prometheusRecorder)
	got := counterValue(t, pr.transitions.WithLabelValues("orders", "order", "confirm"))
	if got != 2 {
		t.Fatalf("transitions total = %v, want 2", got)
	}
}

func TestPrometheusRecorder_CountersIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewPrometheus(reg)

	r.IncPersistAppend("orders", "order")
	r.IncTimerFired("orders", "order", "timeout")
	r.IncBroadcastProcessed("orders", "order", "matched")

	pr := r.(*prometheusRecorder)
	if got := counterValue(t, pr.persistAppend.WithLabelValues("orders", "order")); got != 1 {
		t.Fatalf("persistAppend = %v, want 1", got)
	}
	if got := counterValue(t, pr.timerFired.WithLabelValues("orders", "order", "timeout")); got != 1 {
		t.Fatalf("timerFired = %v, want 1", got)
	}
	if got := counterValue(t, pr.broadcastProcessed.WithLabelValues("orders", "order", "matched")); got != 1 {
		t.Fatalf("broadcastProcessed = %v, want 1", got)
	}
}

func TestNoop_DoesNotPanic(t *testing.T) {
	r := Noop()
	r.ObserveTransition("a", "b", "c", time.Millisecond)
	r.IncPersistAppend("a", "b")
	r.IncTimerFired("a", "b", "auto")
	r.IncBroadcastProcessed("a", "b", "ok")
}
