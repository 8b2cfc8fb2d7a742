// Package metrics exposes the runtime's Prometheus instrumentation.
// Grounded on the teacher's pkg/observability/prometheus/metrics.go:
// same promauto.With(registerer) construction so every collector is
// automatically registered, the same convenience-method shape (one
// Record/Observe method per concern rather than exposing raw vectors
// to callers).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder is the instrumentation surface the engine, timer service and
// broker call into. Nil-safe via Noop(), so components that don't care
// about metrics never have to guard a nil check.
type Recorder interface {
	// ObserveTransition records one committed transition (regular,
	// auto, timeout, inter_machine or internal) and how long its
	// commit protocol took.
	ObserveTransition(component, machine, transition string, d time.Duration)
	// IncPersistAppend counts one successful append to the event store.
	IncPersistAppend(component, machine string)
	// IncTimerFired counts one timeout/auto transition delivered by
	// the timer service.
	IncTimerFired(component, machine, kind string)
	// IncBroadcastProcessed counts one instance visited by a
	// BroadcastEvent (outcome "ok" or "error") or a cascade fan-out
	// (outcome "matched" or "skipped").
	IncBroadcastProcessed(component, machine, outcome string)
}

type prometheusRecorder struct {
	transitions        *prometheus.CounterVec
	transitionDuration *prometheus.HistogramVec
	persistAppend      *prometheus.CounterVec
	timerFired         *prometheus.CounterVec
	broadcastProcessed *prometheus.CounterVec
}

// NewPrometheus registers the fixed set of FSM collectors against
// registerer and returns a Recorder backed by them. Pass
// prometheus.DefaultRegisterer for the global registry, or a fresh
// prometheus.NewRegistry() in tests to avoid collector-already-registered
// panics across parallel test runs.
func NewPrometheus(registerer prometheus.Registerer) Recorder {
	return &prometheusRecorder{
		transitions: promauto.With(registerer).NewCounterVec(prometheus.CounterOpts{
			Name: "fsm_transitions_total",
			Help: "Total number of committed FSM transitions.",
		}, []string{"component", "machine", "transition"}),
		transitionDuration: promauto.With(registerer).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fsm_transition_duration_seconds",
			Help:    "Duration of the transition commit protocol (exit, persist, entry, cascades).",
			Buckets: prometheus.DefBuckets,
		}, []string{"component", "machine", "transition"}),
		persistAppend: promauto.With(registerer).NewCounterVec(prometheus.CounterOpts{
			Name: "fsm_persist_append_total",
			Help: "Total number of events appended to the event store.",
		}, []string{"component", "machine"}),
		timerFired: promauto.With(registerer).NewCounterVec(prometheus.CounterOpts{
			Name: "fsm_timer_fired_total",
			Help: "Total number of timeout/auto transitions delivered by the timer service.",
		}, []string{"component", "machine", "kind"}),
		broadcastProcessed: promauto.With(registerer).NewCounterVec(prometheus.CounterOpts{
			Name: "fsm_broadcast_processed_total",
			Help: "Total number of instances visited by a broadcast or cascade fan-out.",
		}, []string{"component", "machine", "outcome"}),
	}
}

func (r *prometheusRecorder) ObserveTransition(component, machine, transition string, d time.Duration) {
	r.transitions.WithLabelValues(component, machine, transition).Inc()
	r.transitionDuration.WithLabelValues(component, machine, transition).Observe(d.Seconds())
}

func (r *prometheusRecorder) IncPersistAppend(component, machine string) {
	r.persistAppend.WithLabelValues(component, machine).Inc()
}

func (r *prometheusRecorder) IncTimerFired(component, machine, kind string) {
	r.timerFired.WithLabelValues(component, machine, kind).Inc()
}

func (r *prometheusRecorder) IncBroadcastProcessed(component, machine, outcome string) {
	r.broadcastProcessed.WithLabelValues(component, machine, outcome).Inc()
}

type noopRecorder struct{}

func (noopRecorder) ObserveTransition(string, string, string, time.Duration) {}
func (noopRecorder) IncPersistAppend(string, string)                        {}
func (noopRecorder) IncTimerFired(string, string, string)                   {}
func (noopRecorder) IncBroadcastProcessed(string, string, string)           {}

// Noop returns a Recorder whose methods do nothing, for callers that
// construct an Engine without wiring Prometheus.
func Noop() Recorder { return noopRecorder{} }
