// Package metrics exposes Prometheus collectors for dispatch activity,
// breaker transitions, and rate limit rejections.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zen-systems/tiergate/pkg/backend"
	"github.com/zen-systems/tiergate/pkg/trace"
)

// Metrics exposes Prometheus collectors that report engine activity.
// All methods are nil-safe so callers can pass a nil *Metrics to
// disable instrumentation.
type Metrics struct {
	dispatchDuration *prometheus.HistogramVec
	dispatchTotal    *prometheus.CounterVec
	breakerChanges   *prometheus.CounterVec
	rateLimitReject  *prometheus.CounterVec
	subtasksActive   prometheus.Gauge
	queriesTotal     *prometheus.CounterVec
}

var (
	defaultOnce   sync.Once
	sharedMetrics *Metrics
)

// Default returns the package-level metrics instance registered with
// the global Prometheus registry. Collectors are created once to avoid
// duplicate registration panics when the engine is instantiated
// multiple times.
func Default() *Metrics {
	defaultOnce.Do(func() {
		sharedMetrics = MustNew(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNew constructs a Metrics instance using the provided registerer.
// Supply a fresh registry in tests. Registration errors other than
// AlreadyRegistered panic, surfacing configuration bugs early.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	dispatchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tiergate",
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Duration of backend calls.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "tier"},
	)
	dispatchTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiergate",
			Subsystem: "dispatch",
			Name:      "total",
			Help:      "Dispatch attempts by outcome.",
		},
		[]string{"provider", "tier", "outcome"},
	)
	breakerChanges := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiergate",
			Subsystem: "breaker",
			Name:      "transitions_total",
			Help:      "Circuit breaker state transitions.",
		},
		[]string{"name", "to"},
	)
	rateLimitReject := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiergate",
			Subsystem: "ratelimit",
			Name:      "rejections_total",
			Help:      "Dispatches rejected by a drained token bucket.",
		},
		[]string{"provider"},
	)
	subtasksActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tiergate",
			Subsystem: "scheduler",
			Name:      "subtasks_active",
			Help:      "Subtasks currently executing.",
		},
	)
	queriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiergate",
			Subsystem: "engine",
			Name:      "queries_total",
			Help:      "Queries handled, by final status.",
		},
		[]string{"status"},
	)

	collectors := []prometheus.Collector{
		dispatchDuration, dispatchTotal, breakerChanges,
		rateLimitReject, subtasksActive, queriesTotal,
	}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch collector {
				case dispatchDuration:
					dispatchDuration = already.ExistingCollector.(*prometheus.HistogramVec)
				case dispatchTotal:
					dispatchTotal = already.ExistingCollector.(*prometheus.CounterVec)
				case breakerChanges:
					breakerChanges = already.ExistingCollector.(*prometheus.CounterVec)
				case rateLimitReject:
					rateLimitReject = already.ExistingCollector.(*prometheus.CounterVec)
				case subtasksActive:
					subtasksActive = already.ExistingCollector.(prometheus.Gauge)
				case queriesTotal:
					queriesTotal = already.ExistingCollector.(*prometheus.CounterVec)
				}
				continue
			}
			panic(err)
		}
	}

	return &Metrics{
		dispatchDuration: dispatchDuration,
		dispatchTotal:    dispatchTotal,
		breakerChanges:   breakerChanges,
		rateLimitReject:  rateLimitReject,
		subtasksActive:   subtasksActive,
		queriesTotal:     queriesTotal,
	}
}

// ObserveDispatch records one backend call with its outcome and duration.
func (m *Metrics) ObserveDispatch(provider backend.Provider, tier backend.Tier, outcome trace.Outcome, duration time.Duration) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(string(provider), string(tier), string(outcome)).Inc()
	m.dispatchDuration.WithLabelValues(string(provider), string(tier)).Observe(duration.Seconds())
}

// IncBreakerTransition records a breaker state change.
func (m *Metrics) IncBreakerTransition(name, to string) {
	if m == nil {
		return
	}
	m.breakerChanges.WithLabelValues(name, to).Inc()
}

// IncRateLimitRejection records a bucket rejection.
func (m *Metrics) IncRateLimitRejection(provider backend.Provider) {
	if m == nil {
		return
	}
	m.rateLimitReject.WithLabelValues(string(provider)).Inc()
}

// IncActiveSubtasks marks a subtask as running.
func (m *Metrics) IncActiveSubtasks() {
	if m == nil {
		return
	}
	m.subtasksActive.Inc()
}

// DecActiveSubtasks marks a subtask as finished.
func (m *Metrics) DecActiveSubtasks() {
	if m == nil {
		return
	}
	m.subtasksActive.Dec()
}

// IncQuery records a handled query by final status.
func (m *Metrics) IncQuery(status string) {
	if m == nil {
		return
	}
	m.queriesTotal.WithLabelValues(status).Inc()
}
