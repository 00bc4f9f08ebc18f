// Package telemetry wires the property store's internal counters into
// Prometheus, the way AleutianFOSS and codenerd instrument their own
// long-running services. None of this is on the store's load-bearing
// path: a nil *Metrics disables collection entirely.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the gauges and counters a running phase reports. The store
// itself updates only the update and finalized-state counters; the queue
// depth gauge and quiescence histogram change only through SetQueueDepth
// and ObserveQuiescence, and the active-workers gauge has no setter.
type Metrics struct {
	updates        *prometheus.CounterVec
	queueDepth      prometheus.Gauge
	activeWorkers   prometheus.Gauge
	finalizedStates *prometheus.CounterVec
	quiescenceSecs  prometheus.Histogram
}

// NewMetrics registers the store's collectors against reg. Pass
// prometheus.NewRegistry() for an isolated registry in tests, or
// prometheus.DefaultRegisterer in production.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fpcf",
			Subsystem: "store",
			Name:      "property_updates_total",
			Help:      "Number of EOptionP updates applied, by property kind.",
		}, []string{"kind"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fpcf",
			Subsystem: "store",
			Name:      "work_queue_depth",
			Help:      "Number of pending continuations in the update engine's work queue.",
		}),
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fpcf",
			Subsystem: "store",
			Name:      "active_workers",
			Help:      "Number of worker goroutines currently executing a computation.",
		}),
		finalizedStates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fpcf",
			Subsystem: "store",
			Name:      "finalized_states_total",
			Help:      "Number of (entity, kind) pairs sealed as final, by reason.",
		}, []string{"reason"}),
		quiescenceSecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fpcf",
			Subsystem: "store",
			Name:      "phase_quiescence_seconds",
			Help:      "Wall-clock time from SetupPhase to quiescence.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.updates, m.queueDepth, m.activeWorkers, m.finalizedStates, m.quiescenceSecs)
	return m
}

// ObserveUpdate records one applied update for kindName.
func (m *Metrics) ObserveUpdate(kindName string) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(kindName).Inc()
}

// ObserveFinalized records one state sealed as final, tagged by why:
// "producer", "fallback" or "cycle-resolution".
func (m *Metrics) ObserveFinalized(reason string) {
	if m == nil {
		return
	}
	m.finalizedStates.WithLabelValues(reason).Inc()
}

// SetQueueDepth reports the current backlog.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// ObserveQuiescence records how long a phase took to settle.
func (m *Metrics) ObserveQuiescence(seconds float64) {
	if m == nil {
		return
	}
	m.quiescenceSecs.Observe(seconds)
}
