package ops

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus instrumentation.
type Metrics struct {
	EventsIngested  *prometheus.CounterVec
	EventsRejected  *prometheus.CounterVec
	Cycles          prometheus.Counter
	Refits          prometheus.Counter
	Actions         *prometheus.CounterVec
	AugmentFallback prometheus.Counter
	ActiveSessions  prometheus.Gauge
	CycleDuration   prometheus.Histogram
}

func NewMetrics() *Metrics {
	return &Metrics{
		EventsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bioguard_events_ingested_total",
				Help: "Behavior events accepted, by source",
			},
			[]string{"source"},
		),
		EventsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bioguard_events_rejected_total",
				Help: "Behavior events rejected at ingestion, by reason",
			},
			[]string{"reason"},
		),
		Cycles: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bioguard_evaluation_cycles_total",
				Help: "Evaluation cycles completed",
			},
		),
		Refits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bioguard_baseline_refits_total",
				Help: "Baseline profile refits committed",
			},
		),
		Actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bioguard_enforcement_actions_total",
				Help: "Enforcement actions emitted, by action",
			},
			[]string{"action"},
		),
		AugmentFallback: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bioguard_augment_fallback_total",
				Help: "Threat assessments that fell back to the rule core",
			},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bioguard_active_sessions",
				Help: "Sessions currently tracked by the engine",
			},
		),
		CycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bioguard_cycle_duration_seconds",
				Help:    "Evaluation cycle latency",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
		),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.EventsIngested,
		m.EventsRejected,
		m.Cycles,
		m.Refits,
		m.Actions,
		m.AugmentFallback,
		m.ActiveSessions,
		m.CycleDuration,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
