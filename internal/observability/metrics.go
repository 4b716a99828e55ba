// Package observability holds the Prometheus metrics of the fire-alert pipeline.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "firealert"

// Metrics holds the Prometheus counters, histograms, and gauges for the pipeline.
type Metrics struct {
	// Ingestion metrics. labels: client_id
	EventsFetched    *prometheus.CounterVec
	EventsCreated    *prometheus.CounterVec
	EventsDuplicates *prometheus.CounterVec

	// Matching and emission metrics.
	AlertsCreated          *prometheus.CounterVec // labels: client_id
	NotificationsCreated   prometheus.Counter
	NotificationsDelivered *prometheus.CounterVec // labels: method, outcome={delivered,pending}

	// Run metrics.
	ProviderFailures *prometheus.CounterVec   // labels: stage, class={transient,permanent}
	ProviderDuration *prometheus.HistogramVec // labels: client_id
	RunDuration      prometheus.Histogram
	RunsLocked       prometheus.Counter
	QueueInFlight    prometheus.Gauge
}

// NewMetrics creates all pipeline metrics and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_fetched_total",
			Help:      "Events returned by provider adapters.",
		}, []string{"client_id"}),
		EventsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_created_total",
			Help:      "Events written to storage.",
		}, []string{"client_id"}),
		EventsDuplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_duplicates_total",
			Help:      "Fetched events dropped as duplicates in memory or within the dedup window.",
		}, []string{"client_id"}),
		AlertsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "site_alerts_created_total",
			Help:      "Site alerts created by spatial matching.",
		}, []string{"client_id"}),
		NotificationsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_created_total",
			Help:      "Notification records derived from site alerts.",
		}),
		NotificationsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dispatched_total",
			Help:      "Notifier calls by alert method and outcome.",
		}, []string{"method", "outcome"}),
		ProviderFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_failures_total",
			Help:      "Failed provider cycles by stage and error class.",
		}, []string{"stage", "class"}),
		ProviderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_cycle_duration_seconds",
			Help:      "Duration of one provider fetch, ingest and match cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"client_id"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete orchestrator run.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		RunsLocked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_locked_total",
			Help:      "Runs rejected because another run held the lock.",
		}),
		QueueInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_in_flight",
			Help:      "Provider tasks currently executing.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.EventsFetched,
			m.EventsCreated,
			m.EventsDuplicates,
			m.AlertsCreated,
			m.NotificationsCreated,
			m.NotificationsDelivered,
			m.ProviderFailures,
			m.ProviderDuration,
			m.RunDuration,
			m.RunsLocked,
			m.QueueInFlight,
		)
	}
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return NewMetrics(nil)
}
