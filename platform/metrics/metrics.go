// Package metrics provides Prometheus instrumentation for the ingestion and sync paths.
// All methods are nil-safe so components can run without metrics in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector exported by the service.
type Metrics struct {
	WebhookEvents       *prometheus.CounterVec
	WebhookDispatchDrop *prometheus.CounterVec
	Resolutions         *prometheus.CounterVec
	Upserts             *prometheus.CounterVec
	UpsertLatency       prometheus.Histogram
	SyncLeads           *prometheus.CounterVec
	SyncDuration        *prometheus.HistogramVec
	Escalations         *prometheus.CounterVec
	CRMRequests         *prometheus.CounterVec
	BackgroundErrors    *prometheus.CounterVec
}

// New registers all collectors on reg. Pass prometheus.DefaultRegisterer in binaries.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		WebhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "leadsync_webhook_events_total",
			Help: "Inbound webhook deliveries by provider and outcome",
		}, []string{"provider", "outcome"}), // outcome: accepted, duplicate, dropped, invalid

		WebhookDispatchDrop: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "leadsync_webhook_dispatch_dropped_total",
			Help: "Acknowledged webhook jobs that could not be queued for processing",
		}, []string{"kind"}),

		Resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "leadsync_attribution_resolutions_total",
			Help: "Attribution resolutions by confidence",
		}, []string{"confidence"}),

		Upserts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "leadsync_lead_upserts_total",
			Help: "Lead upserts by outcome",
		}, []string{"outcome"}), // outcome: created, upgraded, filled, unchanged, failed

		UpsertLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "leadsync_lead_upsert_duration_seconds",
			Help:    "Duration of a single lead upsert including retries",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		SyncLeads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "leadsync_crm_sync_leads_total",
			Help: "Leads visited by CRM sync passes by result",
		}, []string{"result"}), // result: updated, unchanged, error

		SyncDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "leadsync_sync_duration_seconds",
			Help:    "Duration of synchronization passes by kind",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"kind"}), // kind: catalog, leads

		Escalations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "leadsync_escalations_total",
			Help: "Manual-match escalations by delivery channel and outcome",
		}, []string{"channel", "outcome"}),

		CRMRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "leadsync_crm_requests_total",
			Help: "Outbound CRM API requests by endpoint and status class",
		}, []string{"endpoint", "status"}),

		BackgroundErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "leadsync_background_errors_total",
			Help: "Errors raised by asynchronous work after the webhook was acknowledged",
		}, []string{"stage"}),
	}
}

// IncWebhook records an inbound delivery outcome.
func (m *Metrics) IncWebhook(provider, outcome string) {
	if m != nil {
		m.WebhookEvents.WithLabelValues(provider, outcome).Inc()
	}
}

// IncDispatchDropped records a job that was acknowledged but not queued.
func (m *Metrics) IncDispatchDropped(kind string) {
	if m != nil {
		m.WebhookDispatchDrop.WithLabelValues(kind).Inc()
	}
}

// IncResolution records the confidence of an attribution resolution.
func (m *Metrics) IncResolution(confidence string) {
	if m != nil {
		m.Resolutions.WithLabelValues(confidence).Inc()
	}
}

// ObserveUpsert records an upsert outcome and its duration.
func (m *Metrics) ObserveUpsert(outcome string, d time.Duration) {
	if m != nil {
		m.Upserts.WithLabelValues(outcome).Inc()
		m.UpsertLatency.Observe(d.Seconds())
	}
}

// AddSyncLeads records per-lead results of a sync pass.
func (m *Metrics) AddSyncLeads(updated, unchanged, errors int) {
	if m != nil {
		m.SyncLeads.WithLabelValues("updated").Add(float64(updated))
		m.SyncLeads.WithLabelValues("unchanged").Add(float64(unchanged))
		m.SyncLeads.WithLabelValues("error").Add(float64(errors))
	}
}

// ObserveSync records the duration of a sync pass.
func (m *Metrics) ObserveSync(kind string, d time.Duration) {
	if m != nil {
		m.SyncDuration.WithLabelValues(kind).Observe(d.Seconds())
	}
}

// IncEscalation records a notification attempt.
func (m *Metrics) IncEscalation(channel, outcome string) {
	if m != nil {
		m.Escalations.WithLabelValues(channel, outcome).Inc()
	}
}

// IncCRMRequest records an outbound CRM call.
func (m *Metrics) IncCRMRequest(endpoint, status string) {
	if m != nil {
		m.CRMRequests.WithLabelValues(endpoint, status).Inc()
	}
}

// IncBackgroundError records a failure in asynchronous processing.
func (m *Metrics) IncBackgroundError(stage string) {
	if m != nil {
		m.BackgroundErrors.WithLabelValues(stage).Inc()
	}
}
