// Package metrics exposes Prometheus instrumentation for the webhook pipeline.
// This is part of the platform layer and contains no business logic.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "salesops"

// Metrics holds the pipeline collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	webhookEventsTotal        *prometheus.CounterVec
	webhookProcessingDuration *prometheus.HistogramVec
	stageTransitionsTotal     *prometheus.CounterVec
	postCommitFailuresTotal   *prometheus.CounterVec
	dealsTotal                *prometheus.CounterVec
	contactResolutionsTotal   *prometheus.CounterVec
	reprocessTotal            *prometheus.CounterVec
}

// New registers the collectors on reg. gatherer backs Handler and may be nil
// when reg is also a Gatherer.
func New(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)
	if gatherer == nil {
		if g, ok := reg.(prometheus.Gatherer); ok {
			gatherer = g
		}
	}

	return &Metrics{
		gatherer: gatherer,

		webhookEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Inbound webhook invocations by source and terminal status.",
		}, []string{"source", "status"}),

		webhookProcessingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "processing_duration_seconds",
			Help:      "Duration of webhook processing in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),

		stageTransitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "automation",
			Name:      "stage_transitions_total",
			Help:      "Stage automation outcomes by trigger source.",
		}, []string{"trigger", "outcome"}),

		postCommitFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "automation",
			Name:      "post_commit_failures_total",
			Help:      "Failed best-effort steps after a stage change.",
		}, []string{"step"}),

		dealsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deals",
			Name:      "reconciled_total",
			Help:      "Deal reconciliation outcomes.",
		}, []string{"outcome"}),

		contactResolutionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "contacts",
			Name:      "resolutions_total",
			Help:      "Identity resolutions by winning strategy.",
		}, []string{"strategy"}),

		reprocessTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "reprocess_total",
			Help:      "Replayed webhook events by result.",
		}, []string{"result", "dry_run"}),
	}
}

// NewDefault registers on the process-wide default registry.
func NewDefault() *Metrics {
	return New(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// Handler serves the registered collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordWebhookEvent(source, status string) {
	if m == nil {
		return
	}
	m.webhookEventsTotal.WithLabelValues(source, status).Inc()
}

func (m *Metrics) RecordWebhookDuration(source string, duration time.Duration) {
	if m == nil {
		return
	}
	m.webhookProcessingDuration.WithLabelValues(source).Observe(duration.Seconds())
}

func (m *Metrics) RecordStageTransition(trigger, outcome string) {
	if m == nil {
		return
	}
	m.stageTransitionsTotal.WithLabelValues(trigger, outcome).Inc()
}

func (m *Metrics) RecordPostCommitFailure(step string) {
	if m == nil {
		return
	}
	m.postCommitFailuresTotal.WithLabelValues(step).Inc()
}

func (m *Metrics) RecordDealOutcome(outcome string) {
	if m == nil {
		return
	}
	m.dealsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordContactResolution(strategy string) {
	if m == nil {
		return
	}
	m.contactResolutionsTotal.WithLabelValues(strategy).Inc()
}

func (m *Metrics) RecordReprocess(result string, dryRun bool) {
	if m == nil {
		return
	}
	flag := "false"
	if dryRun {
		flag = "true"
	}
	m.reprocessTotal.WithLabelValues(result, flag).Inc()
}
