package server

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fyrsmithlabs/shipd/internal/alias"
	"github.com/fyrsmithlabs/shipd/internal/pipeline"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the daemon, served on /metrics.
type Metrics struct {
	// Pipeline outcomes
	RunsTotal       *prometheus.CounterVec
	StagesTotal     *prometheus.CounterVec
	PublishesTotal  *prometheus.CounterVec
	PromotionsTotal *prometheus.CounterVec

	// Webhook intake
	WebhookEventsTotal     *prometheus.CounterVec
	WebhookRejectionsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers the daemon's Prometheus metrics.
//
// This function uses sync.Once so metrics register only once globally,
// preventing "duplicate metrics collector registration" panics.
//
// All metrics are prefixed with "shipd_":
//   - shipd_runs_total{status} - Completed runs by terminal status
//   - shipd_stages_total{stage,status} - Stage executions by outcome
//   - shipd_publishes_total{index} - Successful artifact publishes per index
//   - shipd_alias_promotions_total{action} - Docs alias promotions applied
//   - shipd_webhook_events_total{event} - Accepted webhook events by kind
//   - shipd_webhook_rejections_total{reason} - Rejected webhook deliveries
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			RunsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "shipd_runs_total",
					Help: "Total completed pipeline runs by terminal status",
				},
				[]string{"status"},
			),

			StagesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "shipd_stages_total",
					Help: "Total stage executions by stage and outcome",
				},
				[]string{"stage", "status"},
			),

			PublishesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "shipd_publishes_total",
					Help: "Total successful artifact publishes by package index",
				},
				[]string{"index"},
			),

			PromotionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "shipd_alias_promotions_total",
					Help: "Total docs alias promotions applied, by promotion action",
				},
				[]string{"action"},
			),

			WebhookEventsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "shipd_webhook_events_total",
					Help: "Total accepted webhook events by normalized kind",
				},
				[]string{"event"},
			),

			WebhookRejectionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "shipd_webhook_rejections_total",
					Help: "Total rejected webhook deliveries by reason",
				},
				[]string{"reason"},
			),
		}
	})

	return globalMetrics
}

// ObserveRun records the aggregate and per-stage outcomes of a
// completed run. Publish and promotion counters derive from the plan's
// routing plus the corresponding stage outcome.
func (m *Metrics) ObserveRun(run *pipeline.Run) {
	if m == nil || run == nil {
		return
	}

	m.RunsTotal.WithLabelValues(string(run.Status)).Inc()

	for _, res := range run.Stages {
		m.StagesTotal.WithLabelValues(string(res.Stage), string(res.Status)).Inc()

		if res.Status != pipeline.StatusSuccess {
			continue
		}
		switch res.Stage {
		case pipeline.StagePublish:
			if run.Plan.Publish != pipeline.PublishNone {
				m.PublishesTotal.WithLabelValues(string(run.Plan.Publish)).Inc()
			}
		case pipeline.StageDocs, pipeline.StageDevDocs:
			if run.Plan.DocsAction != alias.ActionNone {
				m.PromotionsTotal.WithLabelValues(string(run.Plan.DocsAction)).Inc()
			}
		}
	}
}

// RecordWebhookEvent counts one accepted webhook event.
func (m *Metrics) RecordWebhookEvent(kind string) {
	if m == nil {
		return
	}
	m.WebhookEventsTotal.WithLabelValues(kind).Inc()
}

// RecordWebhookRejection counts one rejected webhook delivery.
func (m *Metrics) RecordWebhookRejection(reason string) {
	if m == nil {
		return
	}
	m.WebhookRejectionsTotal.WithLabelValues(reason).Inc()
}
