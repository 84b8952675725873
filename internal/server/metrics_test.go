package server

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/shipd/internal/alias"
	"github.com/fyrsmithlabs/shipd/internal/pipeline"
)

func TestMetrics_NilReceiverIsSafe(t *testing.T) {
	var m *Metrics

	m.ObserveRun(&pipeline.Run{Status: pipeline.StatusSuccess})
	m.RecordWebhookEvent("push")
	m.RecordWebhookRejection("rate_limit")
}

func TestMetrics_ObserveRun(t *testing.T) {
	m := NewMetrics()
	require.NotNil(t, m)

	// NewMetrics registers globally once; work with deltas.
	runsBefore := testutil.ToFloat64(m.RunsTotal.WithLabelValues("success"))
	publishesBefore := testutil.ToFloat64(m.PublishesTotal.WithLabelValues("stable"))
	promotionsBefore := testutil.ToFloat64(m.PromotionsTotal.WithLabelValues("deploy-stable"))

	run := &pipeline.Run{
		Status: pipeline.StatusSuccess,
		Plan: pipeline.Plan{
			Stages:     []pipeline.Stage{pipeline.StageBuild, pipeline.StagePublish, pipeline.StageDocs},
			Publish:    pipeline.PublishStable,
			DocsAction: alias.ActionDeployStable,
		},
		Stages: []pipeline.StageResult{
			{Stage: pipeline.StageBuild, Status: pipeline.StatusSuccess, Duration: time.Second},
			{Stage: pipeline.StagePublish, Status: pipeline.StatusSuccess, Duration: time.Second},
			{Stage: pipeline.StageDocs, Status: pipeline.StatusSuccess, Duration: time.Second},
		},
	}
	m.ObserveRun(run)

	assert.Equal(t, runsBefore+1, testutil.ToFloat64(m.RunsTotal.WithLabelValues("success")))
	assert.Equal(t, publishesBefore+1, testutil.ToFloat64(m.PublishesTotal.WithLabelValues("stable")))
	assert.Equal(t, promotionsBefore+1, testutil.ToFloat64(m.PromotionsTotal.WithLabelValues("deploy-stable")))
}

func TestMetrics_FailedPublishNotCounted(t *testing.T) {
	m := NewMetrics()

	publishesBefore := testutil.ToFloat64(m.PublishesTotal.WithLabelValues("test"))

	run := &pipeline.Run{
		Status: pipeline.StatusFailure,
		Plan: pipeline.Plan{
			Stages:  []pipeline.Stage{pipeline.StageBuild, pipeline.StagePublish},
			Publish: pipeline.PublishTest,
		},
		Stages: []pipeline.StageResult{
			{Stage: pipeline.StageBuild, Status: pipeline.StatusSuccess},
			{Stage: pipeline.StagePublish, Status: pipeline.StatusFailure, Err: "duplicate version"},
		},
	}
	m.ObserveRun(run)

	assert.Equal(t, publishesBefore, testutil.ToFloat64(m.PublishesTotal.WithLabelValues("test")))
}

func TestMetrics_WebhookCounters(t *testing.T) {
	m := NewMetrics()

	eventsBefore := testutil.ToFloat64(m.WebhookEventsTotal.WithLabelValues("release"))
	rejectionsBefore := testutil.ToFloat64(m.WebhookRejectionsTotal.WithLabelValues("bad_signature"))

	m.RecordWebhookEvent("release")
	m.RecordWebhookRejection("bad_signature")

	assert.Equal(t, eventsBefore+1, testutil.ToFloat64(m.WebhookEventsTotal.WithLabelValues("release")))
	assert.Equal(t, rejectionsBefore+1, testutil.ToFloat64(m.WebhookRejectionsTotal.WithLabelValues("bad_signature")))
}
