package integration

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipd/internal/build"
	"github.com/fyrsmithlabs/shipd/internal/command"
	"github.com/fyrsmithlabs/shipd/internal/config"
	"github.com/fyrsmithlabs/shipd/internal/docstore"
	"github.com/fyrsmithlabs/shipd/internal/manifest"
	"github.com/fyrsmithlabs/shipd/internal/pipeline"
	"github.com/fyrsmithlabs/shipd/internal/registry"
	"github.com/fyrsmithlabs/shipd/internal/runs"
	"github.com/fyrsmithlabs/shipd/internal/server"
	"github.com/fyrsmithlabs/shipd/internal/stages"
)

const (
	webhookSecret = "shipd-integration-secret"
	shaA          = "aaf02f6bba15c79bcae21a07e9b021b4305d4076"
	shaB          = "be11ab8a571e3c64b2f7c0bd72dc0e4075d0d41f"
)

// daemon wires the full daemon stack in process: real dispatcher, real
// stage handlers, real HTTP surface. Only the package indexes and the
// doc store are in-memory.
type daemon struct {
	srv       *server.Server
	disp      *server.LocalDispatcher
	reg       *runs.Registry
	stableIdx *registry.MemTarget
	testIdx   *registry.MemTarget
	docs      *docstore.MemDocStore
}

func newDaemon(t *testing.T, mutate ...func(*manifest.Manifest)) *daemon {
	t.Helper()

	repoDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(repoDir, "site"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(repoDir, "site", "index.html"), []byte("<h1>shipper docs</h1>"), 0o644))

	man := &manifest.Manifest{
		Package: manifest.PackageConfig{Name: "shipper", DefaultBranch: "main"},
		Test:    manifest.TestConfig{Command: "true"},
		Build: manifest.BuildConfig{
			Command:       "mkdir -p dist && echo artifact > dist/shipper.txt",
			OutputDir:     "dist",
			RetentionDays: 14,
		},
		Docs: manifest.DocsConfig{SourceDir: "site", Title: "shipper"},
	}
	for _, m := range mutate {
		m(man)
	}

	builder, err := build.NewBuilder(command.NewRunner(), zap.NewNop(), build.WithStagingDir(t.TempDir()))
	require.NoError(t, err)

	d := &daemon{
		reg:       runs.NewRegistry(),
		stableIdx: registry.NewMemTarget("stable"),
		testIdx:   registry.NewMemTarget("test"),
		docs:      docstore.NewMemDocStore(),
	}

	runner := pipeline.NewRunner(zap.NewNop(), pipeline.WithStageCallback(d.reg.Callback()))
	require.NoError(t, stages.Register(runner, stages.Deps{
		RepoDir:     repoDir,
		Manifest:    man,
		Commands:    command.NewRunner(),
		Builder:     builder,
		StableIndex: d.stableIdx,
		TestIndex:   d.testIdx,
		Docs:        d.docs,
	}))

	disp, err := server.NewLocalDispatcher(runner, d.reg, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	disp.Start(ctx)
	d.disp = disp

	srv, err := server.NewServer(config.ServerConfig{
		ListenAddr:    "127.0.0.1:0",
		WebhookSecret: config.Secret(webhookSecret),
		RateLimit:     1000,
		RateBurst:     1000,
		MaxBodyBytes:  1 << 20,
	}, server.Deps{
		Dispatcher: disp,
		Runs:       d.reg,
		Aliases:    docstore.AliasStore(d.docs),
	}, zap.NewNop())
	require.NoError(t, err)
	d.srv = srv

	return d
}

// deliver posts one signed webhook delivery and decodes the response.
func (d *daemon) deliver(t *testing.T, event, payload string) (int, server.WebhookResponse) {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", event)

	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write([]byte(payload))
	req.Header.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))

	rec := httptest.NewRecorder()
	d.srv.Echo().ServeHTTP(rec, req)

	var body server.WebhookResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return rec.Code, body
}

// drain waits until every accepted run has finished executing.
func (d *daemon) drain(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, d.disp.Drain(ctx))
}

// getRun fetches one run record through the API.
func (d *daemon) getRun(t *testing.T, id string) (*pipeline.Run, int) {
	t.Helper()

	rec := httptest.NewRecorder()
	d.srv.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+id, nil))
	if rec.Code != http.StatusOK {
		return nil, rec.Code
	}

	var run pipeline.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	return &run, rec.Code
}

// runCount fetches the number of recorded runs through the API.
func (d *daemon) runCount(t *testing.T) int {
	t.Helper()

	rec := httptest.NewRecorder()
	d.srv.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body server.RunsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Count
}

// aliases fetches the docs alias table through the API.
func (d *daemon) aliases(t *testing.T) map[string]string {
	t.Helper()

	rec := httptest.NewRecorder()
	d.srv.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/aliases", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body server.AliasesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Aliases
}

func pushPayload(ref, after string) string {
	return fmt.Sprintf(`{
		"ref": %q,
		"after": %q,
		"repository": {
			"name": "shipper",
			"owner": {"login": "fyrsmithlabs"},
			"default_branch": "main"
		}
	}`, ref, after)
}

func workflowRunPayload(id int, sha, conclusion string) string {
	return fmt.Sprintf(`{
		"action": "completed",
		"workflow_run": {
			"id": %d,
			"head_branch": "main",
			"head_sha": %q,
			"conclusion": %q
		},
		"repository": {
			"name": "shipper",
			"owner": {"login": "fyrsmithlabs"},
			"default_branch": "main"
		}
	}`, id, sha, conclusion)
}

func releasePayload(tag string, prerelease bool, commitish string) string {
	return fmt.Sprintf(`{
		"action": "published",
		"release": {
			"tag_name": %q,
			"prerelease": %t,
			"target_commitish": %q
		},
		"repository": {
			"name": "shipper",
			"owner": {"login": "fyrsmithlabs"},
			"default_branch": "main"
		}
	}`, tag, prerelease, commitish)
}

// TestReleaseLifecycle_EndToEnd drives a full promotion lifecycle over
// signed webhook deliveries against the real daemon stack:
// 1. Push to main runs the test gate alone
// 2. The upstream workflow's success refreshes dev docs and a dev build
// 3. A prerelease publishes to the test index and claims next + series
// 4. Redelivering the release acknowledges as duplicate without rerunning
// 5. The stable release publishes to the stable index and takes latest
// 6. A malformed tag is rejected with nothing recorded
func TestReleaseLifecycle_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	d := newDaemon(t)

	// 1. Push to main: the split topology runs the test gate and
	// nothing else; promotion waits for the workflow_run event.
	code, body := d.deliver(t, "push", pushPayload("refs/heads/main", shaA))
	require.Equal(t, http.StatusAccepted, code)
	require.Equal(t, "push-fyrsmithlabs-shipper-"+shaA, body.RunID)
	d.drain(t)

	run, code := d.getRun(t, body.RunID)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, pipeline.StatusSuccess, run.Status)
	assert.Equal(t, []pipeline.Stage{pipeline.StageTest}, run.Plan.Stages)
	assert.Empty(t, d.docs.Deploys())
	assert.Empty(t, d.stableIdx.Published())
	assert.Empty(t, d.testIdx.Published())

	// 2. Upstream test workflow succeeded: dev docs refresh and a dev
	// artifact builds, but no index receives anything.
	code, body = d.deliver(t, "workflow_run", workflowRunPayload(8241, shaA, "success"))
	require.Equal(t, http.StatusAccepted, code)
	require.Equal(t, "workflow-run-fyrsmithlabs-shipper-8241", body.RunID)
	d.drain(t)

	run, _ = d.getRun(t, body.RunID)
	assert.Equal(t, pipeline.StatusSuccess, run.Status)

	deploys := d.docs.Deploys()
	require.Len(t, deploys, 1)
	assert.Equal(t, "dev", deploys[0].Version)
	assert.Empty(t, d.stableIdx.Published())
	assert.Empty(t, d.testIdx.Published())

	// The rolling dev label is the version itself, not a redirect, so
	// the alias table stays empty while dev still resolves.
	assert.Empty(t, d.aliases(t))
	dev, err := d.docs.GetAlias(context.Background(), "dev")
	require.NoError(t, err)
	assert.Equal(t, "dev", dev)

	// 3. Prerelease: artifact to the test index, docs under the version,
	// next moves, and the unclaimed 1.4 series is claimed.
	code, body = d.deliver(t, "release", releasePayload("v1.4.0-rc.1", true, shaA))
	require.Equal(t, http.StatusAccepted, code)
	releaseID := body.RunID
	require.Equal(t, "release-fyrsmithlabs-shipper-v1.4.0-rc.1", releaseID)
	d.drain(t)

	run, _ = d.getRun(t, releaseID)
	require.Equal(t, pipeline.StatusSuccess, run.Status)
	assert.Equal(t, []pipeline.Stage{pipeline.StageBuild, pipeline.StagePublish, pipeline.StageDocs}, run.Plan.Stages)

	assert.Equal(t, []string{"1.4.0-rc.1"}, d.testIdx.Published())
	assert.Empty(t, d.stableIdx.Published())

	table := d.aliases(t)
	assert.Equal(t, "1.4.0-rc.1", table["next"])
	assert.Equal(t, "1.4.0-rc.1", table["1.4"])

	// 4. GitHub redelivers the same release: acknowledged as a
	// duplicate, nothing runs twice, the index keeps one version.
	before := d.runCount(t)
	code, body = d.deliver(t, "release", releasePayload("v1.4.0-rc.1", true, shaA))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "duplicate", body.Status)
	assert.Equal(t, releaseID, body.RunID)
	assert.Equal(t, before, d.runCount(t))
	assert.Equal(t, []string{"1.4.0-rc.1"}, d.testIdx.Published())

	// 5. The stable release for the same series: artifact to the stable
	// index, latest moves, and 1.4 is reclaimed from the rc.
	code, body = d.deliver(t, "release", releasePayload("v1.4.0", false, shaB))
	require.Equal(t, http.StatusAccepted, code)
	d.drain(t)

	run, _ = d.getRun(t, body.RunID)
	require.Equal(t, pipeline.StatusSuccess, run.Status)

	assert.Equal(t, []string{"1.4.0"}, d.stableIdx.Published())
	assert.Equal(t, []string{"1.4.0-rc.1"}, d.testIdx.Published())

	table = d.aliases(t)
	assert.Equal(t, "1.4.0", table["latest"])
	assert.Equal(t, "1.4.0", table["1.4"])
	assert.Equal(t, "1.4.0-rc.1", table["next"])

	// 6. A release whose tag does not parse fails at planning: the
	// delivery is rejected and no run record exists.
	before = d.runCount(t)
	code, _ = d.deliver(t, "release", releasePayload("vNext", false, shaA))
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, before, d.runCount(t))

	_, code = d.getRun(t, "release-fyrsmithlabs-shipper-vNext")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, []string{"1.4.0"}, d.stableIdx.Published())
}

// TestReleaseLifecycle_GateFailureHoldsPromotion verifies that a red
// test gate stops the chain: the push run fails, and the upstream
// workflow's failure event plans nothing, so dev docs never move.
func TestReleaseLifecycle_GateFailureHoldsPromotion(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	d := newDaemon(t, func(man *manifest.Manifest) {
		man.Test.Command = "echo compile error >&2; exit 1"
	})

	code, body := d.deliver(t, "push", pushPayload("refs/heads/main", shaA))
	require.Equal(t, http.StatusAccepted, code)
	d.drain(t)

	run, _ := d.getRun(t, body.RunID)
	require.Equal(t, pipeline.StatusFailure, run.Status)
	res, ok := run.Result(pipeline.StageTest)
	require.True(t, ok)
	assert.Contains(t, res.Err, "compile error")

	// The failed workflow completion is accepted but plans no stages.
	code, body = d.deliver(t, "workflow_run", workflowRunPayload(8242, shaA, "failure"))
	require.Equal(t, http.StatusAccepted, code)
	d.drain(t)

	run, _ = d.getRun(t, body.RunID)
	assert.Equal(t, pipeline.StatusSkipped, run.Status)
	assert.Empty(t, run.Plan.Stages)

	assert.Empty(t, d.docs.Deploys())
	assert.Empty(t, d.stableIdx.Published())
	assert.Empty(t, d.testIdx.Published())
}

// TestReleaseLifecycle_DrainingDaemonRefusesNewRuns verifies shutdown
// semantics over the API: once the dispatcher stops, readiness reports
// 503 and new deliveries are refused without losing finished records.
func TestReleaseLifecycle_DrainingDaemonRefusesNewRuns(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	d := newDaemon(t)

	code, body := d.deliver(t, "push", pushPayload("refs/heads/main", shaA))
	require.Equal(t, http.StatusAccepted, code)
	d.drain(t)

	d.disp.Stop()

	rec := httptest.NewRecorder()
	d.srv.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	code, _ = d.deliver(t, "push", pushPayload("refs/heads/main", shaB))
	assert.Equal(t, http.StatusServiceUnavailable, code)

	// The finished run is still served while draining.
	run, code := d.getRun(t, body.RunID)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, pipeline.StatusSuccess, run.Status)
}
