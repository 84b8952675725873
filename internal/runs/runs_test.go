package runs

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/shipd/internal/pipeline"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()

	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1, // random port
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func testRun(id string) *pipeline.Run {
	ev := pipeline.Event{Kind: pipeline.EventPush, Branch: "main", DefaultBranch: true}
	return pipeline.NewRun(id, ev, pipeline.Plan{Stages: []pipeline.Stage{pipeline.StageTest}})
}

func TestRegistry_InMemoryOnly(t *testing.T) {
	reg := NewRegistry()

	run := testRun("run-1")
	reg.Started(run)

	got, ok := reg.Get("run-1")
	require.True(t, ok)
	assert.Equal(t, run, got)

	// No NATS connection configured; stage events must not panic.
	reg.StageDone("run-1", pipeline.StageResult{Stage: pipeline.StageTest, Status: pipeline.StatusSuccess})

	run.Record(pipeline.StageResult{Stage: pipeline.StageTest, Status: pipeline.StatusSuccess})
	run.Finish()
	reg.Completed(run)

	got, ok = reg.Get("run-1")
	require.True(t, ok)
	assert.Equal(t, pipeline.StatusSuccess, got.Status)
}

func TestRegistry_RecentNewestFirst(t *testing.T) {
	reg := NewRegistry()

	for i := 1; i <= 3; i++ {
		reg.Started(testRun(fmt.Sprintf("run-%d", i)))
	}

	recent := reg.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "run-3", recent[0].ID)
	assert.Equal(t, "run-2", recent[1].ID)

	all := reg.Recent(0)
	assert.Len(t, all, 3)
}

func TestRegistry_CapacityEvictsOldest(t *testing.T) {
	reg := NewRegistry(WithCapacity(2))

	for i := 1; i <= 3; i++ {
		reg.Started(testRun(fmt.Sprintf("run-%d", i)))
	}

	_, ok := reg.Get("run-1")
	assert.False(t, ok, "oldest run should be evicted")
	_, ok = reg.Get("run-3")
	assert.True(t, ok)
	assert.Len(t, reg.Recent(0), 2)
}

func TestRegistry_PublishesLifecycleEvents(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	reg := NewRegistry(WithNATS(nc))

	ch := make(chan *nats.Msg, 8)
	sub, err := nc.ChanSubscribe("runs.run-1.>", ch)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	run := testRun("run-1")
	reg.Started(run)
	reg.StageDone("run-1", pipeline.StageResult{Stage: pipeline.StageTest, Status: pipeline.StatusSuccess, Detail: "tests passed"})
	run.Record(pipeline.StageResult{Stage: pipeline.StageTest, Status: pipeline.StatusSuccess})
	run.Finish()
	reg.Completed(run)

	wantSubjects := []string{"runs.run-1.started", "runs.run-1.stage", "runs.run-1.completed"}
	for _, want := range wantSubjects {
		select {
		case msg := <-ch:
			assert.Equal(t, want, msg.Subject)
			assert.True(t, json.Valid(msg.Data), "payload must be JSON")
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %s", want)
		}
	}
}

func TestRegistry_StageEventPayload(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	reg := NewRegistry(WithNATS(nc))

	ch := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe("runs.run-1.stage", ch)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	reg.StageDone("run-1", pipeline.StageResult{
		Stage:  pipeline.StagePublish,
		Status: pipeline.StatusFailure,
		Err:    "version already published",
	})

	select {
	case msg := <-ch:
		var payload map[string]any
		require.NoError(t, json.Unmarshal(msg.Data, &payload))
		assert.Equal(t, "run-1", payload["run_id"])
		assert.Equal(t, "publish", payload["stage"])
		assert.Equal(t, "failure", payload["status"])
		assert.Equal(t, "version already published", payload["error"])
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for stage event")
	}
}

func TestNewID_Unique(t *testing.T) {
	assert.NotEqual(t, NewID(), NewID())
	assert.NotEmpty(t, NewID())
}
