package orchestrator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/734ai/neuroforge/internal/config"
	"github.com/734ai/neuroforge/internal/events"
	"github.com/734ai/neuroforge/internal/memory"
	"github.com/734ai/neuroforge/internal/plugin"
	"github.com/734ai/neuroforge/internal/session"
	"github.com/734ai/neuroforge/internal/task"
	"github.com/734ai/neuroforge/internal/types"
)

type failingPlugin struct{}

func (failingPlugin) Name() string           { return "failer" }
func (failingPlugin) Capabilities() []string { return []string{"fail"} }
func (failingPlugin) Execute(context.Context, json.RawMessage) (json.RawMessage, error) {
	return nil, types.NewError(types.VALIDATION_FAILED, "always fails")
}

type holdPlugin struct {
	release chan struct{}
}

func (p *holdPlugin) Name() string           { return "holder" }
func (p *holdPlugin) Capabilities() []string { return []string{"hold"} }
func (p *holdPlugin) Execute(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
	select {
	case <-p.release:
		return json.RawMessage(`{"held":true}`), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newTestOrchestrator(t *testing.T, mutate func(*config.Config), extra ...plugin.Plugin) *Orchestrator {
	t.Helper()

	cfg := config.Default(t.TempDir())
	cfg.Core.WorkspaceRoot = "/home/dev/proj"
	cfg.Session.DebounceInterval = 10 * time.Millisecond
	cfg.Task.PluginTimeout = 2 * time.Second
	if mutate != nil {
		mutate(cfg)
	}

	plugins := append([]plugin.Plugin{failingPlugin{}}, extra...)
	o, err := New(context.Background(), cfg, plugins, nil)
	require.NoError(t, err)
	t.Cleanup(func() { o.Close() })
	return o
}

func TestStoreAndSearchMemory(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	ctx := context.Background()

	record, err := o.StoreMemory(ctx,
		json.RawMessage(`{"note":"investigated the cache eviction bug"}`),
		[]string{"debugging", "Cache"})
	require.NoError(t, err)
	require.NoError(t, record.ID.Validate())
	assert.Equal(t, o.Session().ID, record.SessionID)
	assert.Equal(t, []string{"cache", "debugging"}, record.Tags)

	got, err := o.GetMemory(ctx, record.ID)
	require.NoError(t, err)
	assert.JSONEq(t, string(record.Content), string(got.Content))

	results, err := o.SearchMemory(ctx, "cache eviction", 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	found := false
	for _, r := range results {
		if r.Record.ID == record.ID {
			found = true
		}
	}
	assert.True(t, found, "stored record must be findable")
}

func TestStoreMemoryValidation(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	ctx := context.Background()

	_, err := o.StoreMemory(ctx, nil, nil)
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.VALIDATION_FAILED))

	_, err = o.StoreMemory(ctx, json.RawMessage(`{broken`), nil)
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.VALIDATION_FAILED))
}

func TestSearchMemoryWithVectorDisabled(t *testing.T) {
	o := newTestOrchestrator(t, func(cfg *config.Config) {
		cfg.Memory.Vector.Enabled = false
	})
	ctx := context.Background()

	_, err := o.StoreMemory(ctx, json.RawMessage(`{"note":"lexical only path"}`), nil)
	require.NoError(t, err)

	results, err := o.SearchMemory(ctx, "lexical", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Semantic)
}

func TestSubmitTaskLifecycle(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	ctx := context.Background()

	submitted, err := o.SubmitTask(ctx, "echo", json.RawMessage(`{"ping":1}`), 0)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, submitted.Status)

	// Status remains queryable after the task turns terminal, served
	// from the archive.
	var final *task.Task
	require.Eventually(t, func() bool {
		final, err = o.GetTaskStatus(ctx, submitted.ID)
		return err == nil && final.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, task.StatusCompleted, final.Status)
	assert.Contains(t, string(final.Result), `"ping":1`)
}

func TestSubmitTaskUnknownCapability(t *testing.T) {
	o := newTestOrchestrator(t, nil)

	_, err := o.SubmitTask(context.Background(), "levitate", nil, 0)
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.UNKNOWN_CAPABILITY))
}

func TestSubmitTaskWithIDDeduplicates(t *testing.T) {
	holder := &holdPlugin{release: make(chan struct{})}
	o := newTestOrchestrator(t, nil, holder)
	ctx := context.Background()

	id := types.NewID()
	first, err := o.SubmitTaskWithID(ctx, id, "hold", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, id, first.ID)

	// Same ID while the first is non-terminal returns the existing task.
	second, err := o.SubmitTaskWithID(ctx, id, "hold", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, id, second.ID)

	close(holder.release)

	var final *task.Task
	require.Eventually(t, func() bool {
		final, err = o.GetTaskStatus(ctx, id)
		return err == nil && final.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, task.StatusCompleted, final.Status)

	// Exactly one archived outcome for the deduplicated submissions.
	records, err := o.QueryMemory(ctx, memory.Filter{
		Tags:    []string{memory.TagTaskHistory, "task:" + id.String()},
		TagMode: memory.TagModeAll,
	})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestGetTaskStatusUnknown(t *testing.T) {
	o := newTestOrchestrator(t, nil)

	_, err := o.GetTaskStatus(context.Background(), types.NewID())
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.TASK_NOT_FOUND))
}

func TestCancelTerminalTaskIsNoOp(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	ctx := context.Background()

	submitted, err := o.SubmitTask(ctx, "echo", nil, 0)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := o.GetTaskStatus(ctx, submitted.ID)
		return err == nil && got.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)

	got, err := o.CancelTask(ctx, submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)
}

func TestFailedTaskSearchableInHistory(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	ctx := context.Background()

	submitted, err := o.SubmitTask(ctx, "fail", nil, 0)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := o.GetTaskStatus(ctx, submitted.ID)
		return err == nil && got.Status == task.StatusFailed
	}, 5*time.Second, 10*time.Millisecond)

	results, err := o.SearchTaskHistory(ctx, "fail", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.True(t, results[0].Record.HasTag(memory.TagTaskHistory))
}

func TestRunPluginDirect(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	ctx := context.Background()

	out, err := o.RunPlugin(ctx, "echo", json.RawMessage(`{"direct":true}`))
	require.NoError(t, err)
	assert.Contains(t, string(out), `"direct":true`)

	_, err = o.RunPlugin(ctx, "nope", nil)
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.UNKNOWN_CAPABILITY))

	_, err = o.RunPlugin(ctx, "", nil)
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.VALIDATION_FAILED))
}

func TestListPluginsIncludesBuiltins(t *testing.T) {
	o := newTestOrchestrator(t, nil)

	descriptors := o.ListPlugins()
	require.Len(t, descriptors, 2)
	assert.Equal(t, "echo", descriptors[0].Name)
	assert.Equal(t, "failer", descriptors[1].Name)
}

func TestUpdateWorkspaceContext(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	ctx := context.Background()

	err := o.UpdateWorkspaceContext(ctx, &session.WorkspaceState{
		ActiveFiles: []string{"main.go"},
		VCSBranch:   "main",
	})
	require.NoError(t, err)

	snap := o.Session().LastSnapshot
	require.NotNil(t, snap)
	assert.Equal(t, "main", snap.VCSBranch)
}

func TestSetWorkspaceSwitchesSession(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	ctx := context.Background()

	before := o.Session()
	after, err := o.SetWorkspace(ctx, "/home/dev/elsewhere")
	require.NoError(t, err)
	assert.NotEqual(t, before.ID, after.ID)
	assert.Equal(t, "/home/dev/elsewhere", o.Session().WorkspaceRoot)
}

func TestEventsObservable(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	ctx := context.Background()

	ch, cleanup := o.Subscribe(ctx, events.Filter{
		Types: []events.EventType{events.EventMemoryStored},
	}, 10)
	defer cleanup()

	record, err := o.StoreMemory(ctx, json.RawMessage(`{"observed":true}`), nil)
	require.NoError(t, err)

	select {
	case event := <-ch:
		assert.Equal(t, events.EventMemoryStored, event.Type)
		assert.Equal(t, record.ID, event.RecordID)
	case <-time.After(2 * time.Second):
		t.Fatal("memory.stored event not observed")
	}
}

func TestStatsAndHealth(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	ctx := context.Background()

	_, err := o.StoreMemory(ctx, json.RawMessage(`{"x":1}`), nil)
	require.NoError(t, err)

	stats, err := o.Stats(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.Memory.DurableRecords, int64(1))
	assert.Equal(t, 2, stats.RegisteredPlugins)

	health := o.Health(ctx)
	assert.True(t, health["database"].IsHealthy())
	assert.True(t, health["session"].IsHealthy())
	assert.True(t, health["scheduler"].IsHealthy())
	assert.False(t, health["memory"].IsUnhealthy())
}

func TestCloseIsIdempotent(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	require.NoError(t, o.Close())
	require.NoError(t, o.Close())
}
