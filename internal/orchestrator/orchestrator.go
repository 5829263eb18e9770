// Package orchestrator wires the memory engine, session tracker, and task
// scheduler into the single facade the CLI and embedding callers use.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/734ai/neuroforge/internal/config"
	"github.com/734ai/neuroforge/internal/database"
	"github.com/734ai/neuroforge/internal/events"
	"github.com/734ai/neuroforge/internal/memory"
	"github.com/734ai/neuroforge/internal/memory/embedder"
	"github.com/734ai/neuroforge/internal/memory/vector"
	"github.com/734ai/neuroforge/internal/plugin"
	"github.com/734ai/neuroforge/internal/session"
	"github.com/734ai/neuroforge/internal/task"
	"github.com/734ai/neuroforge/internal/types"
)

// Orchestrator owns the lifecycle of every subsystem and exposes the
// public operations. All state is local to the process; no network
// access is required for any operation.
type Orchestrator struct {
	cfg        *config.Config
	db         *database.DB
	engine     *memory.Engine
	tracker    *session.Tracker
	registry   *plugin.Registry
	dispatcher *task.Dispatcher
	scheduler  *task.Scheduler
	bus        *events.DefaultEventBus
	logger     *slog.Logger

	mu     sync.Mutex
	closed bool
}

// New builds and starts an orchestrator from configuration. The provided
// plugins are registered alongside the built-in echo plugin, then the
// registry is frozen.
func New(ctx context.Context, cfg *config.Config, plugins []plugin.Plugin, logger *slog.Logger) (*Orchestrator, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = config.NewLogger(cfg.Logging)
	}

	if err := os.MkdirAll(cfg.Core.DataDir, 0o755); err != nil {
		return nil, types.WrapError(types.DB_OPEN_FAILED, "failed to create data directory", err)
	}

	db, err := database.OpenWithConfig(database.Config{
		Path:            cfg.DatabasePath(),
		MaxOpenConns:    cfg.Database.MaxConnections,
		MaxIdleConns:    cfg.Database.MaxConnections / 2,
		BusyTimeout:     cfg.Database.BusyTimeout,
		ConnMaxLifetime: 0,
	})
	if err != nil {
		return nil, err
	}
	if err := db.InitSchema(); err != nil {
		db.Close()
		return nil, err
	}

	var (
		vec vector.Store
		emb embedder.Embedder
	)
	if cfg.Memory.Vector.Enabled {
		emb, err = embedder.New(cfg.Memory.Vector.Embedder)
		if err != nil {
			db.Close()
			return nil, err
		}
		if emb != nil {
			vec, err = vector.NewChromemStore(vector.ChromemConfig{
				PersistPath: cfg.VectorPersistPath(),
				Collection:  cfg.Memory.Vector.Collection,
			})
			if err != nil {
				// Semantic search is optional; start with lexical only.
				logger.Warn("vector index unavailable, semantic search disabled", "error", err)
				vec, emb = nil, nil
			}
		}
	}

	engine := memory.NewEngine(memory.EngineConfig{
		MaxBufferBytes:     cfg.Memory.MaxBufferBytes,
		WriteQueueSize:     cfg.Memory.WriteQueueSize,
		WriteRetryAttempts: cfg.Memory.WriteRetryAttempts,
		WriteRetryBackoff:  cfg.Memory.WriteRetryBackoff,
	}, memory.NewStore(db, logger), vec, emb, logger)

	workspaceRoot := cfg.Core.WorkspaceRoot
	if workspaceRoot == "" {
		workspaceRoot, err = os.Getwd()
		if err != nil {
			workspaceRoot = "."
		}
	}
	tracker, err := session.NewTracker(ctx, db, engine, workspaceRoot, session.TrackerConfig{
		AutoStoreContext: cfg.Session.AutoStoreContext,
		DebounceInterval: cfg.Session.DebounceInterval,
	}, logger)
	if err != nil {
		engine.Close()
		db.Close()
		return nil, err
	}

	registry := plugin.NewRegistry()
	if err := registry.Register(plugin.NewEchoPlugin()); err != nil {
		tracker.Close()
		engine.Close()
		db.Close()
		return nil, err
	}
	for _, p := range plugins {
		if err := registry.Register(p); err != nil {
			tracker.Close()
			engine.Close()
			db.Close()
			return nil, err
		}
	}
	registry.Freeze()

	bus := events.NewEventBus(events.WithDropHandler(func(event events.Event, subscriber string) {
		logger.Debug("event dropped for slow subscriber",
			"type", event.Type, "subscriber", subscriber)
	}))

	dispatcher := task.NewDispatcher(registry, cfg.Task.PluginTimeout, logger)
	scheduler := task.NewScheduler(task.SchedulerConfig{
		WorkerPoolSize: cfg.Task.WorkerPoolSize,
		MaxRetries:     cfg.Task.MaxRetries,
	}, dispatcher, engine, bus, func() types.ID { return tracker.Session().ID }, logger)
	if err := scheduler.Start(ctx); err != nil {
		bus.Close()
		tracker.Close()
		engine.Close()
		db.Close()
		return nil, err
	}

	o := &Orchestrator{
		cfg:        cfg,
		db:         db,
		engine:     engine,
		tracker:    tracker,
		registry:   registry,
		dispatcher: dispatcher,
		scheduler:  scheduler,
		bus:        bus,
		logger:     logger.With("component", "orchestrator"),
	}

	o.logger.Info("orchestrator started",
		"data_dir", cfg.Core.DataDir,
		"workspace", workspaceRoot,
		"semantic_search", vec != nil,
		"plugins", len(registry.List()),
	)
	return o, nil
}

// StoreMemory appends content as a new immutable memory record in the
// current session and returns it. The record is immediately readable;
// durability is confirmed asynchronously.
func (o *Orchestrator) StoreMemory(ctx context.Context, content json.RawMessage, tags []string) (*memory.Record, error) {
	if len(content) == 0 || !json.Valid(content) {
		return nil, types.NewError(types.VALIDATION_FAILED, "content must be non-empty valid JSON")
	}

	record, done, err := o.engine.StoreNew(ctx, o.tracker.Session().ID, content, tags)
	if err != nil {
		return nil, err
	}

	// Surface synchronous durability failures without blocking the
	// caller on the happy path longer than the write queue needs.
	select {
	case err := <-done:
		if err != nil {
			return nil, err
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	o.publish(ctx, func(e *events.Event) {
		e.Type = events.EventMemoryStored
		e.RecordID = record.ID
		e.SessionID = record.SessionID
	})
	return record, nil
}

// SearchMemory returns the k most relevant records for the query, using
// semantic search when available and lexical matching otherwise.
func (o *Orchestrator) SearchMemory(ctx context.Context, query string, k int) ([]memory.SearchResult, error) {
	if k <= 0 {
		k = o.cfg.Memory.SearchLimit
	}
	return o.engine.Search(ctx, query, k)
}

// SearchTaskHistory searches only archived task outcomes.
func (o *Orchestrator) SearchTaskHistory(ctx context.Context, query string, k int) ([]memory.SearchResult, error) {
	if k <= 0 {
		k = o.cfg.Memory.SearchLimit
	}
	return o.engine.SearchTaskHistory(ctx, query, k)
}

// GetMemory retrieves one record by ID.
func (o *Orchestrator) GetMemory(ctx context.Context, id types.ID) (*memory.Record, error) {
	return o.engine.Get(ctx, id)
}

// QueryMemory runs a metadata query against durable storage.
func (o *Orchestrator) QueryMemory(ctx context.Context, filter memory.Filter) ([]*memory.Record, error) {
	return o.engine.Query(ctx, filter)
}

// SubmitTask enqueues asynchronous work for a capability and returns the
// accepted task in pending state.
func (o *Orchestrator) SubmitTask(ctx context.Context, capability string, params json.RawMessage, priority int) (*task.Task, error) {
	if capability == "" {
		return nil, types.NewError(types.VALIDATION_FAILED, "capability cannot be empty")
	}
	return o.scheduler.Submit(ctx, task.New(capability, params, priority))
}

// SubmitTaskWithID submits a task under a caller-chosen ID, the dedup
// key; submitting the ID of a non-terminal task returns that task
// unchanged without a second execution.
func (o *Orchestrator) SubmitTaskWithID(ctx context.Context, id types.ID, capability string, params json.RawMessage, priority int) (*task.Task, error) {
	if err := id.Validate(); err != nil {
		return nil, types.WrapError(types.VALIDATION_FAILED, "task id invalid", err)
	}
	t := task.New(capability, params, priority)
	t.ID = id
	return o.scheduler.Submit(ctx, t)
}

// GetTaskStatus reports a task's current state. Non-terminal tasks come
// from the scheduler; terminal tasks are recovered from the task-history
// archive.
func (o *Orchestrator) GetTaskStatus(ctx context.Context, id types.ID) (*task.Task, error) {
	if err := id.Validate(); err != nil {
		return nil, types.WrapError(types.VALIDATION_FAILED, "task id invalid", err)
	}

	t, err := o.scheduler.Get(id)
	if err == nil {
		return t, nil
	}
	if !types.HasCode(err, types.TASK_NOT_FOUND) {
		return nil, err
	}
	return o.archivedTask(ctx, id)
}

// CancelTask cancels a pending task immediately or requests cooperative
// cancellation of a running one.
func (o *Orchestrator) CancelTask(ctx context.Context, id types.ID) (*task.Task, error) {
	if err := id.Validate(); err != nil {
		return nil, types.WrapError(types.VALIDATION_FAILED, "task id invalid", err)
	}

	t, err := o.scheduler.Cancel(ctx, id)
	if err == nil {
		return t, nil
	}
	if !types.HasCode(err, types.TASK_NOT_FOUND) {
		return nil, err
	}
	// Cancelling an already terminal task is an acknowledged no-op.
	return o.archivedTask(ctx, id)
}

// RunPlugin executes a plugin by name synchronously, outside the queue,
// under the same timeout and panic isolation as scheduled tasks.
func (o *Orchestrator) RunPlugin(ctx context.Context, name string, params json.RawMessage) (json.RawMessage, error) {
	if name == "" {
		return nil, types.NewError(types.VALIDATION_FAILED, "plugin name cannot be empty")
	}
	if len(params) > 0 && !json.Valid(params) {
		return nil, types.NewError(types.VALIDATION_FAILED, "plugin params must be valid JSON")
	}
	return o.dispatcher.DispatchDirect(ctx, name, params)
}

// ListPlugins returns descriptors for every registered plugin.
func (o *Orchestrator) ListPlugins() []plugin.Descriptor {
	return o.registry.List()
}

// UpdateWorkspaceContext records a workspace state change. Consecutive
// identical states deduplicate and bursts debounce to the latest state.
func (o *Orchestrator) UpdateWorkspaceContext(ctx context.Context, state *session.WorkspaceState) error {
	if err := o.tracker.Snapshot(ctx, state); err != nil {
		return err
	}
	o.publish(ctx, func(e *events.Event) {
		e.Type = events.EventSnapshotCaptured
		e.SessionID = o.tracker.Session().ID
	})
	return nil
}

// SetWorkspace switches the tracked workspace root, superseding the
// current session.
func (o *Orchestrator) SetWorkspace(ctx context.Context, root string) (*session.Session, error) {
	s, err := o.tracker.SetWorkspace(ctx, root)
	if err != nil {
		return nil, err
	}
	o.publish(ctx, func(e *events.Event) {
		e.Type = events.EventWorkspaceSwitched
		e.SessionID = s.ID
		e.Message = root
	})
	return s, nil
}

// Session returns the current session.
func (o *Orchestrator) Session() *session.Session {
	return o.tracker.Session()
}

// Subscribe attaches an event listener; see events.EventBus.
func (o *Orchestrator) Subscribe(ctx context.Context, filter events.Filter, bufferSize int) (<-chan events.Event, func()) {
	return o.bus.Subscribe(ctx, filter, bufferSize)
}

// Stats aggregates subsystem counters.
func (o *Orchestrator) Stats(ctx context.Context) (Stats, error) {
	engineStats, err := o.engine.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	persisted, collapsed := o.tracker.Stats()

	return Stats{
		Memory:              engineStats,
		Scheduler:           o.scheduler.Stats(),
		SnapshotsPersisted:  persisted,
		SnapshotsCollapsed:  collapsed,
		RegisteredPlugins:   len(o.registry.List()),
		ActiveSubscriptions: o.bus.SubscriberCount(),
	}, nil
}

// Stats is the aggregated view of all subsystems.
type Stats struct {
	Memory              memory.EngineStats  `json:"memory"`
	Scheduler           task.SchedulerStats `json:"scheduler"`
	SnapshotsPersisted  int64               `json:"snapshots_persisted"`
	SnapshotsCollapsed  int64               `json:"snapshots_collapsed"`
	RegisteredPlugins   int                 `json:"registered_plugins"`
	ActiveSubscriptions int                 `json:"active_subscriptions"`
}

// Health aggregates subsystem health, reporting the worst state.
func (o *Orchestrator) Health(ctx context.Context) map[string]types.HealthStatus {
	return map[string]types.HealthStatus{
		"database":  o.db.Health(ctx),
		"memory":    o.engine.Health(ctx),
		"session":   o.tracker.Health(ctx),
		"scheduler": o.scheduler.Health(ctx),
	}
}

// Close shuts the subsystems down in dependency order: scheduler first so
// archive writes still have a live engine, then tracker, engine, bus, and
// finally the database.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	record(o.scheduler.Close())
	record(o.tracker.Close())
	record(o.engine.Close())
	record(o.bus.Close())
	record(o.db.Close())

	o.logger.Info("orchestrator stopped")
	return firstErr
}

// archivedTask recovers a terminal task from the task-history archive.
func (o *Orchestrator) archivedTask(ctx context.Context, id types.ID) (*task.Task, error) {
	records, err := o.engine.Query(ctx, memory.Filter{
		Tags:    []string{memory.TagTaskHistory, "task:" + id.String()},
		TagMode: memory.TagModeAll,
		Limit:   1,
	})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, types.NewError(types.TASK_NOT_FOUND,
			fmt.Sprintf("task %s not found", id))
	}

	t := &task.Task{}
	if err := json.Unmarshal(records[0].Content, t); err != nil {
		return nil, types.WrapError(types.STORE_IO_FAILED, "failed to decode archived task", err)
	}
	return t, nil
}

func (o *Orchestrator) publish(ctx context.Context, build func(*events.Event)) {
	event := events.NewEvent("")
	build(&event)
	if err := o.bus.Publish(ctx, event); err != nil {
		o.logger.Debug("event publish skipped", "type", event.Type, "error", err)
	}
}
