package task

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/734ai/neuroforge/internal/events"
	"github.com/734ai/neuroforge/internal/memory"
	"github.com/734ai/neuroforge/internal/types"
)

// SchedulerConfig sizes the scheduler.
type SchedulerConfig struct {
	// WorkerPoolSize is the number of concurrent task workers.
	WorkerPoolSize int
	// MaxRetries bounds automatic retries of retryable failures.
	MaxRetries int
}

// DefaultSchedulerConfig returns production defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		WorkerPoolSize: 4,
		MaxRetries:     2,
	}
}

// SessionFunc supplies the session ID that archived task records belong
// to. It is a function so workspace switches take effect mid-run.
type SessionFunc func() types.ID

// managed is the scheduler-owned view of a non-terminal task. The task
// inside is the single source of truth; callers only ever see clones.
type managed struct {
	task            *Task
	cancel          context.CancelFunc
	cancelRequested bool
}

// Scheduler drives tasks through their lifecycle: dedup on submit,
// priority ordering, a fixed worker pool, bounded retry of retryable
// failures, and archival of every terminal outcome as a task-history
// memory record.
type Scheduler struct {
	cfg        SchedulerConfig
	dispatcher *Dispatcher
	engine     *memory.Engine
	bus        events.EventBus
	sessionID  SessionFunc
	logger     *slog.Logger

	mu      sync.Mutex
	active  map[types.ID]*managed
	queue   *queue
	started bool
	closed  bool
	group   *errgroup.Group

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	cancelled atomic.Int64
	retried   atomic.Int64
}

// SchedulerStats summarizes scheduler activity.
type SchedulerStats struct {
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
	Retried   int64 `json:"retried"`
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
}

// NewScheduler creates a scheduler. The engine may be nil, which disables
// task-history archiving; the bus may be nil, which disables events.
func NewScheduler(cfg SchedulerConfig, dispatcher *Dispatcher, engine *memory.Engine, bus events.EventBus, sessionID SessionFunc, logger *slog.Logger) *Scheduler {
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = DefaultSchedulerConfig().WorkerPoolSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	if sessionID == nil {
		sessionID = func() types.ID { return "" }
	}

	return &Scheduler{
		cfg:        cfg,
		dispatcher: dispatcher,
		engine:     engine,
		bus:        bus,
		sessionID:  sessionID,
		logger:     logger.With("component", "task.scheduler"),
		active:     make(map[types.ID]*managed),
		queue:      newQueue(),
	}
}

// Start launches the worker pool. Workers run until Close.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return types.NewError(types.VALIDATION_FAILED, "scheduler already started")
	}
	if s.closed {
		return types.NewError(types.VALIDATION_FAILED, "scheduler is closed")
	}
	s.started = true

	g, workerCtx := errgroup.WithContext(ctx)
	s.group = g
	for i := 0; i < s.cfg.WorkerPoolSize; i++ {
		worker := i
		g.Go(func() error {
			s.workerLoop(workerCtx, worker)
			return nil
		})
	}

	s.logger.Info("scheduler started", "workers", s.cfg.WorkerPoolSize)
	return nil
}

// Submit enqueues a task. Unknown capabilities are rejected before
// enqueue. Re-submitting the ID of a non-terminal task is an idempotent
// no-op that returns the existing task's current state.
func (s *Scheduler) Submit(ctx context.Context, t *Task) (*Task, error) {
	if t == nil {
		return nil, types.NewError(types.VALIDATION_FAILED, "task cannot be nil")
	}
	if t.ID.IsZero() {
		t.ID = types.NewID()
	}
	t.Capability = strings.ToLower(strings.TrimSpace(t.Capability))
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if t.Status != StatusPending {
		return nil, types.NewError(types.VALIDATION_FAILED,
			fmt.Sprintf("submitted task must be pending, got %s", t.Status))
	}
	if _, err := s.dispatcher.Resolve(t.Capability); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, types.NewError(types.VALIDATION_FAILED, "scheduler is closed")
	}
	if existing, ok := s.active[t.ID]; ok {
		clone := existing.task.Clone()
		s.mu.Unlock()
		return clone, nil
	}

	m := &managed{task: t.Clone()}
	s.active[t.ID] = m
	s.queue.push(m.task)
	clone := m.task.Clone()
	s.mu.Unlock()

	s.submitted.Add(1)
	s.publish(ctx, events.EventTaskSubmitted, clone, "")
	s.logger.Debug("task submitted",
		"task_id", clone.ID,
		"capability", clone.Capability,
		"priority", clone.Priority,
	)
	return clone, nil
}

// Get returns the current state of a task still held by the scheduler.
// A terminal task stays visible here until its archive write lands;
// after that, callers find it in the task-history archive.
func (s *Scheduler) Get(id types.ID) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.active[id]
	if !ok {
		return nil, types.NewError(types.TASK_NOT_FOUND,
			fmt.Sprintf("task %s is not active", id))
	}
	return m.task.Clone(), nil
}

// Cancel requests cancellation. Pending tasks cancel immediately; running
// tasks are cancelled cooperatively through their context and finalize
// when the plugin observes it.
func (s *Scheduler) Cancel(ctx context.Context, id types.ID) (*Task, error) {
	s.mu.Lock()
	m, ok := s.active[id]
	if !ok {
		s.mu.Unlock()
		return nil, types.NewError(types.TASK_NOT_FOUND,
			fmt.Sprintf("task %s is not active", id))
	}

	switch m.task.Status {
	case StatusPending:
		if err := m.task.TransitionTo(StatusCancelled); err != nil {
			s.mu.Unlock()
			return nil, err
		}
		terminal := m.task.Clone()
		s.mu.Unlock()

		s.cancelled.Add(1)
		s.finalize(ctx, terminal)

		// Remove from the active set only after the archive write, so a
		// concurrent Get never finds the task in neither place.
		s.mu.Lock()
		delete(s.active, id)
		s.mu.Unlock()
		return terminal, nil

	case StatusRunning:
		m.cancelRequested = true
		if m.cancel != nil {
			m.cancel()
		}
		clone := m.task.Clone()
		s.mu.Unlock()
		return clone, nil

	default:
		clone := m.task.Clone()
		s.mu.Unlock()
		return clone, nil
	}
}

// Stats returns scheduler counters.
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	active := len(s.active)
	s.mu.Unlock()

	return SchedulerStats{
		Submitted: s.submitted.Load(),
		Completed: s.completed.Load(),
		Failed:    s.failed.Load(),
		Cancelled: s.cancelled.Load(),
		Retried:   s.retried.Load(),
		Active:    active,
		Queued:    s.queue.len(),
	}
}

// Health reports scheduler state.
func (s *Scheduler) Health(ctx context.Context) types.HealthStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.Unhealthy("scheduler is closed")
	}
	if !s.started {
		return types.Degraded("scheduler not started")
	}
	return types.Healthy(fmt.Sprintf("%d active tasks, %d workers", len(s.active), s.cfg.WorkerPoolSize))
}

// Close stops accepting submissions, drains the queue, and waits for
// workers to finish their current tasks.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	s.mu.Unlock()

	s.queue.close()
	if started {
		if err := s.group.Wait(); err != nil {
			return err
		}
	}
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) workerLoop(ctx context.Context, worker int) {
	logger := s.logger.With("worker", worker)
	for {
		t, ok := s.queue.pop()
		if !ok {
			return
		}
		if ctx.Err() != nil {
			// The worker context died between enqueue and pop. The task
			// must still reach a terminal, archived state.
			s.abandon(ctx, t, logger)
			continue
		}
		s.runTask(ctx, t, logger)
	}
}

// runTask executes one queued task to a terminal or retried state.
func (s *Scheduler) runTask(ctx context.Context, t *Task, logger *slog.Logger) {
	s.mu.Lock()
	m, ok := s.active[t.ID]
	if !ok || m.task.Status != StatusPending {
		// Cancelled or superseded while queued.
		s.mu.Unlock()
		return
	}
	if err := m.task.TransitionTo(StatusRunning); err != nil {
		s.mu.Unlock()
		logger.Error("illegal queue state", "task_id", t.ID, "error", err)
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	snapshot := m.task.Clone()
	s.mu.Unlock()
	defer cancel()

	s.publish(ctx, events.EventTaskStarted, snapshot, "")
	result, execErr := s.dispatcher.Dispatch(runCtx, snapshot)

	s.mu.Lock()
	switch {
	case execErr == nil:
		m.task.Result = result
		if err := m.task.TransitionTo(StatusCompleted); err != nil {
			logger.Error("completion transition failed", "task_id", t.ID, "error", err)
		}
		s.completed.Add(1)

	case m.cancelRequested:
		if err := m.task.TransitionTo(StatusCancelled); err != nil {
			logger.Error("cancel transition failed", "task_id", t.ID, "error", err)
		}
		s.cancelled.Add(1)

	case types.IsRetryable(execErr) && m.task.RetryCount < s.cfg.MaxRetries:
		// failed -> pending is the one legal resurrection edge, and it
		// only exists inside this bounded retry policy.
		if err := m.task.TransitionTo(StatusFailed); err == nil {
			if err := m.task.TransitionTo(StatusPending); err == nil {
				m.task.RetryCount++
				m.task.Error = nil
				m.cancel = nil
				if s.queue.push(m.task) {
					retrySnapshot := m.task.Clone()
					s.mu.Unlock()

					s.retried.Add(1)
					s.publish(ctx, events.EventTaskRetried, retrySnapshot, execErr.Error())
					logger.Warn("task retried",
						"task_id", t.ID,
						"retry", retrySnapshot.RetryCount,
						"error", execErr,
					)
					return
				}
				// Queue closed mid-retry; the task fails terminally.
				_ = m.task.TransitionTo(StatusRunning)
			}
		}
		fallthrough

	default:
		m.task.Error = &ExecError{Code: types.CodeOf(execErr), Message: execErr.Error()}
		if m.task.Status != StatusFailed {
			if err := m.task.TransitionTo(StatusFailed); err != nil {
				logger.Error("failure transition failed", "task_id", t.ID, "error", err)
			}
		}
		s.failed.Add(1)
	}

	terminal := m.task.Clone()
	s.mu.Unlock()

	s.finalize(ctx, terminal)

	// Same ordering as Cancel: archive first, then drop from active.
	s.mu.Lock()
	delete(s.active, t.ID)
	s.mu.Unlock()
}

// abandon cancels a popped task whose worker context is already gone, so
// shutdown never strands a queued task in the pending state.
func (s *Scheduler) abandon(ctx context.Context, t *Task, logger *slog.Logger) {
	s.mu.Lock()
	m, ok := s.active[t.ID]
	if !ok || m.task.Status != StatusPending {
		s.mu.Unlock()
		return
	}
	if err := m.task.TransitionTo(StatusCancelled); err != nil {
		s.mu.Unlock()
		logger.Error("abandon transition failed", "task_id", t.ID, "error", err)
		return
	}
	terminal := m.task.Clone()
	s.mu.Unlock()

	s.cancelled.Add(1)
	s.finalize(ctx, terminal)

	s.mu.Lock()
	delete(s.active, t.ID)
	s.mu.Unlock()
}

// finalize archives a terminal task and publishes its lifecycle event.
func (s *Scheduler) finalize(ctx context.Context, t *Task) {
	eventType := events.EventTaskCompleted
	message := ""
	switch t.Status {
	case StatusFailed:
		eventType = events.EventTaskFailed
		if t.Error != nil {
			message = t.Error.Message
		}
	case StatusCancelled:
		eventType = events.EventTaskCancelled
	}

	s.archive(t)
	s.publish(ctx, eventType, t, message)
	s.logger.Info("task finished",
		"task_id", t.ID,
		"capability", t.Capability,
		"status", t.Status,
		"retries", t.RetryCount,
	)
}

// archive appends the terminal task as a task-history memory record so
// outcomes are durable and searchable after the task leaves the scheduler.
func (s *Scheduler) archive(t *Task) {
	if s.engine == nil {
		return
	}

	payload, err := json.Marshal(t)
	if err != nil {
		s.logger.Error("failed to encode task for archive", "task_id", t.ID, "error", err)
		return
	}
	record := memory.NewRecord(s.sessionID(), payload, []string{
		memory.TagTaskHistory,
		"task:" + t.ID.String(),
		"capability:" + t.Capability,
		"status:" + string(t.Status),
	})

	done, err := s.engine.Store(context.Background(), record)
	if err != nil {
		s.logger.Error("failed to archive task", "task_id", t.ID, "error", err)
		return
	}
	if err := <-done; err != nil {
		s.logger.Error("task archive write failed", "task_id", t.ID, "error", err)
	}
}

func (s *Scheduler) publish(ctx context.Context, eventType events.EventType, t *Task, message string) {
	if s.bus == nil {
		return
	}
	event := events.NewEvent(eventType)
	event.TaskID = t.ID
	event.Capability = t.Capability
	event.Message = message
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logger.Debug("event publish skipped", "type", eventType, "error", err)
	}
}
