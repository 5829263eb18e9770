package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/734ai/neuroforge/internal/database"
	"github.com/734ai/neuroforge/internal/memory"
	"github.com/734ai/neuroforge/internal/types"
)

// TrackerConfig configures workspace context tracking.
type TrackerConfig struct {
	// AutoStoreContext persists each accepted snapshot as a memory record.
	// When false, snapshots only update the in-memory session state.
	AutoStoreContext bool
	// DebounceInterval collapses snapshot bursts: at most one snapshot is
	// persisted per interval, and a burst always settles on its latest state.
	DebounceInterval time.Duration
}

// DefaultTrackerConfig returns production defaults.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		AutoStoreContext: true,
		DebounceInterval: 2 * time.Second,
	}
}

// Tracker owns the current session and turns workspace state updates into
// deduplicated, debounced context records. Consecutive identical states
// are dropped; rapid successive changes are collapsed so only the latest
// state of a burst is persisted once the debounce interval elapses.
type Tracker struct {
	db     *database.DB
	engine *memory.Engine
	cfg    TrackerConfig
	logger *slog.Logger

	mu      sync.Mutex
	session *Session
	limiter *rate.Limiter
	pending *WorkspaceState
	timer   *time.Timer
	closed  bool

	snapshots int64
	dropped   int64
}

// NewTracker starts a new session rooted at workspaceRoot and persists it.
func NewTracker(ctx context.Context, db *database.DB, engine *memory.Engine, workspaceRoot string, cfg TrackerConfig, logger *slog.Logger) (*Tracker, error) {
	if workspaceRoot == "" {
		return nil, types.NewError(types.VALIDATION_FAILED, "workspace root cannot be empty")
	}
	if cfg.DebounceInterval <= 0 {
		cfg.DebounceInterval = DefaultTrackerConfig().DebounceInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	t := &Tracker{
		db:     db,
		engine: engine,
		cfg:    cfg,
		logger: logger.With("component", "session.tracker"),
	}
	t.limiter = rate.NewLimiter(rate.Every(cfg.DebounceInterval), 1)

	session, err := t.insertSession(ctx, workspaceRoot)
	if err != nil {
		return nil, err
	}
	t.session = session

	t.logger.Info("session started",
		"session_id", session.ID,
		"workspace_root", workspaceRoot,
	)
	return t, nil
}

// Session returns a copy of the current session.
func (t *Tracker) Session() *Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session.Clone()
}

// SetWorkspace switches the tracked workspace. The current session is
// superseded and a fresh one starts; a no-op if the root is unchanged.
func (t *Tracker) SetWorkspace(ctx context.Context, workspaceRoot string) (*Session, error) {
	if workspaceRoot == "" {
		return nil, types.NewError(types.VALIDATION_FAILED, "workspace root cannot be empty")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, types.NewError(types.STORE_IO_FAILED, "session tracker is closed")
	}
	if t.session.WorkspaceRoot == workspaceRoot {
		return t.session.Clone(), nil
	}

	if err := t.supersedeSession(ctx, t.session.ID); err != nil {
		return nil, err
	}
	old := t.session
	now := time.Now().UTC()
	old.SupersededAt = &now

	session, err := t.insertSession(ctx, workspaceRoot)
	if err != nil {
		return nil, err
	}
	t.session = session
	t.pending = nil
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}

	t.logger.Info("workspace switched",
		"old_session_id", old.ID,
		"session_id", session.ID,
		"workspace_root", workspaceRoot,
	)
	return session.Clone(), nil
}

// Snapshot records a workspace state update. Identical consecutive states
// are ignored. Within a debounce interval only the latest state survives;
// it is persisted when the interval elapses.
func (t *Tracker) Snapshot(ctx context.Context, state *WorkspaceState) error {
	if state == nil {
		return types.NewError(types.VALIDATION_FAILED, "workspace state cannot be nil")
	}
	state = state.Clone()
	state.Normalize()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return types.NewError(types.STORE_IO_FAILED, "session tracker is closed")
	}

	last := t.session.LastSnapshot
	if t.pending != nil {
		last = t.pending
	}
	if state.Equal(last) {
		t.dropped++
		return nil
	}

	if t.limiter.Allow() {
		return t.persistLocked(ctx, state)
	}

	// Burst: keep only the latest state and arm a trailing flush.
	t.pending = state
	t.dropped++
	if t.timer == nil {
		t.timer = time.AfterFunc(t.cfg.DebounceInterval, t.flushPending)
	}
	return nil
}

// Stats returns snapshot counters for observability.
func (t *Tracker) Stats() (persisted, collapsed int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshots, t.dropped
}

// Health reports whether the sessions table is reachable.
func (t *Tracker) Health(ctx context.Context) types.HealthStatus {
	t.mu.Lock()
	closed := t.closed
	id := t.session.ID
	t.mu.Unlock()
	if closed {
		return types.Unhealthy("session tracker is closed")
	}

	var one int
	if err := t.db.QueryRowContext(ctx,
		"SELECT 1 FROM sessions WHERE id = ?", id.String()).Scan(&one); err != nil {
		return types.Unhealthy(fmt.Sprintf("session row unreachable: %v", err))
	}
	return types.Healthy(fmt.Sprintf("tracking session %s", id))
}

// Close flushes any pending snapshot and stops the tracker.
func (t *Tracker) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	pending := t.pending
	t.pending = nil
	var err error
	if pending != nil {
		err = t.persistLocked(context.Background(), pending)
	}
	t.mu.Unlock()
	return err
}

// flushPending runs on the debounce timer and persists the latest state
// of a collapsed burst.
func (t *Tracker) flushPending() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timer = nil
	if t.closed || t.pending == nil {
		return
	}

	state := t.pending
	t.pending = nil
	if state.Equal(t.session.LastSnapshot) {
		return
	}
	if err := t.persistLocked(context.Background(), state); err != nil {
		t.logger.Error("failed to persist debounced snapshot", "error", err)
	}
}

// persistLocked writes the snapshot to the session row and, when
// auto-store is on, appends it as a workspace-context memory record.
// Caller must hold t.mu.
func (t *Tracker) persistLocked(ctx context.Context, state *WorkspaceState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return types.WrapError(types.VALIDATION_FAILED, "failed to encode workspace state", err)
	}

	if _, err := t.db.ExecContext(ctx,
		"UPDATE sessions SET last_snapshot = ? WHERE id = ?",
		string(payload), t.session.ID.String(),
	); err != nil {
		return types.WrapRetryableError(types.STORE_IO_FAILED, "failed to update session snapshot", err)
	}

	if t.cfg.AutoStoreContext {
		record := memory.NewRecord(t.session.ID, payload, []string{memory.TagWorkspaceContext})
		if _, err := t.engine.Store(ctx, record); err != nil {
			return err
		}
	}

	t.session.LastSnapshot = state
	t.snapshots++
	t.logger.Debug("workspace snapshot persisted",
		"session_id", t.session.ID,
		"branch", state.VCSBranch,
		"active_files", len(state.ActiveFiles),
	)
	return nil
}

// insertSession creates and persists a fresh session row.
func (t *Tracker) insertSession(ctx context.Context, workspaceRoot string) (*Session, error) {
	session := &Session{
		ID:            types.NewID(),
		WorkspaceRoot: workspaceRoot,
		StartedAt:     time.Now().UTC(),
	}
	if _, err := t.db.ExecContext(ctx,
		"INSERT INTO sessions (id, workspace_root, started_at) VALUES (?, ?, ?)",
		session.ID.String(), session.WorkspaceRoot, session.StartedAt,
	); err != nil {
		return nil, types.WrapRetryableError(types.STORE_IO_FAILED, "failed to create session", err)
	}
	return session, nil
}

// supersedeSession stamps the end of a session.
func (t *Tracker) supersedeSession(ctx context.Context, id types.ID) error {
	if _, err := t.db.ExecContext(ctx,
		"UPDATE sessions SET superseded_at = ? WHERE id = ? AND superseded_at IS NULL",
		time.Now().UTC(), id.String(),
	); err != nil {
		return types.WrapRetryableError(types.STORE_IO_FAILED, "failed to supersede session", err)
	}
	return nil
}

// LoadSession reads a persisted session by ID.
func LoadSession(ctx context.Context, db *database.DB, id types.ID) (*Session, error) {
	session := &Session{}
	var (
		superseded sql.NullTime
		snapshot   sql.NullString
	)
	err := db.QueryRowContext(ctx,
		"SELECT id, workspace_root, started_at, superseded_at, last_snapshot FROM sessions WHERE id = ?",
		id.String(),
	).Scan(&session.ID, &session.WorkspaceRoot, &session.StartedAt, &superseded, &snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewError(types.RECORD_NOT_FOUND, fmt.Sprintf("session %s not found", id))
	}
	if err != nil {
		return nil, types.WrapRetryableError(types.STORE_IO_FAILED, "failed to read session", err)
	}

	session.StartedAt = session.StartedAt.UTC()
	if superseded.Valid {
		ts := superseded.Time.UTC()
		session.SupersededAt = &ts
	}
	if snapshot.Valid && snapshot.String != "" {
		state := &WorkspaceState{}
		if err := json.Unmarshal([]byte(snapshot.String), state); err != nil {
			return nil, types.WrapError(types.STORE_IO_FAILED, "failed to decode session snapshot", err)
		}
		session.LastSnapshot = state
	}
	return session, nil
}
