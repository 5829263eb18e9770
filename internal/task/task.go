// Package task implements the asynchronous work pipeline: a priority
// queue, a plugin dispatcher, and a worker-pool scheduler that drives
// tasks through their lifecycle and archives terminal outcomes into
// memory.
package task

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/734ai/neuroforge/internal/types"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// legalTransitions encodes the task state machine. failed -> pending is
// the retry edge; it is only taken by the scheduler's bounded retry
// policy, never by external callers.
var legalTransitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusCancelled},
	StatusRunning: {StatusCompleted, StatusFailed, StatusCancelled},
	StatusFailed:  {StatusPending},
}

// IsTerminal reports whether the status ends the lifecycle. Failed tasks
// are terminal once the retry budget is spent.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ExecError captures why a task failed, preserving the error code for
// archived task history.
type ExecError struct {
	Code    types.ErrorCode `json:"code"`
	Message string          `json:"message"`
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Task is one unit of asynchronous work routed to a plugin capability.
type Task struct {
	ID          types.ID        `json:"id"`
	Capability  string          `json:"capability"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	Priority    int             `json:"priority"`
	Status      Status          `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       *ExecError      `json:"error,omitempty"`
	RetryCount  int             `json:"retry_count"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// New creates a pending task for a capability.
func New(capability string, params json.RawMessage, priority int) *Task {
	return &Task{
		ID:         types.NewID(),
		Capability: capability,
		Parameters: params,
		Priority:   priority,
		Status:     StatusPending,
		CreatedAt:  time.Now().UTC(),
	}
}

// Validate checks structural invariants before a task enters the queue.
func (t *Task) Validate() error {
	if err := t.ID.Validate(); err != nil {
		return types.WrapError(types.VALIDATION_FAILED, "task id invalid", err)
	}
	if t.Capability == "" {
		return types.NewError(types.VALIDATION_FAILED, "task capability cannot be empty")
	}
	if len(t.Parameters) > 0 && !json.Valid(t.Parameters) {
		return types.NewError(types.VALIDATION_FAILED, "task parameters must be valid JSON")
	}
	if !t.Status.Valid() {
		return types.NewError(types.VALIDATION_FAILED,
			fmt.Sprintf("unknown task status %q", t.Status))
	}
	return nil
}

// TransitionTo moves the task to a new status, enforcing the state
// machine. Timestamps are stamped on the edges that define them.
func (t *Task) TransitionTo(status Status) error {
	if !canTransition(t.Status, status) {
		return types.NewError(types.TASK_INVALID_TRANSITION,
			fmt.Sprintf("cannot transition task %s from %s to %s", t.ID, t.Status, status))
	}

	now := time.Now().UTC()
	switch status {
	case StatusRunning:
		t.StartedAt = &now
	case StatusCompleted, StatusFailed, StatusCancelled:
		t.CompletedAt = &now
	case StatusPending:
		// Retry edge: the task re-enters the queue fresh.
		t.StartedAt = nil
		t.CompletedAt = nil
	}
	t.Status = status
	return nil
}

func canTransition(from, to Status) bool {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can never mutate scheduler state.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	clone := *t
	clone.Parameters = append(json.RawMessage(nil), t.Parameters...)
	clone.Result = append(json.RawMessage(nil), t.Result...)
	if t.Error != nil {
		e := *t.Error
		clone.Error = &e
	}
	if t.StartedAt != nil {
		ts := *t.StartedAt
		clone.StartedAt = &ts
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		clone.CompletedAt = &ts
	}
	return &clone
}
