package events

import (
	"time"

	"github.com/734ai/neuroforge/internal/types"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Task lifecycle events.
	EventTaskSubmitted EventType = "task.submitted"
	EventTaskStarted   EventType = "task.started"
	EventTaskCompleted EventType = "task.completed"
	EventTaskFailed    EventType = "task.failed"
	EventTaskCancelled EventType = "task.cancelled"
	EventTaskRetried   EventType = "task.retried"

	// Memory lifecycle events.
	EventMemoryStored EventType = "memory.stored"

	// Session lifecycle events.
	EventSessionStarted    EventType = "session.started"
	EventSnapshotCaptured  EventType = "session.snapshot_captured"
	EventWorkspaceSwitched EventType = "session.workspace_switched"
)

// Event is a single observability event emitted by the core. Fields that
// do not apply to the event type are zero.
type Event struct {
	Type       EventType              `json:"type"`
	Timestamp  time.Time              `json:"timestamp"`
	TaskID     types.ID               `json:"task_id,omitempty"`
	RecordID   types.ID               `json:"record_id,omitempty"`
	SessionID  types.ID               `json:"session_id,omitempty"`
	Capability string                 `json:"capability,omitempty"`
	Message    string                 `json:"message,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// NewEvent creates an event stamped with the current time.
func NewEvent(eventType EventType) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
}

// Filter selects which events a subscriber receives. Zero fields match
// everything; set fields must all match.
type Filter struct {
	// Types limits delivery to the listed event types.
	Types []EventType
	// TaskID limits delivery to events about one task.
	TaskID types.ID
	// SessionID limits delivery to events about one session.
	SessionID types.ID
}

// Matches reports whether the event passes the filter.
func (f Filter) Matches(event Event) bool {
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == event.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.TaskID.IsZero() && f.TaskID != event.TaskID {
		return false
	}
	if !f.SessionID.IsZero() && f.SessionID != event.SessionID {
		return false
	}
	return true
}
