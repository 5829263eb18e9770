// Package plugin defines the in-process extension point for task
// execution. Plugins declare capabilities; the dispatcher routes each
// task to the plugin registered for its capability.
package plugin

import (
	"context"
	"encoding/json"
)

// Plugin is an executable unit of work. Implementations must be safe for
// concurrent Execute calls and must honor context cancellation promptly;
// the dispatcher enforces deadlines through the passed context.
type Plugin interface {
	// Name returns the unique plugin name.
	Name() string

	// Capabilities returns the capability names this plugin serves.
	Capabilities() []string

	// Execute runs one task. Params and the result are opaque JSON owned
	// by the plugin. A returned error marks the task failed; retryable
	// errors may be retried by the scheduler.
	Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error)
}

// Descriptor describes a registered plugin for listings.
type Descriptor struct {
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
}
