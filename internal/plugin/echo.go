package plugin

import (
	"context"
	"encoding/json"
	"time"
)

// EchoPlugin is the built-in smoke-test plugin. It returns its parameters
// unchanged together with a timestamp, which makes it useful for
// verifying the submit/dispatch/archive path end to end.
type EchoPlugin struct{}

// NewEchoPlugin creates the built-in echo plugin.
func NewEchoPlugin() *EchoPlugin {
	return &EchoPlugin{}
}

// Name returns the plugin name.
func (p *EchoPlugin) Name() string {
	return "echo"
}

// Capabilities returns the capabilities served by echo.
func (p *EchoPlugin) Capabilities() []string {
	return []string{"echo", "test", "demo"}
}

// Execute returns the parameters wrapped in an envelope.
func (p *EchoPlugin) Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(params) == 0 {
		params = json.RawMessage(`null`)
	}

	result := struct {
		Echo      json.RawMessage `json:"echo"`
		EchoedAt  time.Time       `json:"echoed_at"`
		ParamSize int             `json:"param_size"`
	}{
		Echo:      params,
		EchoedAt:  time.Now().UTC(),
		ParamSize: len(params),
	}
	return json.Marshal(result)
}

var _ Plugin = (*EchoPlugin)(nil)
