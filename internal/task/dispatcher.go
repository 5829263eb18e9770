package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/734ai/neuroforge/internal/plugin"
	"github.com/734ai/neuroforge/internal/types"
)

// Dispatcher routes a task to the plugin serving its capability and
// supervises the execution: per-task timeout, panic isolation, and error
// normalization. A plugin can time out, fail, or panic without affecting
// the worker that dispatched it.
type Dispatcher struct {
	registry *plugin.Registry
	timeout  time.Duration
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher with a per-execution timeout.
func NewDispatcher(registry *plugin.Registry, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{
		registry: registry,
		timeout:  timeout,
		logger:   logger.With("component", "task.dispatcher"),
	}
}

// Resolve finds the plugin serving a capability without executing it.
// Used by the scheduler to reject unknown capabilities before enqueue.
func (d *Dispatcher) Resolve(capability string) (plugin.Plugin, error) {
	return d.registry.ForCapability(capability)
}

// Dispatch executes the task's capability under the configured timeout.
func (d *Dispatcher) Dispatch(ctx context.Context, t *Task) (json.RawMessage, error) {
	p, err := d.Resolve(t.Capability)
	if err != nil {
		return nil, err
	}
	return d.execute(ctx, p, t.Parameters, t.Capability)
}

// DispatchDirect executes a plugin by name, bypassing the queue. This is
// the synchronous runPlugin path; the same timeout and panic isolation
// apply.
func (d *Dispatcher) DispatchDirect(ctx context.Context, name string, params json.RawMessage) (json.RawMessage, error) {
	p, err := d.registry.ByName(name)
	if err != nil {
		return nil, err
	}
	return d.execute(ctx, p, params, name)
}

type execResult struct {
	result json.RawMessage
	err    error
}

func (d *Dispatcher) execute(ctx context.Context, p plugin.Plugin, params json.RawMessage, label string) (json.RawMessage, error) {
	execCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan execResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("plugin panicked",
					"plugin", p.Name(),
					"panic", r,
					"stack", string(debug.Stack()),
				)
				done <- execResult{err: types.NewError(types.PLUGIN_EXECUTION_FAILED,
					fmt.Sprintf("plugin %s panicked: %v", p.Name(), r))}
			}
		}()
		result, err := p.Execute(execCtx, params)
		done <- execResult{result: result, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, d.normalize(res.err, p.Name(), execCtx)
		}
		return res.result, nil
	case <-execCtx.Done():
		// The plugin goroutine keeps running until it observes the
		// cancelled context; its late result is discarded via the
		// buffered channel.
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, types.NewError(types.PLUGIN_TIMEOUT,
				fmt.Sprintf("plugin %s exceeded %s timeout", p.Name(), d.timeout))
		}
		return nil, types.WrapError(types.PLUGIN_EXECUTION_FAILED,
			fmt.Sprintf("plugin %s execution interrupted", label), ctx.Err())
	}
}

// normalize maps plugin errors into the structured taxonomy. Structured
// errors pass through; everything else becomes an execution failure that
// keeps the cause's retryability.
func (d *Dispatcher) normalize(err error, pluginName string, execCtx context.Context) error {
	if errors.Is(err, context.DeadlineExceeded) && errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		return types.NewError(types.PLUGIN_TIMEOUT,
			fmt.Sprintf("plugin %s exceeded %s timeout", pluginName, d.timeout))
	}

	var structured *types.Error
	if errors.As(err, &structured) {
		return err
	}
	if types.IsRetryable(err) {
		return types.WrapRetryableError(types.PLUGIN_EXECUTION_FAILED,
			fmt.Sprintf("plugin %s failed", pluginName), err)
	}
	return types.WrapError(types.PLUGIN_EXECUTION_FAILED,
		fmt.Sprintf("plugin %s failed", pluginName), err)
}
