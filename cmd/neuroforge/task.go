package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/734ai/neuroforge/internal/orchestrator"
	"github.com/734ai/neuroforge/internal/task"
	"github.com/734ai/neuroforge/internal/types"
)

var (
	taskParams       string
	taskPriority     int
	taskWait         bool
	taskID           string
	taskHistoryLimit int
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Submit and inspect asynchronous tasks",
	Long:  `Submit capability-based tasks to the local scheduler and track their lifecycle`,
}

var taskSubmitCmd = &cobra.Command{
	Use:   "submit CAPABILITY",
	Short: "Submit a task for a capability",
	Long: `Submit a task to the scheduler. The capability must be served by a
registered plugin; unknown capabilities are rejected before enqueue.

Examples:
  # Submit with JSON parameters
  neuroforge task submit echo --params '{"msg":"hi"}'

  # Jump the queue
  neuroforge task submit echo --priority 10

  # Block until the task reaches a terminal state
  neuroforge task submit echo --wait`,
	Args: cobra.ExactArgs(1),
	RunE: runTaskSubmit,
}

var taskStatusCmd = &cobra.Command{
	Use:   "status ID",
	Short: "Show a task's current state",
	Long: `Show a task's state. Terminal tasks are recovered from the
task-history archive, so status stays queryable across restarts.`,
	Args: cobra.ExactArgs(1),
	RunE: runTaskStatus,
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel ID",
	Short: "Cancel a task",
	Long: `Cancel a task. Pending tasks are cancelled immediately and never run;
running tasks are asked to stop cooperatively. Cancelling a task that
already finished is an acknowledged no-op.`,
	Args: cobra.ExactArgs(1),
	RunE: runTaskCancel,
}

var taskHistoryCmd = &cobra.Command{
	Use:   "history [QUERY]",
	Short: "List archived task outcomes",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTaskHistory,
}

func init() {
	taskSubmitCmd.Flags().StringVar(&taskParams, "params", "", "JSON parameters for the plugin")
	taskSubmitCmd.Flags().IntVar(&taskPriority, "priority", 0, "Scheduling priority (higher runs first)")
	taskSubmitCmd.Flags().BoolVar(&taskWait, "wait", false, "Wait for the task to reach a terminal state")
	taskSubmitCmd.Flags().StringVar(&taskID, "id", "", "Caller-chosen task ID used as the dedup key")

	taskHistoryCmd.Flags().IntVar(&taskHistoryLimit, "limit", 20, "Maximum results")

	taskCmd.AddCommand(taskSubmitCmd)
	taskCmd.AddCommand(taskStatusCmd)
	taskCmd.AddCommand(taskCancelCmd)
	taskCmd.AddCommand(taskHistoryCmd)
}

func runTaskSubmit(cmd *cobra.Command, args []string) error {
	var params json.RawMessage
	if taskParams != "" {
		params = json.RawMessage(taskParams)
	}

	return withOrchestrator(cmd, func(ctx context.Context, o *orchestrator.Orchestrator) error {
		var (
			submitted *task.Task
			err       error
		)
		if taskID != "" {
			id, parseErr := types.ParseID(taskID)
			if parseErr != nil {
				return parseErr
			}
			submitted, err = o.SubmitTaskWithID(ctx, id, args[0], params, taskPriority)
		} else {
			submitted, err = o.SubmitTask(ctx, args[0], params, taskPriority)
		}
		if err != nil {
			return err
		}

		if taskWait {
			final, err := waitForTerminal(ctx, o, submitted.ID)
			if err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(cmd, final)
			}
			printTask(cmd, final)
			return nil
		}

		if jsonOutput() {
			return printJSON(cmd, submitted)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Submitted task %s (capability %s)\n",
			submitted.ID, submitted.Capability)
		return nil
	})
}

func runTaskStatus(cmd *cobra.Command, args []string) error {
	id, err := types.ParseID(args[0])
	if err != nil {
		return err
	}

	return withOrchestrator(cmd, func(ctx context.Context, o *orchestrator.Orchestrator) error {
		t, err := o.GetTaskStatus(ctx, id)
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(cmd, t)
		}
		printTask(cmd, t)
		return nil
	})
}

func runTaskCancel(cmd *cobra.Command, args []string) error {
	id, err := types.ParseID(args[0])
	if err != nil {
		return err
	}

	return withOrchestrator(cmd, func(ctx context.Context, o *orchestrator.Orchestrator) error {
		t, err := o.CancelTask(ctx, id)
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(cmd, t)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Task %s is now %s\n", t.ID, t.Status)
		return nil
	})
}

func runTaskHistory(cmd *cobra.Command, args []string) error {
	query := ""
	if len(args) == 1 {
		query = args[0]
	}

	return withOrchestrator(cmd, func(ctx context.Context, o *orchestrator.Orchestrator) error {
		results, err := o.SearchTaskHistory(ctx, query, taskHistoryLimit)
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(cmd, results)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TASK\tCAPABILITY\tSTATUS\tARCHIVED")
		for _, r := range results {
			var archived task.Task
			if err := json.Unmarshal(r.Record.Content, &archived); err != nil {
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				archived.ID,
				archived.Capability,
				archived.Status,
				r.Record.Timestamp.Local().Format(time.RFC3339),
			)
		}
		return w.Flush()
	})
}

// waitForTerminal polls until the task leaves the scheduler and lands in
// the archive.
func waitForTerminal(ctx context.Context, o *orchestrator.Orchestrator, id types.ID) (*task.Task, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		t, err := o.GetTaskStatus(ctx, id)
		if err != nil {
			return nil, err
		}
		if t.Status.IsTerminal() {
			return t, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func printTask(cmd *cobra.Command, t *task.Task) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Task:       %s\n", t.ID)
	fmt.Fprintf(out, "Capability: %s\n", t.Capability)
	fmt.Fprintf(out, "Status:     %s\n", t.Status)
	fmt.Fprintf(out, "Created:    %s\n", t.CreatedAt.Local().Format(time.RFC3339))
	if t.StartedAt != nil {
		fmt.Fprintf(out, "Started:    %s\n", t.StartedAt.Local().Format(time.RFC3339))
	}
	if t.CompletedAt != nil {
		fmt.Fprintf(out, "Completed:  %s\n", t.CompletedAt.Local().Format(time.RFC3339))
	}
	if t.RetryCount > 0 {
		fmt.Fprintf(out, "Retries:    %d\n", t.RetryCount)
	}
	if t.Error != nil {
		fmt.Fprintf(out, "Error:      [%s] %s\n", t.Error.Code, t.Error.Message)
	}
	if len(t.Result) > 0 {
		fmt.Fprintf(out, "Result:     %s\n", string(t.Result))
	}
}
