package main

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/734ai/neuroforge/internal/orchestrator"
	"github.com/734ai/neuroforge/internal/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show subsystem health and statistics",
	Long: `Show the health of every subsystem together with memory, scheduler,
and session counters.

Examples:
  neuroforge status
  neuroforge status --output json`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withOrchestrator(cmd, func(ctx context.Context, o *orchestrator.Orchestrator) error {
		health := o.Health(ctx)
		stats, err := o.Stats(ctx)
		if err != nil {
			return err
		}

		if jsonOutput() {
			return printJSON(cmd, struct {
				Health map[string]types.HealthStatus `json:"health"`
				Stats  orchestrator.Stats            `json:"stats"`
			}{health, stats})
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Subsystems:")
		names := make([]string, 0, len(health))
		for name := range health {
			names = append(names, name)
		}
		sort.Strings(names)

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		for _, name := range names {
			h := health[name]
			fmt.Fprintf(w, "  %s\t%s\t%s\n", name, healthColor(h).Sprint(h.State), h.Message)
		}
		w.Flush()

		fmt.Fprintln(out)
		fmt.Fprintf(out, "Memory:    %d durable records, %d buffered (%d bytes), %d vector-indexed\n",
			stats.Memory.DurableRecords,
			stats.Memory.Buffer.Entries,
			stats.Memory.Buffer.SizeBytes,
			stats.Memory.VectorIndexed,
		)
		fmt.Fprintf(out, "Buffer:    %d hits, %d misses, %d evictions\n",
			stats.Memory.Buffer.Hits,
			stats.Memory.Buffer.Misses,
			stats.Memory.Buffer.Evictions,
		)
		fmt.Fprintf(out, "Scheduler: %d active, %d completed, %d failed, %d cancelled, %d retried\n",
			stats.Scheduler.Active,
			stats.Scheduler.Completed,
			stats.Scheduler.Failed,
			stats.Scheduler.Cancelled,
			stats.Scheduler.Retried,
		)
		fmt.Fprintf(out, "Session:   %d snapshots persisted, %d collapsed\n",
			stats.SnapshotsPersisted,
			stats.SnapshotsCollapsed,
		)
		fmt.Fprintf(out, "Plugins:   %d registered\n", stats.RegisteredPlugins)
		return nil
	})
}

func healthColor(h types.HealthStatus) *color.Color {
	switch {
	case h.IsHealthy():
		return color.New(color.FgGreen)
	case h.IsUnhealthy():
		return color.New(color.FgRed, color.Bold)
	default:
		return color.New(color.FgYellow)
	}
}
