package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/734ai/neuroforge/internal/orchestrator"
	"github.com/734ai/neuroforge/internal/session"
)

var (
	contextFiles    []string
	contextBranch   string
	contextRevision string
	contextDirty    bool
)

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Track workspace context",
	Long:  `Capture workspace state snapshots and manage the tracked workspace`,
}

var contextUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Record a workspace state snapshot",
	Long: `Record the current workspace state for the active session. Identical
consecutive snapshots are deduplicated and rapid bursts collapse to the
latest state.

Examples:
  neuroforge context update --file cmd/main.go --file internal/server.go \
    --branch feature/retry --revision 3fa2c1d --dirty`,
	RunE: runContextUpdate,
}

var contextSwitchCmd = &cobra.Command{
	Use:   "switch ROOT",
	Short: "Switch the tracked workspace",
	Long: `Switch tracking to a different workspace root. The current session is
superseded and a fresh session starts for the new root.`,
	Args: cobra.ExactArgs(1),
	RunE: runContextSwitch,
}

var contextShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the active session and its last snapshot",
	RunE:  runContextShow,
}

func init() {
	contextUpdateCmd.Flags().StringArrayVar(&contextFiles, "file", nil, "Open file path (repeatable)")
	contextUpdateCmd.Flags().StringVar(&contextBranch, "branch", "", "Version control branch")
	contextUpdateCmd.Flags().StringVar(&contextRevision, "revision", "", "Version control revision")
	contextUpdateCmd.Flags().BoolVar(&contextDirty, "dirty", false, "Working tree has uncommitted changes")

	contextCmd.AddCommand(contextUpdateCmd)
	contextCmd.AddCommand(contextSwitchCmd)
	contextCmd.AddCommand(contextShowCmd)
}

func runContextUpdate(cmd *cobra.Command, args []string) error {
	state := &session.WorkspaceState{
		ActiveFiles: contextFiles,
		VCSBranch:   contextBranch,
		VCSRevision: contextRevision,
		VCSDirty:    contextDirty,
	}

	return withOrchestrator(cmd, func(ctx context.Context, o *orchestrator.Orchestrator) error {
		if err := o.UpdateWorkspaceContext(ctx, state); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Snapshot recorded for session %s\n", o.Session().ID)
		return nil
	})
}

func runContextSwitch(cmd *cobra.Command, args []string) error {
	return withOrchestrator(cmd, func(ctx context.Context, o *orchestrator.Orchestrator) error {
		s, err := o.SetWorkspace(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Now tracking %s (session %s)\n", s.WorkspaceRoot, s.ID)
		return nil
	})
}

func runContextShow(cmd *cobra.Command, args []string) error {
	return withOrchestrator(cmd, func(ctx context.Context, o *orchestrator.Orchestrator) error {
		s := o.Session()
		if jsonOutput() {
			return printJSON(cmd, s)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Session:   %s\n", s.ID)
		fmt.Fprintf(out, "Workspace: %s\n", s.WorkspaceRoot)
		fmt.Fprintf(out, "Started:   %s\n", s.StartedAt.Local().Format(time.RFC3339))
		if s.LastSnapshot == nil {
			fmt.Fprintln(out, "Snapshot:  none")
			return nil
		}
		fmt.Fprintf(out, "Branch:    %s\n", s.LastSnapshot.VCSBranch)
		fmt.Fprintf(out, "Revision:  %s\n", s.LastSnapshot.VCSRevision)
		fmt.Fprintf(out, "Dirty:     %t\n", s.LastSnapshot.VCSDirty)
		fmt.Fprintf(out, "Files:     %s\n", strings.Join(s.LastSnapshot.ActiveFiles, ", "))
		return nil
	})
}
