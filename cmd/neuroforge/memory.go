package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/734ai/neuroforge/internal/memory"
	"github.com/734ai/neuroforge/internal/orchestrator"
	"github.com/734ai/neuroforge/internal/types"
)

var (
	memoryTags        []string
	memorySearchLimit int
	memoryListLimit   int
	memoryTagMode     string
	memoryHistory     bool
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Store and search session memory",
	Long:  `Store immutable memory records and search them semantically or by metadata`,
}

var memoryStoreCmd = &cobra.Command{
	Use:   "store CONTENT",
	Short: "Store a memory record",
	Long: `Store a JSON document as an immutable memory record in the current
session. Plain text is wrapped in a {"note": ...} document.

Examples:
  # Store a plain note
  neuroforge memory store "switched the parser to a two-pass design"

  # Store structured content with tags
  neuroforge memory store '{"decision":"use WAL mode"}' --tag database --tag decisions`,
	Args: cobra.ExactArgs(1),
	RunE: runMemoryStore,
}

var memorySearchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Search memory records",
	Long: `Search memory by relevance. Uses semantic similarity when the vector
index is available and falls back to lexical matching otherwise.

Examples:
  # Basic search
  neuroforge memory search "cache eviction bug"

  # Limit results
  neuroforge memory search "parser design" --limit 3

  # Search archived task outcomes only
  neuroforge memory search "lint" --task-history

  # JSON output for scripting
  neuroforge memory search "database locks" --output json`,
	Args: cobra.ExactArgs(1),
	RunE: runMemorySearch,
}

var memoryGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Fetch one memory record by ID",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemoryGet,
}

var memoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List memory records by metadata",
	Long: `List memory records filtered by tags, oldest first.

Examples:
  # Records carrying any of the tags
  neuroforge memory list --tag debugging --tag database

  # Records carrying all of the tags
  neuroforge memory list --tag debugging --tag database --tag-mode all`,
	RunE: runMemoryList,
}

func init() {
	memoryStoreCmd.Flags().StringArrayVar(&memoryTags, "tag", nil, "Tag to attach (repeatable)")

	memorySearchCmd.Flags().IntVar(&memorySearchLimit, "limit", 0, "Maximum results (default from config)")
	memorySearchCmd.Flags().BoolVar(&memoryHistory, "task-history", false, "Search archived task outcomes only")

	memoryListCmd.Flags().StringArrayVar(&memoryTags, "tag", nil, "Tag to filter by (repeatable)")
	memoryListCmd.Flags().IntVar(&memoryListLimit, "limit", 50, "Maximum results")
	memoryListCmd.Flags().StringVar(&memoryTagMode, "tag-mode", "any", "Tag match mode: any or all")

	memoryCmd.AddCommand(memoryStoreCmd)
	memoryCmd.AddCommand(memorySearchCmd)
	memoryCmd.AddCommand(memoryGetCmd)
	memoryCmd.AddCommand(memoryListCmd)
}

func runMemoryStore(cmd *cobra.Command, args []string) error {
	content := json.RawMessage(args[0])
	if !json.Valid(content) {
		wrapped, err := json.Marshal(map[string]string{"note": args[0]})
		if err != nil {
			return err
		}
		content = wrapped
	}

	return withOrchestrator(cmd, func(ctx context.Context, o *orchestrator.Orchestrator) error {
		record, err := o.StoreMemory(ctx, content, memoryTags)
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(cmd, record)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Stored record %s\n", record.ID)
		return nil
	})
}

func runMemorySearch(cmd *cobra.Command, args []string) error {
	query := args[0]

	return withOrchestrator(cmd, func(ctx context.Context, o *orchestrator.Orchestrator) error {
		var (
			results []memory.SearchResult
			err     error
		)
		if memoryHistory {
			results, err = o.SearchTaskHistory(ctx, query, memorySearchLimit)
		} else {
			results, err = o.SearchMemory(ctx, query, memorySearchLimit)
		}
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(cmd, results)
		}

		if len(results) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No matching records.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSCORE\tTIMESTAMP\tTAGS\tCONTENT")
		for _, r := range results {
			score := "-"
			if r.Semantic {
				score = fmt.Sprintf("%.3f", r.Score)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				r.Record.ID,
				score,
				r.Record.Timestamp.Local().Format(time.RFC3339),
				strings.Join(r.Record.Tags, ","),
				truncate(string(r.Record.Content), 60),
			)
		}
		return w.Flush()
	})
}

func runMemoryGet(cmd *cobra.Command, args []string) error {
	id, err := types.ParseID(args[0])
	if err != nil {
		return err
	}

	return withOrchestrator(cmd, func(ctx context.Context, o *orchestrator.Orchestrator) error {
		record, err := o.GetMemory(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(cmd, record)
	})
}

func runMemoryList(cmd *cobra.Command, args []string) error {
	mode := memory.TagModeAny
	if memoryTagMode == "all" {
		mode = memory.TagModeAll
	}

	return withOrchestrator(cmd, func(ctx context.Context, o *orchestrator.Orchestrator) error {
		records, err := o.QueryMemory(ctx, memory.Filter{
			Tags:    memoryTags,
			TagMode: mode,
			Limit:   memoryListLimit,
		})
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(cmd, records)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTIMESTAMP\tTAGS\tCONTENT")
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				r.ID,
				r.Timestamp.Local().Format(time.RFC3339),
				strings.Join(r.Tags, ","),
				truncate(string(r.Content), 60),
			)
		}
		return w.Flush()
	})
}

func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
