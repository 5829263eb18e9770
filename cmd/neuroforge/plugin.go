package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/734ai/neuroforge/internal/orchestrator"
)

var pluginParams string

var pluginCmd = &cobra.Command{
	Use:   "plugin",
	Short: "Inspect and run plugins",
	Long:  `List registered plugins and run them directly, outside the task queue`,
}

var pluginListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered plugins and their capabilities",
	RunE:  runPluginList,
}

var pluginRunCmd = &cobra.Command{
	Use:   "run NAME",
	Short: "Run a plugin synchronously",
	Long: `Run a plugin by name and print its result. The run is synchronous but
subject to the same timeout and panic isolation as scheduled tasks.

Examples:
  # Run the built-in echo plugin
  neuroforge plugin run echo --params '{"check":"ok"}'`,
	Args: cobra.ExactArgs(1),
	RunE: runPluginRun,
}

func init() {
	pluginRunCmd.Flags().StringVar(&pluginParams, "params", "", "JSON parameters for the plugin")

	pluginCmd.AddCommand(pluginListCmd)
	pluginCmd.AddCommand(pluginRunCmd)
}

func runPluginList(cmd *cobra.Command, args []string) error {
	return withOrchestrator(cmd, func(ctx context.Context, o *orchestrator.Orchestrator) error {
		descriptors := o.ListPlugins()
		if jsonOutput() {
			return printJSON(cmd, descriptors)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tCAPABILITIES")
		for _, d := range descriptors {
			fmt.Fprintf(w, "%s\t%s\n", d.Name, strings.Join(d.Capabilities, ","))
		}
		return w.Flush()
	})
}

func runPluginRun(cmd *cobra.Command, args []string) error {
	var params json.RawMessage
	if pluginParams != "" {
		params = json.RawMessage(pluginParams)
	}

	return withOrchestrator(cmd, func(ctx context.Context, o *orchestrator.Orchestrator) error {
		result, err := o.RunPlugin(ctx, args[0], params)
		if err != nil {
			return err
		}

		var pretty any
		if err := json.Unmarshal(result, &pretty); err == nil {
			return printJSON(cmd, pretty)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(result))
		return nil
	})
}
