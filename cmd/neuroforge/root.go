package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/734ai/neuroforge/internal/config"
	"github.com/734ai/neuroforge/internal/orchestrator"
)

var (
	configFile   string
	dataDir      string
	workspace    string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "neuroforge",
	Short: "NeuroForge - local memory and task engine for development sessions",
	Long: `NeuroForge is a local-first assistant core that persists development
context across sessions and runs capability-based tasks through plugins.

All state lives on the local filesystem; no operation requires network
access.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command with signal handling.
func Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (default $NEUROFORGE_HOME/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (default $NEUROFORGE_HOME or ~/.neuroforge)")
	rootCmd.PersistentFlags().StringVar(&workspace, "workspace", "", "Workspace root to track (default current directory)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "Output format: text or json")

	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(pluginCmd)
	rootCmd.AddCommand(contextCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

// defaultDataDir resolves the data directory from flags and environment.
func defaultDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if home := os.Getenv("NEUROFORGE_HOME"); home != "" {
		return home
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return ".neuroforge"
	}
	return filepath.Join(userHome, ".neuroforge")
}

func loadConfig() (*config.Config, error) {
	dir := defaultDataDir()
	path := configFile
	if path == "" {
		path = filepath.Join(dir, "config.yaml")
	}
	cfg, err := config.Load(path, dir)
	if err != nil {
		return nil, err
	}
	if workspace != "" {
		cfg.Core.WorkspaceRoot = workspace
	}
	return cfg, nil
}

// withOrchestrator builds the orchestrator for one command invocation and
// tears it down afterwards. The CLI is process-per-invocation; long-lived
// embedding callers construct the orchestrator directly.
func withOrchestrator(cmd *cobra.Command, fn func(ctx context.Context, o *orchestrator.Orchestrator) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	o, err := orchestrator.New(ctx, cfg, nil, config.NewLogger(cfg.Logging))
	if err != nil {
		return err
	}
	defer o.Close()

	return fn(ctx, o)
}

func jsonOutput() bool {
	return outputFormat == "json"
}

// printJSON writes v as indented JSON to the command's stdout.
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "neuroforge %s\n", buildVersion)
	},
}

// buildVersion is overridden at release time via -ldflags.
var buildVersion = "dev"
