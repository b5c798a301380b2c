package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "conductor",
	Short: "AI task orchestrator for engineering analysis",
	Long: `Conductor plans, budgets, and executes engineering analysis tasks
on a worker pool of registered tools.

Each submitted task is checked against tenant budgets, rate limits, and
content policy, decomposed into a dependency-ordered plan, executed with
caching and memory grounding, and reviewed by a verifier before its
results are accepted.

Core capabilities:
- Decomposes tasks by type into tool-backed plan steps
- Enforces per-tenant PSU budgets with reservation accounting
- Grounds plans in accumulated knowledge and learned patterns
- Caches side-effect-free tool output across runs
- Scores every result on safety, quality, compliance, accuracy, and consistency`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
