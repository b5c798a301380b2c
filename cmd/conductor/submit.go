package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/originflow/conductor/internal/config"
)

var submitCmd = &cobra.Command{
	Use:   "submit <task description>",
	Short: "Submit one task and wait for its outcome",
	Long: `Submit a single task to an in-process engine, wait for it to reach a
terminal state, and print the result. Exits non-zero when the task does
not complete.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()
		a.engine.Start()
		go printEvents(a.engine)

		return submitAndWait(a, strings.Join(args, " "))
	},
}

func init() {
	addSubmitFlags(submitCmd)
	submitCmd.Flags().BoolVar(&runQuiet, "quiet", false, "Suppress per-step event output")
}
