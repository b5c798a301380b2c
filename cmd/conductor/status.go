package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/originflow/conductor/internal/config"
	"github.com/originflow/conductor/internal/memory"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status [task-id]",
	Short: "Show recorded task sessions",
	Long: `Display task sessions recorded in the episodic store.

Without arguments, lists recent sessions. With a task ID, shows that
session's summary and interaction history.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatusCmd,
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "How many recent sessions to list")
}

func runStatusCmd(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := openDatabase(cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	episodic := memory.NewEpisodicStore(db)
	if len(args) == 1 {
		return showSession(episodic, args[0])
	}
	return listSessions(episodic)
}

func listSessions(episodic *memory.EpisodicStore) error {
	summaries, err := episodic.RecentSummaries(statusLimit)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Println("No recorded sessions. Run 'conductor run <task>' to start one.")
		return nil
	}

	for _, s := range summaries {
		state := color.YellowString("open")
		if s.Closed {
			state = color.GreenString("closed")
		}
		fmt.Printf("%s  %s  %s  %d interactions", s.SessionID, state,
			s.StartedAt.Format(time.RFC3339), s.InteractionCount)
		if len(s.Topics) > 0 {
			fmt.Printf("  [%s]", strings.Join(s.Topics, ", "))
		}
		fmt.Println()
	}
	return nil
}

func showSession(episodic *memory.EpisodicStore, sessionID string) error {
	summary, err := episodic.Summary(sessionID)
	if err != nil {
		return err
	}
	if summary == nil {
		return fmt.Errorf("no session recorded for %s", sessionID)
	}

	fmt.Printf("session %s\n", summary.SessionID)
	fmt.Printf("  started:      %s\n", summary.StartedAt.Format(time.RFC3339))
	if summary.EndedAt != nil {
		fmt.Printf("  ended:        %s\n", summary.EndedAt.Format(time.RFC3339))
	}
	fmt.Printf("  interactions: %d\n", summary.InteractionCount)
	if len(summary.Topics) > 0 {
		fmt.Printf("  topics:       %s\n", strings.Join(summary.Topics, ", "))
	}

	history, err := episodic.History(sessionID, memory.HistoryFilter{})
	if err != nil {
		return err
	}
	for _, rec := range history {
		content := rec.Content
		if len(content) > 100 {
			content = content[:97] + "..."
		}
		fmt.Printf("  %s  %-12s %s\n", rec.CreatedAt.Format("15:04:05"), rec.Type, content)
	}
	return nil
}
