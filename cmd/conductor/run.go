package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/originflow/conductor/internal/config"
	"github.com/originflow/conductor/internal/orchestrator"
	"github.com/originflow/conductor/pkg/models"
)

var (
	runTenant   string
	runUser     string
	runTaskType string
	runPriority string
	runRole     string
	runRegion   string
	runQuiet    bool
)

var runCmd = &cobra.Command{
	Use:   "run [task description]",
	Short: "Run tasks against an in-process engine",
	Long: `Start the orchestrator engine and run tasks against it.

With a task description, submits that one task, waits for it to finish,
and prints the outcome.

Without arguments, starts an interactive session. Each line you type is
submitted as a task; these commands are also available:

  status <task-id>   show a task's current state
  cancel <task-id>   request cooperative cancellation
  quit               shut down and exit

Task types (--type):
  component_analysis    analyze a component against its datasheet
  design_validation     validate a design against engineering rules
  project_optimization  search for cost/performance improvements
  procurement_assist    supplier and sourcing decisions
  simulation            run a simulation pipeline`,
	RunE: runTasks,
}

func init() {
	addSubmitFlags(runCmd)
	runCmd.Flags().BoolVar(&runQuiet, "quiet", false, "Suppress per-step event output")
}

// addSubmitFlags registers the task identity flags shared by run and submit.
func addSubmitFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&runTenant, "tenant", "default", "Tenant for budget and rate accounting")
	cmd.Flags().StringVar(&runUser, "user", "local", "Submitting user")
	cmd.Flags().StringVar(&runTaskType, "type", string(models.TaskTypeComponentAnalysis), "Task type")
	cmd.Flags().StringVar(&runPriority, "priority", string(models.PriorityNormal), "Task priority: low, normal, high, critical")
	cmd.Flags().StringVar(&runRole, "role", "", "Role for permission checks (default engineer)")
	cmd.Flags().StringVar(&runRegion, "region", "", "Preferred execution region")
}

func runTasks(cmd *cobra.Command, args []string) error {
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

	if len(args) > 0 {
		return submitAndWait(a, strings.Join(args, " "))
	}
	return interactiveSession(a)
}

// interactiveSession reads tasks and commands from stdin until EOF,
// quit, or an interrupt.
func interactiveSession(a *app) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	fmt.Println("Type a task description to submit it, or 'quit' to exit.")
	for {
		fmt.Print("> ")
		select {
		case <-sigCh:
			fmt.Println("\nShutting down.")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			switch {
			case line == "":
			case line == "quit" || line == "exit":
				return nil
			case strings.HasPrefix(line, "status "):
				showStatus(a, strings.TrimSpace(strings.TrimPrefix(line, "status ")))
			case strings.HasPrefix(line, "cancel "):
				id := strings.TrimSpace(strings.TrimPrefix(line, "cancel "))
				if a.engine.Cancel(id) {
					fmt.Printf("cancellation requested for %s\n", id)
				} else {
					fmt.Printf("task %s is unknown or already finished\n", id)
				}
			default:
				id, err := submitTask(a, line)
				if err != nil {
					color.Red("submit failed: %v", err)
					continue
				}
				fmt.Printf("submitted %s\n", id)
			}
		}
	}
}

// submitTask queues one task using the shared identity flags.
func submitTask(a *app, description string) (string, error) {
	taskCtx := map[string]any{}
	if runRole != "" {
		taskCtx["role"] = runRole
	}
	if runRegion != "" {
		taskCtx["region"] = runRegion
	}
	return a.engine.Submit(models.TaskType(runTaskType), description, taskCtx,
		models.Priority(runPriority), runTenant, runUser)
}

// submitAndWait runs one task to a terminal state and reports it.
func submitAndWait(a *app, description string) error {
	id, err := submitTask(a, description)
	if err != nil {
		return err
	}
	fmt.Printf("task %s submitted\n", id)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-sigCh:
			a.engine.Cancel(id)
			fmt.Println("\ncancellation requested, waiting for the task to stop")
		case <-ticker.C:
			task, err := a.engine.Status(id)
			if err != nil {
				return err
			}
			if !task.Status.Terminal() {
				continue
			}
			printOutcome(task)
			if task.Status != models.TaskStatusCompleted {
				os.Exit(1)
			}
			return nil
		}
	}
}

// showStatus prints one task's state inside the interactive session.
func showStatus(a *app, id string) {
	task, err := a.engine.Status(id)
	if err != nil {
		color.Red("%v", err)
		return
	}
	fmt.Printf("%s: %s", task.ID, task.Status)
	if task.Plan != nil {
		fmt.Printf(" (%d steps, %.1f PSU estimated)", len(task.Plan.Steps), task.Plan.EstimatedCost)
	}
	fmt.Println()
	for _, msg := range task.Errors {
		color.Yellow("  %s", msg)
	}
}

// printOutcome renders a finished task.
func printOutcome(task *models.Task) {
	switch task.Status {
	case models.TaskStatusCompleted:
		color.Green("task %s completed", task.ID)
	case models.TaskStatusCancelled:
		color.Yellow("task %s cancelled", task.ID)
	default:
		color.Red("task %s %s", task.ID, task.Status)
	}

	if task.Plan != nil {
		fmt.Printf("  plan: %d steps, %.1f PSU estimated\n", len(task.Plan.Steps), task.Plan.EstimatedCost)
	}
	for _, r := range task.Results {
		marker := color.GreenString("ok")
		if !r.Success {
			marker = color.RedString("failed")
		}
		fmt.Printf("  step %-16s %s (%.1f PSU)\n", r.StepID, marker, r.ActualCost)
	}
	for _, msg := range task.Errors {
		color.Red("  %s", msg)
	}
	if len(task.Patches) > 0 {
		fmt.Printf("  %d document patches proposed\n", len(task.Patches))
	}
}

// printEvents streams engine events to the terminal until the engine
// closes the channel.
func printEvents(eng *orchestrator.Engine) {
	for ev := range eng.Events() {
		if runQuiet {
			continue
		}
		switch ev.Type {
		case orchestrator.EventTaskCompleted:
			color.Green("[%s] %s %s", ev.Type, ev.TaskID, ev.Message)
		case orchestrator.EventTaskFailed:
			color.Red("[%s] %s %s", ev.Type, ev.TaskID, ev.Message)
		case orchestrator.EventTaskEscalated, orchestrator.EventTaskCancelled:
			color.Yellow("[%s] %s %s", ev.Type, ev.TaskID, ev.Message)
		case orchestrator.EventStepCompleted:
			fmt.Printf("[%s] %s step %s\n", ev.Type, ev.TaskID, ev.StepID)
		default:
			fmt.Printf("[%s] %s %s\n", ev.Type, ev.TaskID, ev.Message)
		}
	}
}
