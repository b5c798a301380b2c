package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/originflow/conductor/pkg/models"
)

const advisorSystemPrompt = `You review execution plans for engineering analysis tasks.
Given a task and its planned steps, reply with one or two sentences pointing out
risks, missing checks, or a cheaper ordering. Reply with NONE if the plan looks fine.`

// PlanAdvisor asks the model for a short critique of a plan. It
// implements the planner's Advisor interface; advice is strictly
// additive, so every failure degrades to no note.
type PlanAdvisor struct {
	client  *Client
	timeout time.Duration
}

// NewPlanAdvisor creates an advisor over an API client.
func NewPlanAdvisor(client *Client, timeout time.Duration) *PlanAdvisor {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &PlanAdvisor{client: client, timeout: timeout}
}

// Advise returns a one-line note on the plan, or "" when the model has
// nothing to add.
func (a *PlanAdvisor) Advise(ctx context.Context, taskType models.TaskType, description string,
	steps []models.PlanStep) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	reply, err := a.client.complete(ctx, advisorSystemPrompt,
		buildAdvicePrompt(taskType, description, steps), 512)
	if err != nil {
		return "", err
	}

	note := strings.TrimSpace(reply)
	if note == "" || strings.EqualFold(note, "NONE") {
		return "", nil
	}
	// Keep the first line only; the reasoning field is a summary, not a transcript.
	if idx := strings.IndexByte(note, '\n'); idx > 0 {
		note = note[:idx]
	}
	return note, nil
}

// buildAdvicePrompt renders the task and its steps for review.
func buildAdvicePrompt(taskType models.TaskType, description string, steps []models.PlanStep) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task (%s): %s\n\nPlanned steps:\n", taskType, description)
	for i, s := range steps {
		fmt.Fprintf(&b, "%d. [%s] %s", i+1, s.Type, s.ID)
		if s.Tool != "" {
			fmt.Fprintf(&b, " tool=%s", s.Tool)
		}
		if len(s.DependsOn) > 0 {
			fmt.Fprintf(&b, " after=%s", strings.Join(s.DependsOn, ","))
		}
		if s.ParallelGroup != "" {
			fmt.Fprintf(&b, " parallel=%s", s.ParallelGroup)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
