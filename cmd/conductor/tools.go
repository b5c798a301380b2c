package main

import (
	"context"
	"fmt"
	"time"

	"github.com/originflow/conductor/internal/registry"
	"github.com/originflow/conductor/pkg/models"
)

// builtinTools returns the demo tool set covering every planner
// strategy. Each tool produces deterministic canned analysis derived
// from its inputs; real deployments register their own tools instead.
func builtinTools() []registry.Tool {
	return []registry.Tool{
		echoTool("datasheet_lookup", "analysis", models.SideEffectRead,
			2*time.Second, 3, []string{"analysis:read"},
			func(subject string) map[string]any {
				return map[string]any{
					"datasheet": fmt.Sprintf("datasheet parameters retrieved for %s", subject),
					"evidence":  "vendor datasheet archive",
				}
			}),
		echoTool("spec_compare", "analysis", models.SideEffectNone,
			3*time.Second, 5, []string{"analysis:run"},
			func(subject string) map[string]any {
				return map[string]any{
					"comparison": fmt.Sprintf("measured parameters for %s fall within datasheet tolerances; margins are an estimate only", subject),
				}
			}),
		echoTool("rule_check", "validation", models.SideEffectNone,
			2*time.Second, 4, []string{"design:validate"},
			func(subject string) map[string]any {
				return map[string]any{
					"rule_findings": fmt.Sprintf("engineering rules evaluated against %s, no blocking findings", subject),
				}
			}),
		echoTool("geometry_check", "validation", models.SideEffectNone,
			4*time.Second, 6, []string{"design:validate"},
			func(subject string) map[string]any {
				return map[string]any{
					"geometry_findings": fmt.Sprintf("geometry constraints checked for %s, clearances within limits", subject),
				}
			}),
		echoTool("cost_model", "optimization", models.SideEffectNone,
			3*time.Second, 5, []string{"analysis:run"},
			func(subject string) map[string]any {
				return map[string]any{
					"cost_estimate": fmt.Sprintf("cost model projection for %s, subject to supplier confirmation", subject),
				}
			}),
		echoTool("performance_model", "optimization", models.SideEffectNone,
			5*time.Second, 7, []string{"analysis:run"},
			func(subject string) map[string]any {
				return map[string]any{
					"performance_estimate": fmt.Sprintf("performance model projection for %s, preliminary", subject),
				}
			}),
		echoTool("tradeoff_rank", "optimization", models.SideEffectNone,
			2*time.Second, 3, []string{"analysis:run"},
			func(subject string) map[string]any {
				return map[string]any{
					"ranking": fmt.Sprintf("cost and performance options for %s ranked, review before committing", subject),
				}
			}),
		echoTool("supplier_search", "procurement", models.SideEffectExternal,
			4*time.Second, 5, []string{"analysis:read"},
			func(subject string) map[string]any {
				return map[string]any{
					"suppliers": fmt.Sprintf("candidate suppliers located for %s", subject),
				}
			}),
		echoTool("quote_compare", "procurement", models.SideEffectNone,
			2*time.Second, 3, []string{"analysis:run"},
			func(subject string) map[string]any {
				return map[string]any{
					"quote_summary": fmt.Sprintf("quotes normalized and compared for %s, estimate only", subject),
				}
			}),
		echoTool("sim_setup", "simulation", models.SideEffectNone,
			2*time.Second, 2, []string{"simulation:run"},
			func(subject string) map[string]any {
				return map[string]any{
					"sim_config": fmt.Sprintf("simulation scenario configured for %s", subject),
				}
			}),
		echoTool("sim_run", "simulation", models.SideEffectNone,
			10*time.Second, 8, []string{"simulation:run"},
			func(subject string) map[string]any {
				return map[string]any{
					"sim_results": fmt.Sprintf("simulation completed for %s, verify against measured data", subject),
				}
			}),
	}
}

// echoTool builds a demo tool whose output echoes the task description.
func echoTool(name, category string, effect models.SideEffect, duration time.Duration,
	cost float64, scopes []string, outputs func(subject string) map[string]any) registry.Tool {
	return &registry.FuncTool{
		Meta: models.ToolMetadata{
			Name:              name,
			Version:           "1.0.0",
			Category:          category,
			Description:       fmt.Sprintf("demo %s tool", name),
			SideEffect:        effect,
			RequiredScopes:    scopes,
			EstimatedDuration: duration,
			EstimatedCost:     cost,
			Inputs: []models.FieldSpec{
				{Name: "description", Type: "string", Required: true, Description: "task description"},
			},
		},
		Fn: func(ctx context.Context, inputs map[string]any) (models.ToolResult, error) {
			subject, _ := inputs["description"].(string)
			if subject == "" {
				subject = "the submitted task"
			}
			return models.ToolResult{
				Success: true,
				Outputs: outputs(subject),
				Intent:  fmt.Sprintf("%s over %q", name, subject),
			}, nil
		},
	}
}
