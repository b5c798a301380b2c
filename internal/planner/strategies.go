package planner

import (
	"time"

	"github.com/originflow/conductor/pkg/models"
)

// strategySteps dispatches to the decomposition strategy for the task
// type. Unknown types get the generic strategy.
func (p *Planner) strategySteps(taskType models.TaskType, description string, taskCtx map[string]any) []models.PlanStep {
	switch taskType {
	case models.TaskTypeComponentAnalysis:
		return p.componentAnalysisSteps(description, taskCtx)
	case models.TaskTypeDesignValidation:
		return p.designValidationSteps(description, taskCtx)
	case models.TaskTypeProjectOptimization:
		return p.projectOptimizationSteps(description, taskCtx)
	case models.TaskTypeProcurementAssist:
		return p.procurementAssistSteps(description, taskCtx)
	case models.TaskTypeSimulation:
		return p.simulationSteps(description, taskCtx)
	default:
		return p.genericSteps(description, taskCtx)
	}
}

// componentAnalysisSteps: retrieve prior knowledge, pull the component's
// datasheet, compare it against the task requirements, then synthesize.
func (p *Planner) componentAnalysisSteps(description string, taskCtx map[string]any) []models.PlanStep {
	lookupDur, lookupCost := p.estimate("datasheet_lookup", 2*time.Second, 3)
	compareDur, compareCost := p.estimate("spec_compare", 3*time.Second, 5)

	return []models.PlanStep{
		p.groundingStep("ca-ground", description),
		{
			ID: "ca-lookup", Type: models.StepTypeToolExecution, Tool: "datasheet_lookup",
			Inputs:            stepInputs(description, taskCtx),
			DependsOn:         []string{"ca-ground"},
			EstimatedDuration: lookupDur, EstimatedCost: lookupCost, Confidence: 0.9,
		},
		{
			ID: "ca-compare", Type: models.StepTypeToolExecution, Tool: "spec_compare",
			Inputs:            stepInputs(description, taskCtx),
			DependsOn:         []string{"ca-lookup"},
			EstimatedDuration: compareDur, EstimatedCost: compareCost, Confidence: 0.85,
		},
		p.synthesisStep("ca-synthesize", description, "ca-compare"),
	}
}

// designValidationSteps: rule and geometry checks run in parallel after
// grounding, then a validation gate and synthesis.
func (p *Planner) designValidationSteps(description string, taskCtx map[string]any) []models.PlanStep {
	ruleDur, ruleCost := p.estimate("rule_check", 2*time.Second, 4)
	geoDur, geoCost := p.estimate("geometry_check", 4*time.Second, 6)

	return []models.PlanStep{
		p.groundingStep("dv-ground", description),
		{
			ID: "dv-rules", Type: models.StepTypeToolExecution, Tool: "rule_check",
			Inputs:    stepInputs(description, taskCtx),
			DependsOn: []string{"dv-ground"}, ParallelGroup: "dv-checks",
			EstimatedDuration: ruleDur, EstimatedCost: ruleCost, Confidence: 0.9,
		},
		{
			ID: "dv-geometry", Type: models.StepTypeToolExecution, Tool: "geometry_check",
			Inputs:    stepInputs(description, taskCtx),
			DependsOn: []string{"dv-ground"}, ParallelGroup: "dv-checks",
			EstimatedDuration: geoDur, EstimatedCost: geoCost, Confidence: 0.85,
		},
		{
			ID: "dv-validate", Type: models.StepTypeValidation,
			Inputs:            stepInputs(description, taskCtx),
			DependsOn:         []string{"dv-rules", "dv-geometry"},
			EstimatedDuration: time.Second, EstimatedCost: 1, Confidence: 0.9,
		},
		p.synthesisStep("dv-synthesize", description, "dv-validate"),
	}
}

// projectOptimizationSteps: cost and performance models run in parallel,
// then a trade-off ranking and synthesis.
func (p *Planner) projectOptimizationSteps(description string, taskCtx map[string]any) []models.PlanStep {
	costDur, costCost := p.estimate("cost_model", 3*time.Second, 5)
	perfDur, perfCost := p.estimate("performance_model", 5*time.Second, 7)
	rankDur, rankCost := p.estimate("tradeoff_rank", 2*time.Second, 3)

	return []models.PlanStep{
		p.groundingStep("po-ground", description),
		{
			ID: "po-cost", Type: models.StepTypeToolExecution, Tool: "cost_model",
			Inputs:    stepInputs(description, taskCtx),
			DependsOn: []string{"po-ground"}, ParallelGroup: "po-models",
			EstimatedDuration: costDur, EstimatedCost: costCost, Confidence: 0.85,
		},
		{
			ID: "po-perf", Type: models.StepTypeToolExecution, Tool: "performance_model",
			Inputs:    stepInputs(description, taskCtx),
			DependsOn: []string{"po-ground"}, ParallelGroup: "po-models",
			EstimatedDuration: perfDur, EstimatedCost: perfCost, Confidence: 0.8,
		},
		{
			ID: "po-rank", Type: models.StepTypeToolExecution, Tool: "tradeoff_rank",
			Inputs:            stepInputs(description, taskCtx),
			DependsOn:         []string{"po-cost", "po-perf"},
			EstimatedDuration: rankDur, EstimatedCost: rankCost, Confidence: 0.85,
		},
		p.synthesisStep("po-synthesize", description, "po-rank"),
	}
}

// procurementAssistSteps: supplier search then quote comparison.
func (p *Planner) procurementAssistSteps(description string, taskCtx map[string]any) []models.PlanStep {
	searchDur, searchCost := p.estimate("supplier_search", 4*time.Second, 5)
	quoteDur, quoteCost := p.estimate("quote_compare", 2*time.Second, 3)

	return []models.PlanStep{
		p.groundingStep("pa-ground", description),
		{
			ID: "pa-search", Type: models.StepTypeToolExecution, Tool: "supplier_search",
			Inputs:            stepInputs(description, taskCtx),
			DependsOn:         []string{"pa-ground"},
			EstimatedDuration: searchDur, EstimatedCost: searchCost, Confidence: 0.8,
		},
		{
			ID: "pa-quotes", Type: models.StepTypeToolExecution, Tool: "quote_compare",
			Inputs:            stepInputs(description, taskCtx),
			DependsOn:         []string{"pa-search"},
			EstimatedDuration: quoteDur, EstimatedCost: quoteCost, Confidence: 0.85,
		},
		p.synthesisStep("pa-synthesize", description, "pa-quotes"),
	}
}

// simulationSteps: setup, run, validate results, synthesize.
func (p *Planner) simulationSteps(description string, taskCtx map[string]any) []models.PlanStep {
	setupDur, setupCost := p.estimate("sim_setup", 2*time.Second, 2)
	runDur, runCost := p.estimate("sim_run", 10*time.Second, 8)

	return []models.PlanStep{
		p.groundingStep("sim-ground", description),
		{
			ID: "sim-setup", Type: models.StepTypeToolExecution, Tool: "sim_setup",
			Inputs:            stepInputs(description, taskCtx),
			DependsOn:         []string{"sim-ground"},
			EstimatedDuration: setupDur, EstimatedCost: setupCost, Confidence: 0.9,
		},
		{
			ID: "sim-run", Type: models.StepTypeToolExecution, Tool: "sim_run",
			Inputs:            stepInputs(description, taskCtx),
			DependsOn:         []string{"sim-setup"},
			EstimatedDuration: runDur, EstimatedCost: runCost, Confidence: 0.8,
		},
		{
			ID: "sim-validate", Type: models.StepTypeValidation,
			Inputs:            stepInputs(description, taskCtx),
			DependsOn:         []string{"sim-run"},
			EstimatedDuration: time.Second, EstimatedCost: 1, Confidence: 0.9,
		},
		p.synthesisStep("sim-synthesize", description, "sim-validate"),
	}
}

// genericSteps is the fallback strategy for unrecognized task types.
func (p *Planner) genericSteps(description string, taskCtx map[string]any) []models.PlanStep {
	return []models.PlanStep{
		p.groundingStep("gen-ground", description),
		p.synthesisStep("gen-synthesize", description, "gen-ground"),
	}
}

// groundingStep retrieves prior knowledge for the later steps.
func (p *Planner) groundingStep(id, description string) models.PlanStep {
	return models.PlanStep{
		ID:                id,
		Type:              models.StepTypeGrounding,
		Inputs:            map[string]any{"query": description},
		EstimatedDuration: 500 * time.Millisecond,
		EstimatedCost:     1,
		Confidence:        0.95,
	}
}

// synthesisStep combines upstream outputs into the final answer.
func (p *Planner) synthesisStep(id, description string, deps ...string) models.PlanStep {
	return models.PlanStep{
		ID:                id,
		Type:              models.StepTypeSynthesis,
		Inputs:            map[string]any{"description": description},
		DependsOn:         deps,
		EstimatedDuration: time.Second,
		EstimatedCost:     2,
		Confidence:        0.9,
	}
}

// stepInputs merges the task description with the submitted context.
func stepInputs(description string, taskCtx map[string]any) map[string]any {
	inputs := map[string]any{"description": description}
	for k, v := range taskCtx {
		inputs[k] = v
	}
	return inputs
}
