// Package critic verifies task output before completion. It computes
// five independent sub-scores from rule checks and combines them into a
// weighted overall score; verification failure is a structured negative
// verdict, never an error.
package critic

import (
	"fmt"
	"sort"
	"strings"

	"github.com/originflow/conductor/pkg/models"
)

// dimensionWeights combine sub-scores into the overall score.
var dimensionWeights = map[models.VerificationDimension]float64{
	models.DimensionSafety:      0.30,
	models.DimensionQuality:     0.25,
	models.DimensionCompliance:  0.20,
	models.DimensionAccuracy:    0.15,
	models.DimensionConsistency: 0.10,
}

// severityDeductions lower a dimension's sub-score per issue.
var severityDeductions = map[models.Severity]float64{
	models.SeverityInfo:     0.05,
	models.SeverityWarning:  0.15,
	models.SeverityError:    0.30,
	models.SeverityHigh:     0.45,
	models.SeverityCritical: 0.60,
}

// Thresholds bound what counts as valid output.
type Thresholds struct {
	// MinScore is the overall score required for validity.
	MinScore float64
	// MaxErrorIssues is how many error-severity issues are tolerated.
	MaxErrorIssues int
}

// Verifier scores task output against safety, quality, compliance,
// accuracy, and consistency rules.
type Verifier struct {
	thresholds Thresholds
}

// New creates a verifier. Zero thresholds get the standard defaults.
func New(t Thresholds) *Verifier {
	if t.MinScore <= 0 {
		t.MinScore = 0.7
	}
	if t.MaxErrorIssues <= 0 {
		t.MaxErrorIssues = 2
	}
	return &Verifier{thresholds: t}
}

// Verify scores the combined step outputs of an executed plan. Validity
// requires zero critical issues, at most the configured number of
// error issues, and an overall score at or above the minimum.
func (v *Verifier) Verify(plan *models.Plan, results []models.StepResult, taskCtx map[string]any) models.VerificationResult {
	outputs := collectOutputs(results)
	combined := strings.Join(valuesOf(outputs), "\n")

	var issues []models.VerificationIssue
	issues = append(issues, checkSafety(outputs)...)
	issues = append(issues, checkQuality(outputs)...)
	issues = append(issues, checkCompliance(outputs, combined)...)
	issues = append(issues, checkAccuracy(plan, combined)...)
	issues = append(issues, checkConsistency(results)...)

	scores := make(map[models.VerificationDimension]float64, len(dimensionWeights))
	for dim := range dimensionWeights {
		scores[dim] = 1.0
	}
	for _, issue := range issues {
		scores[issue.Dimension] -= severityDeductions[issue.Severity]
		if scores[issue.Dimension] < 0 {
			scores[issue.Dimension] = 0
		}
	}

	overall := 0.0
	for dim, weight := range dimensionWeights {
		overall += scores[dim] * weight
	}

	result := models.VerificationResult{
		OverallScore: overall,
		Scores:       scores,
		Issues:       issues,
	}
	result.IsValid = result.CountBySeverity(models.SeverityCritical) == 0 &&
		result.CountBySeverity(models.SeverityError) <= v.thresholds.MaxErrorIssues &&
		overall >= v.thresholds.MinScore
	return result
}

// stepOutput is one step's output flattened to text.
type stepOutput struct {
	stepID string
	text   string
}

// collectOutputs flattens step result outputs into per-step text blobs,
// preserving declaration order.
func collectOutputs(results []models.StepResult) []stepOutput {
	outputs := make([]stepOutput, 0, len(results))
	for _, r := range results {
		keys := make([]string, 0, len(r.Outputs))
		for k := range r.Outputs {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var b strings.Builder
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %v\n", k, r.Outputs[k])
		}
		outputs = append(outputs, stepOutput{stepID: r.StepID, text: b.String()})
	}
	return outputs
}

// valuesOf returns the text blobs in order.
func valuesOf(outputs []stepOutput) []string {
	texts := make([]string, len(outputs))
	for i, o := range outputs {
		texts[i] = o.text
	}
	return texts
}
