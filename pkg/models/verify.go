package models

// VerificationDimension names one of the independent verifier sub-scores.
type VerificationDimension string

const (
	// DimensionSafety checks for harmful or dangerous content.
	DimensionSafety VerificationDimension = "safety"
	// DimensionQuality checks for placeholder text and repetition.
	DimensionQuality VerificationDimension = "quality"
	// DimensionCompliance checks disclaimers and PII handling.
	DimensionCompliance VerificationDimension = "compliance"
	// DimensionAccuracy checks relevance to the task description.
	DimensionAccuracy VerificationDimension = "accuracy"
	// DimensionConsistency checks agreement across step outputs.
	DimensionConsistency VerificationDimension = "consistency"
)

// VerificationIssue is one problem found while verifying task output.
type VerificationIssue struct {
	// Dimension is the sub-score this issue counts against.
	Dimension VerificationDimension `json:"dimension"`
	// Severity ranks the issue. Critical issues invalidate the output.
	Severity Severity `json:"severity"`
	// Description explains what was found.
	Description string `json:"description"`
	// StepID identifies the step whose output triggered the issue, if known.
	StepID string `json:"step_id,omitempty"`
}

// VerificationResult is the structured verdict of the critic. Verification
// failure is a negative result, never an error.
type VerificationResult struct {
	// IsValid is true when the output passes all validity thresholds.
	IsValid bool `json:"is_valid"`
	// OverallScore is the weighted combination of sub-scores, in [0,1].
	OverallScore float64 `json:"overall_score"`
	// Scores holds the per-dimension sub-scores, each in [0,1].
	Scores map[VerificationDimension]float64 `json:"scores"`
	// Issues lists every problem found, across all dimensions.
	Issues []VerificationIssue `json:"issues,omitempty"`
}

// CountBySeverity returns the number of issues at the given severity.
func (r VerificationResult) CountBySeverity(s Severity) int {
	n := 0
	for _, issue := range r.Issues {
		if issue.Severity == s {
			n++
		}
	}
	return n
}
