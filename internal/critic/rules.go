package critic

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/originflow/conductor/pkg/models"
)

// harmfulPatterns invalidate output outright when matched.
var harmfulPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bhow to (build|make|construct) (a |an )?(bomb|weapon|explosive)\b`),
	regexp.MustCompile(`(?i)\bbypass(ing)? (safety|security) (checks?|controls?)\b`),
	regexp.MustCompile(`(?i)\bdisable (the )?(safety|protection) (system|interlock)\b`),
}

// piiRules detect personally identifiable information in output.
var piiRules = []struct {
	name string
	re   *regexp.Regexp
}{
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"credit card", regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`)},
	{"email", regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
}

// placeholderPatterns flag unfinished output.
var placeholderPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\blorem ipsum\b`),
	regexp.MustCompile(`(?i)\[(placeholder|insert .+? here|tbd)\]`),
	regexp.MustCompile(`(?i)\bxxx+\b`),
	regexp.MustCompile(`(?i)\bto be (filled|determined|completed)\b`),
}

// recommendationPattern marks output that gives direct advice, which
// must carry a disclaimer to be compliant.
var recommendationPattern = regexp.MustCompile(`(?i)\b(we|i) (recommend|guarantee|certify)\b`)

// disclaimerPattern matches the hedging language a recommendation needs.
var disclaimerPattern = regexp.MustCompile(`(?i)\b(verify|review|consult|subject to|estimate[ds]? only|preliminary)\b`)

// checkSafety flags harmful content. Matches are critical: a single hit
// invalidates the output.
func checkSafety(outputs []stepOutput) []models.VerificationIssue {
	var issues []models.VerificationIssue
	for _, o := range outputs {
		for _, re := range harmfulPatterns {
			if re.MatchString(o.text) {
				issues = append(issues, models.VerificationIssue{
					Dimension:   models.DimensionSafety,
					Severity:    models.SeverityCritical,
					Description: "harmful content pattern matched",
					StepID:      o.stepID,
				})
			}
		}
	}
	return issues
}

// checkQuality flags placeholder text and repeated sentences.
func checkQuality(outputs []stepOutput) []models.VerificationIssue {
	var issues []models.VerificationIssue
	for _, o := range outputs {
		for _, re := range placeholderPatterns {
			if re.MatchString(o.text) {
				issues = append(issues, models.VerificationIssue{
					Dimension:   models.DimensionQuality,
					Severity:    models.SeverityError,
					Description: "placeholder text in output",
					StepID:      o.stepID,
				})
				break
			}
		}
		if sentence := repeatedSentence(o.text); sentence != "" {
			issues = append(issues, models.VerificationIssue{
				Dimension:   models.DimensionQuality,
				Severity:    models.SeverityWarning,
				Description: fmt.Sprintf("sentence repeated verbatim: %.60q", sentence),
				StepID:      o.stepID,
			})
		}
	}
	return issues
}

// checkCompliance flags PII in output and recommendations that lack a
// disclaimer.
func checkCompliance(outputs []stepOutput, combined string) []models.VerificationIssue {
	var issues []models.VerificationIssue
	for _, o := range outputs {
		for _, rule := range piiRules {
			if rule.re.MatchString(o.text) {
				issues = append(issues, models.VerificationIssue{
					Dimension:   models.DimensionCompliance,
					Severity:    models.SeverityError,
					Description: fmt.Sprintf("possible %s in output", rule.name),
					StepID:      o.stepID,
				})
			}
		}
	}
	if recommendationPattern.MatchString(combined) && !disclaimerPattern.MatchString(combined) {
		issues = append(issues, models.VerificationIssue{
			Dimension:   models.DimensionCompliance,
			Severity:    models.SeverityWarning,
			Description: "recommendation given without a disclaimer",
		})
	}
	return issues
}

// checkAccuracy measures keyword overlap between the task description
// and the combined output. Output that shares almost nothing with the
// task is flagged as off-topic.
func checkAccuracy(plan *models.Plan, combined string) []models.VerificationIssue {
	description := descriptionOf(plan)
	if description == "" || combined == "" {
		return nil
	}

	keywords := significantWords(description)
	if len(keywords) == 0 {
		return nil
	}
	outputWords := make(map[string]bool)
	for _, w := range significantWords(combined) {
		outputWords[w] = true
	}

	matched := 0
	for _, w := range keywords {
		if outputWords[w] {
			matched++
		}
	}
	if float64(matched)/float64(len(keywords)) < 0.2 {
		return []models.VerificationIssue{{
			Dimension:   models.DimensionAccuracy,
			Severity:    models.SeverityError,
			Description: "output does not address the task description",
		}}
	}
	return nil
}

// checkConsistency flags steps that report the same output key with
// conflicting values.
func checkConsistency(results []models.StepResult) []models.VerificationIssue {
	seen := make(map[string]any)
	seenStep := make(map[string]string)
	var issues []models.VerificationIssue
	for _, r := range results {
		for k, v := range r.Outputs {
			prev, ok := seen[k]
			if !ok {
				seen[k] = v
				seenStep[k] = r.StepID
				continue
			}
			if fmt.Sprintf("%v", prev) != fmt.Sprintf("%v", v) {
				issues = append(issues, models.VerificationIssue{
					Dimension: models.DimensionConsistency,
					Severity:  models.SeverityWarning,
					Description: fmt.Sprintf("steps %s and %s disagree on %q",
						seenStep[k], r.StepID, k),
					StepID: r.StepID,
				})
			}
		}
	}
	return issues
}

// repeatedSentence returns a sentence that appears more than once, or "".
func repeatedSentence(text string) string {
	seen := make(map[string]bool)
	for _, raw := range strings.FieldsFunc(text, func(r rune) bool { return r == '.' || r == '!' || r == '?' }) {
		sentence := strings.TrimSpace(strings.ToLower(raw))
		if len(sentence) < 20 {
			continue
		}
		if seen[sentence] {
			return sentence
		}
		seen[sentence] = true
	}
	return ""
}

// significantWords returns lowercase words of at least four characters.
func significantWords(text string) []string {
	var words []string
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?()[]{}\"'")
		if len(w) >= 4 {
			words = append(words, w)
		}
	}
	return words
}

// descriptionOf extracts the task description a plan was built from.
func descriptionOf(plan *models.Plan) string {
	if plan == nil {
		return ""
	}
	for _, step := range plan.Steps {
		if d, ok := step.Inputs["description"].(string); ok && d != "" {
			return d
		}
		if q, ok := step.Inputs["query"].(string); ok && q != "" {
			return q
		}
	}
	return ""
}
