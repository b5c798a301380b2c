package policy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/originflow/conductor/pkg/models"
)

// bannedTerms are rejected outright wherever they appear in a task's
// description or context.
var bannedTerms = []string{
	"bypass safety",
	"disable verification",
	"ignore previous instructions",
	"exfiltrate",
}

// piiPatterns detect personally identifiable information. Matches are
// escalated rather than denied so a human can judge false positives.
var piiPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"credit_card", regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`)},
	{"email", regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
}

// contentFinding is one content-policy hit with its location.
type contentFinding struct {
	path     string
	kind     string
	severity models.Severity
	detail   string
}

// checkContent scans a task's description and arbitrarily nested context
// for banned terms and PII.
func checkContent(description string, context map[string]any) []contentFinding {
	var findings []contentFinding
	findings = append(findings, scanText("description", description)...)
	findings = append(findings, scanValue("context", context)...)
	return findings
}

// scanValue walks nested maps, slices, and strings.
func scanValue(path string, v any) []contentFinding {
	switch val := v.(type) {
	case string:
		return scanText(path, val)
	case map[string]any:
		var findings []contentFinding
		for k, child := range val {
			findings = append(findings, scanValue(path+"."+k, child)...)
		}
		return findings
	case []any:
		var findings []contentFinding
		for i, child := range val {
			findings = append(findings, scanValue(fmt.Sprintf("%s[%d]", path, i), child)...)
		}
		return findings
	default:
		return nil
	}
}

// scanText checks one string for banned terms and PII patterns.
func scanText(path, text string) []contentFinding {
	var findings []contentFinding
	lower := strings.ToLower(text)
	for _, term := range bannedTerms {
		if strings.Contains(lower, term) {
			findings = append(findings, contentFinding{
				path:     path,
				kind:     "banned_term",
				severity: models.SeverityCritical,
				detail:   fmt.Sprintf("banned term %q at %s", term, path),
			})
		}
	}
	for _, p := range piiPatterns {
		if p.re.MatchString(text) {
			findings = append(findings, contentFinding{
				path:     path,
				kind:     p.name,
				severity: models.SeverityHigh,
				detail:   fmt.Sprintf("possible %s at %s", p.name, path),
			})
		}
	}
	return findings
}
