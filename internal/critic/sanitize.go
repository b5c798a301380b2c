package critic

// Sanitize redacts PII and removes harmful content from a text. It is an
// explicit operation: verification reports problems, it never rewrites
// output behind the caller's back.
func Sanitize(text string) string {
	for _, rule := range piiRules {
		switch rule.name {
		case "ssn":
			text = rule.re.ReplaceAllString(text, "[REDACTED-SSN]")
		case "credit card":
			text = rule.re.ReplaceAllString(text, "[REDACTED-CARD]")
		case "email":
			text = rule.re.ReplaceAllString(text, "[REDACTED-EMAIL]")
		}
	}
	for _, re := range harmfulPatterns {
		text = re.ReplaceAllString(text, "[REMOVED]")
	}
	return text
}
