package policy

// roleScopes maps a role to the permission scopes it grants. A role with
// the wildcard scope covers everything.
var roleScopes = map[string][]string{
	"admin":    {"*"},
	"engineer": {"analysis:read", "analysis:run", "design:read", "design:validate", "simulation:run"},
	"analyst":  {"analysis:read", "analysis:run", "design:read"},
	"viewer":   {"analysis:read", "design:read"},
}

// DefaultRole is assumed when a task carries no role in its context.
const DefaultRole = "engineer"

// missingScopes returns the required scopes the role does not grant.
func missingScopes(role string, required []string) []string {
	granted, ok := roleScopes[role]
	if !ok {
		// Unknown roles grant nothing; every requirement is missing.
		return append([]string(nil), required...)
	}
	grantedSet := make(map[string]bool, len(granted))
	for _, s := range granted {
		grantedSet[s] = true
	}
	if grantedSet["*"] {
		return nil
	}

	var missing []string
	for _, s := range required {
		if !grantedSet[s] {
			missing = append(missing, s)
		}
	}
	return missing
}
