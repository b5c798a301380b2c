package registry

import (
	"fmt"

	"github.com/originflow/conductor/pkg/models"
)

// ValidateInputs checks the given inputs against a declared field schema.
// Required fields must be present, and present fields must match their
// declared type. Fields not covered by the schema pass through untouched.
func ValidateInputs(schema []models.FieldSpec, inputs map[string]any) error {
	for _, field := range schema {
		value, present := inputs[field.Name]
		if !present {
			if field.Required {
				return fmt.Errorf("%w: missing required field %q", ErrSchemaViolation, field.Name)
			}
			continue
		}
		if !matchesType(field.Type, value) {
			return fmt.Errorf("%w: field %q expects %s, got %T",
				ErrSchemaViolation, field.Name, field.Type, value)
		}
	}
	return nil
}

// matchesType reports whether a value satisfies a declared schema type.
func matchesType(declared string, value any) bool {
	if value == nil {
		return true
	}
	switch declared {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		switch value.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case "bool":
		_, ok := value.(bool)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "array":
		switch value.(type) {
		case []any, []string, []float64:
			return true
		}
		return false
	default:
		// Unknown declared types are not enforced.
		return true
	}
}
