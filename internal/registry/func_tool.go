package registry

import (
	"context"

	"github.com/originflow/conductor/pkg/models"
)

// FuncTool adapts a plain function into a Tool. It is the common way for
// hosts to register capabilities without defining a new type.
type FuncTool struct {
	// Meta is the published contract for this tool.
	Meta models.ToolMetadata
	// Fn is invoked on Execute.
	Fn func(ctx context.Context, inputs map[string]any) (models.ToolResult, error)
}

// Metadata returns the tool's published contract.
func (t *FuncTool) Metadata() models.ToolMetadata {
	return t.Meta
}

// Execute runs the wrapped function.
func (t *FuncTool) Execute(ctx context.Context, inputs map[string]any) (models.ToolResult, error) {
	return t.Fn(ctx, inputs)
}
