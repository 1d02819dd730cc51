package tools

import (
	"context"

	"github.com/nextlevelbuilder/toolgate/internal/chat"
)

// Tool is the interface all tools must implement.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// ToDefinition converts a Tool to the provider-API tool definition.
func ToDefinition(t Tool) chat.ToolDefinition {
	return chat.ToolDefinition{
		Type: "function",
		Function: chat.ToolFunctionSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		},
	}
}
