package tools

import (
	"context"
	"time"

	"github.com/forgeline/forgeline/internal/tool"
	"github.com/forgeline/forgeline/pkg/models"
)

// NewEcho creates the built-in echo skill. It returns its input verbatim,
// which makes it the canonical smoke-test tool for wiring checks.
func NewEcho() tool.Tool {
	return &tool.Func{
		Def: models.ToolDefinition{
			Name:        "echo",
			Category:    models.CategoryInternalSkill,
			Description: "Returns the given message unchanged.",
			Parameters: []models.ToolParameter{
				{Name: "message", Type: "string", Required: true},
			},
			Timeout:         5 * time.Second,
			SummaryTemplate: "Echoed: {message}",
		},
		Fn: func(ctx context.Context, args map[string]any, execCtx *models.ExecutionContext) (*models.ExecutionResult, error) {
			return &models.ExecutionResult{
				Success: true,
				Output:  args["message"],
			}, nil
		},
	}
}
