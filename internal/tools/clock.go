package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/forgeline/forgeline/internal/tool"
	"github.com/forgeline/forgeline/pkg/models"
)

// clock reports the current time. Deterministic enough to cache briefly,
// which also makes it the smallest useful demonstration of CacheTTL.
type clock struct {
	now func() time.Time
}

// NewClock creates the built-in clock tool.
func NewClock() tool.Tool {
	return &clock{now: time.Now}
}

func (c *clock) Definition() models.ToolDefinition {
	return models.ToolDefinition{
		Name:        "clock",
		Category:    models.CategoryCustom,
		Description: "Returns the current time, optionally in a named IANA timezone.",
		Parameters: []models.ToolParameter{
			{Name: "timezone", Type: "string", Default: "UTC", Description: "IANA timezone name"},
			{Name: "format", Type: "string", Default: time.RFC3339, Description: "Go time layout string"},
		},
		Timeout: 5 * time.Second,
	}
}

func (c *clock) Execute(ctx context.Context, args map[string]any, execCtx *models.ExecutionContext) (*models.ExecutionResult, error) {
	tz, _ := args["timezone"].(string)
	format, _ := args["format"].(string)

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return &models.ExecutionResult{
			Success:      false,
			ErrorCode:    models.ErrCodeExecutionFailed,
			ErrorMessage: fmt.Sprintf("unknown timezone %q", tz),
		}, nil
	}

	return &models.ExecutionResult{
		Success: true,
		Output: map[string]any{
			"time":     c.now().In(loc).Format(format),
			"timezone": loc.String(),
		},
	}, nil
}
