package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/forgeline/forgeline/internal/chain"
	"github.com/forgeline/forgeline/internal/tool"
	"github.com/forgeline/forgeline/pkg/models"
)

// SubAgentRunner executes a delegated task and returns its synthesized
// answer. The default runner just records the hand-off; platforms embed
// their own agent loop here.
type SubAgentRunner func(ctx context.Context, task string, execCtx *models.ExecutionContext, child *chain.Chain) (string, error)

// delegate hands a sub-task to another agent. Each delegation gets its own
// reasoning chain, linked as a child of the calling chain so the full tree
// of work stays navigable.
type delegate struct {
	index  *chain.Index
	runner SubAgentRunner
}

// NewDelegate creates the built-in delegation tool with the default runner.
func NewDelegate(index *chain.Index) tool.Tool {
	return NewDelegateWithRunner(index, nil)
}

// NewDelegateWithRunner creates a delegation tool backed by a custom runner.
func NewDelegateWithRunner(index *chain.Index, runner SubAgentRunner) tool.Tool {
	if runner == nil {
		runner = func(ctx context.Context, task string, execCtx *models.ExecutionContext, child *chain.Chain) (string, error) {
			return fmt.Sprintf("delegated task accepted: %s", task), nil
		}
	}
	return &delegate{index: index, runner: runner}
}

func (d *delegate) Definition() models.ToolDefinition {
	return models.ToolDefinition{
		Name:        "delegate",
		Category:    models.CategorySubAgent,
		Description: "Hands a sub-task to another agent on its own reasoning chain.",
		Parameters: []models.ToolParameter{
			{Name: "task", Type: "string", Required: true, Description: "What the sub-agent should do"},
			{Name: "agent", Type: "string", Default: "generalist", Description: "Target agent id"},
		},
		Timeout:           5 * time.Minute,
		DefaultVisibility: models.VisibilitySummary,
		SummaryTemplate:   "Delegated to {agent}: {task}",
	}
}

func (d *delegate) Execute(ctx context.Context, args map[string]any, execCtx *models.ExecutionContext) (*models.ExecutionResult, error) {
	task, _ := args["task"].(string)
	agent, _ := args["agent"].(string)

	child := chain.New(execCtx.TaskID, agent, execCtx.TenantID)
	d.index.Add(child)

	if parent, ok := d.index.Get(execCtx.ChainID); ok {
		parent.AddChild(child.ID())
	}

	if err := child.Transition(chain.StatusThinking); err != nil {
		return nil, fmt.Errorf("start child chain: %w", err)
	}
	child.AddStep(chain.NewThinkingStep(fmt.Sprintf("Delegated task: %s", task)))

	childCtx := execCtx.Child(execCtx.ParentStepID)
	childCtx.ChainID = child.ID()
	childCtx.AgentID = agent

	answer, err := d.runner(ctx, task, childCtx, child)
	if err != nil {
		child.Transition(chain.StatusFailed)
		return &models.ExecutionResult{
			Success:      false,
			ErrorCode:    models.ErrCodeExecutionFailed,
			ErrorMessage: err.Error(),
			Output:       map[string]any{"child_chain_id": child.ID()},
		}, nil
	}

	child.AddStep(chain.NewSynthesisStep(answer))
	child.Transition(chain.StatusCompleted)

	return &models.ExecutionResult{
		Success: true,
		Output: map[string]any{
			"answer":         answer,
			"agent":          agent,
			"child_chain_id": child.ID(),
		},
	}, nil
}
