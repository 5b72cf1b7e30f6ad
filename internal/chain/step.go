package chain

import (
	"time"

	"github.com/forgeline/forgeline/pkg/models"
)

// StepKind discriminates the four step payloads. Exactly one payload field
// is populated per step.
type StepKind string

const (
	StepThinking   StepKind = "thinking"
	StepToolCall   StepKind = "tool_call"
	StepToolResult StepKind = "tool_result"
	StepSynthesis  StepKind = "synthesis"
)

// ToolCallPayload records what was about to run when a tool-call step was
// appended. It is written before execution begins so a crash mid-call still
// leaves an auditable record of the attempt.
type ToolCallPayload struct {
	ToolName  string         `json:"tool_name"`
	Category  models.ToolCategory `json:"category,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolResultPayload records the outcome of a tool call.
type ToolResultPayload struct {
	ToolName     string            `json:"tool_name"`
	Success      bool              `json:"success"`
	Output       any               `json:"output,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	ErrorCode    string            `json:"error_code,omitempty"`
	Duration     time.Duration     `json:"duration"`
	RetriesUsed  int               `json:"retries_used"`
	CacheHit     bool              `json:"cache_hit,omitempty"`
	Usage        models.TokenUsage `json:"usage,omitempty"`
}

// StepVisibility describes how a step may be shown to end users.
type StepVisibility struct {
	Level models.Visibility `json:"level"`
	// Summary is the human-readable one-liner shown when Level is "summary".
	Summary string `json:"summary,omitempty"`
}

// Step is one entry in a reasoning chain.
//
// Number is assigned by Chain.AddStep at append time and is never reused.
// A tool-result step is linked to its tool-call step by CorrelationID, not
// by step number: a reasoning loop may run several tool calls concurrently
// and interleave their steps.
type Step struct {
	ID            string         `json:"id"`
	Number        int            `json:"number"`
	Kind          StepKind       `json:"kind"`
	Timestamp     time.Time      `json:"timestamp"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	ParentStepID  string         `json:"parent_step_id,omitempty"`
	Visibility    StepVisibility `json:"visibility"`

	// Payloads — exactly one is set, matching Kind.
	Thought    string             `json:"thought,omitempty"`
	ToolCall   *ToolCallPayload   `json:"tool_call,omitempty"`
	ToolResult *ToolResultPayload `json:"tool_result,omitempty"`
	Synthesis  string             `json:"synthesis,omitempty"`
}

// NewThinkingStep builds an unnumbered thinking step ready for AddStep.
func NewThinkingStep(thought string) Step {
	return Step{
		Kind:       StepThinking,
		Thought:    thought,
		Visibility: StepVisibility{Level: models.VisibilityFull},
	}
}

// NewSynthesisStep builds an unnumbered synthesis step ready for AddStep.
func NewSynthesisStep(content string) Step {
	return Step{
		Kind:       StepSynthesis,
		Synthesis:  content,
		Visibility: StepVisibility{Level: models.VisibilityFull},
	}
}
