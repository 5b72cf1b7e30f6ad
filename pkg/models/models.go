// Package models defines the shared data model for the Forgeline execution core.
//
// Everything a caller needs to describe a tool, hand work to the executor,
// and interpret what came back lives here: tool definitions, execution
// contexts, execution results, budgets, and cost records. The reasoning
// chain itself (steps, metrics, lifecycle) lives in internal/chain because
// it carries behavior, not just shape.
package models

import (
	"time"

	"github.com/google/uuid"
)

// ── Tool Definition ─────────────────────────────────────────

// ToolCategory classifies a tool for rate limiting and inspection.
type ToolCategory string

const (
	CategoryModelInference ToolCategory = "model_inference"
	CategoryExternalAPI    ToolCategory = "external_api"
	CategoryInternalSkill  ToolCategory = "internal_skill"
	CategorySubAgent       ToolCategory = "sub_agent_delegation"
	CategoryStorageQuery   ToolCategory = "storage_query"
	CategoryFilesystem     ToolCategory = "filesystem"
	CategoryCustom         ToolCategory = "custom"
)

// ToolParameter declares one argument a tool accepts.
type ToolParameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "string", "number", "boolean", "object", "array"
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
}

// RetryPolicy controls how the executor retries a failing tool.
//
// MaxRetries is the number of retries after the first attempt, so a tool
// with MaxRetries=2 is attempted at most three times. An empty
// RetryableErrors list means every failure is considered retryable.
type RetryPolicy struct {
	MaxRetries        int           `json:"max_retries"`
	Backoff           time.Duration `json:"backoff"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
	RetryableErrors   []string      `json:"retryable_errors,omitempty"`
}

// DefaultRetryPolicy returns the policy applied to tools that don't declare one.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        2,
		Backoff:           500 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

// Visibility controls how a reasoning step is exposed to end users.
type Visibility string

const (
	VisibilityFull    Visibility = "full"
	VisibilitySummary Visibility = "summary"
	VisibilityHidden  Visibility = "hidden"
)

// ToolDefinition is the immutable descriptor of a registered tool.
// It is never mutated after registration; replacing a tool means
// re-registering under the same name.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Category    ToolCategory    `json:"category"`
	Description string          `json:"description,omitempty"`
	Parameters  []ToolParameter `json:"parameters,omitempty"`

	// Timeout bounds a single execution attempt. Zero means DefaultTimeout.
	Timeout time.Duration `json:"timeout"`
	Retry   RetryPolicy   `json:"retry"`

	// CacheTTL enables result caching when positive. Identical calls
	// within the TTL are served from cache without touching the tool.
	CacheTTL time.Duration `json:"cache_ttl,omitempty"`

	// DefaultVisibility is applied to chain steps produced for this tool.
	DefaultVisibility Visibility `json:"default_visibility,omitempty"`

	// SummaryTemplate renders the human-readable line on successful
	// tool-result steps. Placeholders like {url} are replaced with the
	// call's argument values.
	SummaryTemplate string `json:"summary_template,omitempty"`

	// RequiredRoles restricts who may invoke the tool. Enforcement is the
	// embedding platform's concern; the core only carries the declaration.
	RequiredRoles []string `json:"required_roles,omitempty"`
}

// DefaultTimeout is applied to tools that don't declare one.
const DefaultTimeout = 30 * time.Second

// EffectiveTimeout returns the declared timeout or DefaultTimeout.
func (d ToolDefinition) EffectiveTimeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return DefaultTimeout
}

// EffectiveVisibility returns the declared visibility or VisibilityFull.
func (d ToolDefinition) EffectiveVisibility() Visibility {
	if d.DefaultVisibility != "" {
		return d.DefaultVisibility
	}
	return VisibilityFull
}

// ── Execution Context ───────────────────────────────────────

// ExecutionContext is the per-call value object handed to the executor and
// through to the tool. Created fresh for every call; never shared.
type ExecutionContext struct {
	// CorrelationID links the tool-call step to its tool-result step.
	// Assigned at construction; unique per call.
	CorrelationID string `json:"correlation_id"`

	TaskID   string `json:"task_id"`
	AgentID  string `json:"agent_id"`
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id,omitempty"`

	// ChainID names the reasoning chain this call belongs to.
	ChainID string `json:"chain_id,omitempty"`

	// ParentStepID points at the step that spawned this call, for
	// nested and sub-agent work.
	ParentStepID string `json:"parent_step_id,omitempty"`

	// Budget, when set, lets the executor veto calls for tasks whose
	// cost/token/call budget is already exhausted.
	Budget *Budget `json:"budget,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewExecutionContext builds a context with a fresh correlation id.
func NewExecutionContext(taskID, agentID, tenantID string) *ExecutionContext {
	return &ExecutionContext{
		CorrelationID: uuid.New().String(),
		TaskID:        taskID,
		AgentID:       agentID,
		TenantID:      tenantID,
		CreatedAt:     time.Now().UTC(),
	}
}

// Child derives a context for a delegated sub-call. The child keeps the
// task/agent/tenant identity and budget but gets its own correlation id.
func (c *ExecutionContext) Child(parentStepID string) *ExecutionContext {
	child := NewExecutionContext(c.TaskID, c.AgentID, c.TenantID)
	child.UserID = c.UserID
	child.ParentStepID = parentStepID
	child.Budget = c.Budget
	return child
}

// ── Execution Result ────────────────────────────────────────

// Error codes surfaced in ExecutionResult. These are returned failures the
// calling reasoning loop is expected to branch on, never raised errors.
const (
	ErrCodeValidation      = "validation_error"
	ErrCodeExecutionFailed = "execution_failed"
	ErrCodeTimeout         = "timeout"
)

// TokenUsage carries token counts and estimated cost for inference-like tools.
type TokenUsage struct {
	InputTokens   int     `json:"input_tokens,omitempty"`
	OutputTokens  int     `json:"output_tokens,omitempty"`
	TotalTokens   int     `json:"total_tokens,omitempty"`
	EstimatedCost float64 `json:"estimated_cost,omitempty"`
}

// Add accumulates another usage into this one.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
	u.EstimatedCost += other.EstimatedCost
}

// ExecutionResult is the outcome of one attempt-sequence for a tool call.
// Immutable once returned by the executor.
type ExecutionResult struct {
	Success      bool          `json:"success"`
	Output       any           `json:"output,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	ErrorCode    string        `json:"error_code,omitempty"`
	Duration     time.Duration `json:"duration"`
	RetriesUsed  int           `json:"retries_used"`
	CacheHit     bool          `json:"cache_hit,omitempty"`
	Usage        TokenUsage    `json:"usage,omitempty"`
}

// ── Budgets & Cost Records ──────────────────────────────────

// Budget is a set of ceilings for one task. A zero field means that
// dimension is unbounded. Callers must treat non-positive remaining
// values as exhausted.
type Budget struct {
	MaxCost           float64 `json:"max_cost,omitempty"`
	MaxTokens         int     `json:"max_tokens,omitempty"`
	MaxInferenceCalls int     `json:"max_inference_calls,omitempty"`
}

// CostRecord is one durable cost entry produced after a tool call that
// reported non-zero cost.
type CostRecord struct {
	ID            string     `json:"id"`
	TaskID        string     `json:"task_id"`
	TenantID      string     `json:"tenant_id"`
	AgentID       string     `json:"agent_id,omitempty"`
	ToolName      string     `json:"tool_name"`
	Usage         TokenUsage `json:"usage"`
	InferenceCall bool       `json:"inference_call"`
	CreatedAt     time.Time  `json:"created_at"`
}
