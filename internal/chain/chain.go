// Package chain implements the reasoning chain: the ordered, append-only
// record of thinking, tool-call, tool-result and synthesis events produced
// while an agent works on one task.
//
// A chain is owned by the reasoning loop that created it. All producers
// (the loop itself for thinking/synthesis steps, the executor for
// tool-call/tool-result steps) mutate it through AddStep only, which keeps
// step numbering and the aggregate metrics consistent. Reads are safe
// concurrently with appends, so a streaming bridge can walk the chain while
// the task is still running.
package chain

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/forgeline/forgeline/pkg/models"
	"github.com/google/uuid"
)

// Status is the lifecycle state of a chain.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusThinking     Status = "thinking"
	StatusToolCalling  Status = "tool_calling"
	StatusWaiting      Status = "waiting"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// validTransitions is the forward-only state machine. A chain never leaves
// a terminal state.
var validTransitions = map[Status][]Status{
	StatusInitializing: {StatusThinking, StatusToolCalling, StatusFailed, StatusCancelled},
	StatusThinking:     {StatusToolCalling, StatusWaiting, StatusCompleted, StatusFailed, StatusCancelled},
	StatusToolCalling:  {StatusThinking, StatusWaiting, StatusCompleted, StatusFailed, StatusCancelled},
	StatusWaiting:      {StatusThinking, StatusToolCalling, StatusCompleted, StatusFailed, StatusCancelled},
}

// ErrTerminalChain is returned when mutating a completed/failed/cancelled chain.
var ErrTerminalChain = errors.New("chain is in a terminal state")

// ErrInvalidTransition is returned for a status move the state machine forbids.
var ErrInvalidTransition = errors.New("invalid chain status transition")

// Metrics are the incrementally maintained aggregates over a chain's steps.
// They are always derivable from the step list; see ComputeMetrics.
type Metrics struct {
	TotalSteps     int           `json:"total_steps"`
	ToolCalls      int           `json:"tool_calls"`
	InferenceCalls int           `json:"inference_calls"`
	TotalTokens    int           `json:"total_tokens"`
	TotalCost      float64       `json:"total_cost"`
	TotalDuration  time.Duration `json:"total_duration"`
}

// apply folds one step into the metrics. Shared by AddStep and
// ComputeMetrics so the incremental and recomputed values can't drift.
func (m *Metrics) apply(s Step) {
	m.TotalSteps++
	switch s.Kind {
	case StepToolCall:
		m.ToolCalls++
		if s.ToolCall != nil && s.ToolCall.Category == models.CategoryModelInference {
			m.InferenceCalls++
		}
	case StepToolResult:
		if s.ToolResult != nil {
			m.TotalTokens += s.ToolResult.Usage.TotalTokens
			m.TotalCost += s.ToolResult.Usage.EstimatedCost
			m.TotalDuration += s.ToolResult.Duration
		}
	}
}

// ComputeMetrics recomputes metrics from scratch over a step list.
func ComputeMetrics(steps []Step) Metrics {
	var m Metrics
	for _, s := range steps {
		m.apply(s)
	}
	return m
}

// Chain is the reasoning record for one task.
//
// Appends must come from a single logical writer (the task's reasoning
// loop); reads may happen concurrently from any goroutine.
type Chain struct {
	mu sync.RWMutex

	id       string
	taskID   string
	agentID  string
	tenantID string

	status      Status
	startedAt   time.Time
	completedAt time.Time

	steps       []Step
	metrics     Metrics
	childChains []string
}

// New creates a chain in the initializing state.
func New(taskID, agentID, tenantID string) *Chain {
	return &Chain{
		id:        uuid.New().String(),
		taskID:    taskID,
		agentID:   agentID,
		tenantID:  tenantID,
		status:    StatusInitializing,
		startedAt: time.Now().UTC(),
	}
}

func (c *Chain) ID() string       { return c.id }
func (c *Chain) TaskID() string   { return c.taskID }
func (c *Chain) AgentID() string  { return c.agentID }
func (c *Chain) TenantID() string { return c.tenantID }

// Status returns the current lifecycle state.
func (c *Chain) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Transition moves the chain to the next lifecycle state. Moves not in the
// state machine, including any move out of a terminal state, are rejected.
func (c *Chain) Transition(next Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status.Terminal() {
		return fmt.Errorf("%w: %s → %s", ErrTerminalChain, c.status, next)
	}
	for _, allowed := range validTransitions[c.status] {
		if next == allowed {
			c.status = next
			if next.Terminal() {
				c.completedAt = time.Now().UTC()
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, c.status, next)
}

// AddStep is the single mutation entrypoint for the step log. It assigns
// the step's number (current length + 1), stamps id/timestamp if unset,
// appends it, and folds it into the metrics in one operation. Callers must
// never pre-assign numbers.
func (c *Chain) AddStep(s Step) (Step, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status.Terminal() {
		return Step{}, fmt.Errorf("add step: %w", ErrTerminalChain)
	}

	s.Number = len(c.steps) + 1
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now().UTC()
	}
	if s.Visibility.Level == "" {
		s.Visibility.Level = models.VisibilityFull
	}

	c.steps = append(c.steps, s)
	c.metrics.apply(s)
	return s, nil
}

// Steps returns a copy of the step list.
func (c *Chain) Steps() []Step {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Step, len(c.steps))
	copy(out, c.steps)
	return out
}

// Len returns the current number of steps.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.steps)
}

// Metrics returns the current aggregates.
func (c *Chain) Metrics() Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.metrics
}

// StepByCorrelationID returns the tool-call step carrying the given
// correlation id. A linear scan is deliberate: chains are bounded to
// hundreds of steps in practice.
func (c *Chain) StepByCorrelationID(correlationID string) (Step, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.steps {
		if s.Kind == StepToolCall && s.CorrelationID == correlationID {
			return s, true
		}
	}
	return Step{}, false
}

// AddChild links a delegated sub-agent chain to this one.
func (c *Chain) AddChild(chainID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.childChains = append(c.childChains, chainID)
}

// ChildChains returns a copy of the linked child chain ids.
func (c *Chain) ChildChains() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.childChains))
	copy(out, c.childChains)
	return out
}

// ── Snapshot ────────────────────────────────────────────────

// Snapshot is the JSON-serializable view of a chain handed to persistence
// and the HTTP API. It is a point-in-time copy; mutating it does not touch
// the live chain.
type Snapshot struct {
	ID          string    `json:"id"`
	TaskID      string    `json:"task_id"`
	AgentID     string    `json:"agent_id"`
	TenantID    string    `json:"tenant_id"`
	Status      Status    `json:"status"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	Steps       []Step    `json:"steps"`
	Metrics     Metrics   `json:"metrics"`
	ChildChains []string  `json:"child_chains,omitempty"`
}

// Snapshot captures the chain's current state under the read lock.
func (c *Chain) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	steps := make([]Step, len(c.steps))
	copy(steps, c.steps)
	children := make([]string, len(c.childChains))
	copy(children, c.childChains)

	return Snapshot{
		ID:          c.id,
		TaskID:      c.taskID,
		AgentID:     c.agentID,
		TenantID:    c.tenantID,
		Status:      c.status,
		StartedAt:   c.startedAt,
		CompletedAt: c.completedAt,
		Steps:       steps,
		Metrics:     c.metrics,
		ChildChains: children,
	}
}
