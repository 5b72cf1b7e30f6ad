// Package cost tracks running per-task cost, token and inference-call
// totals, and answers budget questions for pre-flight guards.
//
// In-memory accounting is the source of truth and always succeeds; durable
// recording through an optional Recorder is best-effort and runs off the
// calling goroutine, so a slow or failing persistence layer can never block
// or fail a tool call.
package cost

import (
	"context"
	"errors"
	"sync"

	"github.com/forgeline/forgeline/pkg/models"
	"github.com/rs/zerolog/log"
)

// ErrBudgetExceeded is raised by the executor when a task's configured
// budget is already exhausted before a call begins. It is a governance
// veto, not an ordinary tool failure.
var ErrBudgetExceeded = errors.New("cost budget exceeded")

// Recorder persists individual cost records. Implemented by the store.
type Recorder interface {
	RecordCost(ctx context.Context, rec models.CostRecord) error
}

// Usage is the running total for one task.
type Usage struct {
	Cost           float64 `json:"cost"`
	Tokens         int     `json:"tokens"`
	InferenceCalls int     `json:"inference_calls"`
}

// Tracker maintains per-task usage counters. Safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	tasks    map[string]*Usage
	recorder Recorder // optional
}

// NewTracker creates a tracker. recorder may be nil for purely in-memory
// accounting.
func NewTracker(recorder Recorder) *Tracker {
	return &Tracker{
		tasks:    make(map[string]*Usage),
		recorder: recorder,
	}
}

// RecordCost folds a cost record into the task's running totals and, when
// a recorder is configured, persists it best-effort in the background.
func (t *Tracker) RecordCost(ctx context.Context, rec models.CostRecord) {
	t.mu.Lock()
	u, ok := t.tasks[rec.TaskID]
	if !ok {
		u = &Usage{}
		t.tasks[rec.TaskID] = u
	}
	u.Cost += rec.Usage.EstimatedCost
	u.Tokens += rec.Usage.TotalTokens
	if rec.InferenceCall {
		u.InferenceCalls++
	}
	t.mu.Unlock()

	if t.recorder == nil {
		return
	}
	// Detach from the caller's cancellation: the tool call is already done
	// and durable recording should still be attempted.
	bg := context.WithoutCancel(ctx)
	go func() {
		if err := t.recorder.RecordCost(bg, rec); err != nil {
			log.Warn().
				Err(err).
				Str("task", rec.TaskID).
				Str("tool", rec.ToolName).
				Msg("cost record persistence failed")
		}
	}()
}

// UsageFor returns the running totals for a task. Unknown tasks report zero.
func (t *Tracker) UsageFor(taskID string) Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	if u, ok := t.tasks[taskID]; ok {
		return *u
	}
	return Usage{}
}

// CheckBudget reports whether adding additionalCost, additionalTokens and
// one more inference call would still fit within every configured ceiling
// of the budget. It never mutates state; tools use it as a pre-flight
// guard before expensive calls.
func (t *Tracker) CheckBudget(taskID string, budget models.Budget, additionalCost float64, additionalTokens int) bool {
	u := t.UsageFor(taskID)

	if budget.MaxCost > 0 && u.Cost+additionalCost > budget.MaxCost {
		return false
	}
	if budget.MaxTokens > 0 && u.Tokens+additionalTokens > budget.MaxTokens {
		return false
	}
	if budget.MaxInferenceCalls > 0 && u.InferenceCalls+1 > budget.MaxInferenceCalls {
		return false
	}
	return true
}

// RemainingBudget returns the budget's ceilings minus current usage.
// Values can go to or below zero; callers must treat non-positive
// remaining budget as exhausted.
func (t *Tracker) RemainingBudget(taskID string, budget models.Budget) models.Budget {
	u := t.UsageFor(taskID)
	remaining := models.Budget{}
	if budget.MaxCost > 0 {
		remaining.MaxCost = budget.MaxCost - u.Cost
	}
	if budget.MaxTokens > 0 {
		remaining.MaxTokens = budget.MaxTokens - u.Tokens
	}
	if budget.MaxInferenceCalls > 0 {
		remaining.MaxInferenceCalls = budget.MaxInferenceCalls - u.InferenceCalls
	}
	return remaining
}

// Reset clears the counters for a task, typically after its chain is
// handed to persistence.
func (t *Tracker) Reset(taskID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tasks, taskID)
}
