package cost_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/forgeline/forgeline/internal/cost"
	"github.com/forgeline/forgeline/pkg/models"
)

func record(taskID string, c float64, tokens int, inference bool) models.CostRecord {
	return models.CostRecord{
		ID:            "rec",
		TaskID:        taskID,
		TenantID:      "acme",
		ToolName:      "llm",
		Usage:         models.TokenUsage{TotalTokens: tokens, EstimatedCost: c},
		InferenceCall: inference,
		CreatedAt:     time.Now().UTC(),
	}
}

// recorderStub captures or rejects persistence calls.
type recorderStub struct {
	err   error
	calls chan models.CostRecord
}

func (r *recorderStub) RecordCost(ctx context.Context, rec models.CostRecord) error {
	if r.calls != nil {
		r.calls <- rec
	}
	return r.err
}

// ─── Running totals ──────────────────────────────────────────

func TestRecordCost_AccumulatesPerTask(t *testing.T) {
	tr := cost.NewTracker(nil)
	ctx := context.Background()

	tr.RecordCost(ctx, record("t1", 0.10, 100, true))
	tr.RecordCost(ctx, record("t1", 0.25, 300, true))
	tr.RecordCost(ctx, record("t2", 0.99, 10, false))

	u := tr.UsageFor("t1")
	if u.Cost != 0.35 {
		t.Errorf("t1 Cost = %v, want 0.35", u.Cost)
	}
	if u.Tokens != 400 {
		t.Errorf("t1 Tokens = %d, want 400", u.Tokens)
	}
	if u.InferenceCalls != 2 {
		t.Errorf("t1 InferenceCalls = %d, want 2", u.InferenceCalls)
	}

	u2 := tr.UsageFor("t2")
	if u2.InferenceCalls != 0 {
		t.Errorf("t2 InferenceCalls = %d, want 0", u2.InferenceCalls)
	}
	if got := tr.UsageFor("unknown"); got != (cost.Usage{}) {
		t.Errorf("UsageFor(unknown) = %+v, want zero", got)
	}
}

func TestReset(t *testing.T) {
	tr := cost.NewTracker(nil)
	tr.RecordCost(context.Background(), record("t1", 1.0, 100, true))
	tr.Reset("t1")
	if got := tr.UsageFor("t1"); got != (cost.Usage{}) {
		t.Errorf("UsageFor after Reset = %+v, want zero", got)
	}
}

// ─── Budget checks ───────────────────────────────────────────

func TestCheckBudget_CostCeiling(t *testing.T) {
	tr := cost.NewTracker(nil)
	budget := models.Budget{MaxCost: 1.00}

	// Pre-flight: a $1.50 call must be refused against a $1.00 budget,
	// independent of whether anything ran yet.
	if tr.CheckBudget("t1", budget, 1.50, 0) {
		t.Error("CheckBudget($1.50 against $1.00) = true, want false")
	}
	if !tr.CheckBudget("t1", budget, 0.50, 0) {
		t.Error("CheckBudget($0.50 against $1.00) = false, want true")
	}

	// CheckBudget must not mutate state.
	if got := tr.UsageFor("t1"); got != (cost.Usage{}) {
		t.Errorf("UsageFor after CheckBudget = %+v, want zero", got)
	}
}

func TestCheckBudget_TokenAndCallCeilings(t *testing.T) {
	tr := cost.NewTracker(nil)
	ctx := context.Background()
	tr.RecordCost(ctx, record("t1", 0, 900, true))

	if tr.CheckBudget("t1", models.Budget{MaxTokens: 1000}, 0, 200) {
		t.Error("CheckBudget(tokens over ceiling) = true, want false")
	}
	if !tr.CheckBudget("t1", models.Budget{MaxTokens: 1000}, 0, 100) {
		t.Error("CheckBudget(tokens under ceiling) = false, want true")
	}

	if tr.CheckBudget("t1", models.Budget{MaxInferenceCalls: 1}, 0, 0) {
		t.Error("CheckBudget(inference calls at ceiling) = true, want false")
	}
	if !tr.CheckBudget("t1", models.Budget{MaxInferenceCalls: 2}, 0, 0) {
		t.Error("CheckBudget(inference calls under ceiling) = false, want true")
	}
}

func TestCheckBudget_UnboundedDimensions(t *testing.T) {
	tr := cost.NewTracker(nil)
	// A zero budget field means unbounded.
	if !tr.CheckBudget("t1", models.Budget{}, 999, 999999) {
		t.Error("CheckBudget(empty budget) = false, want true")
	}
}

func TestRemainingBudget(t *testing.T) {
	tr := cost.NewTracker(nil)
	ctx := context.Background()
	tr.RecordCost(ctx, record("t1", 0.75, 400, true))

	budget := models.Budget{MaxCost: 1.00, MaxTokens: 1000, MaxInferenceCalls: 3}
	rem := tr.RemainingBudget("t1", budget)

	if rem.MaxCost != 0.25 {
		t.Errorf("remaining MaxCost = %v, want 0.25", rem.MaxCost)
	}
	if rem.MaxTokens != 600 {
		t.Errorf("remaining MaxTokens = %d, want 600", rem.MaxTokens)
	}
	if rem.MaxInferenceCalls != 2 {
		t.Errorf("remaining MaxInferenceCalls = %d, want 2", rem.MaxInferenceCalls)
	}
}

func TestRemainingBudget_CanReachZeroOrBelow(t *testing.T) {
	tr := cost.NewTracker(nil)
	tr.RecordCost(context.Background(), record("t1", 2.00, 0, false))

	rem := tr.RemainingBudget("t1", models.Budget{MaxCost: 1.00})
	if rem.MaxCost > 0 {
		t.Errorf("remaining MaxCost = %v, want <= 0 (exhausted)", rem.MaxCost)
	}
}

// ─── Durable recording ───────────────────────────────────────

func TestRecordCost_PersistsThroughRecorder(t *testing.T) {
	rec := &recorderStub{calls: make(chan models.CostRecord, 1)}
	tr := cost.NewTracker(rec)

	tr.RecordCost(context.Background(), record("t1", 0.10, 50, true))

	select {
	case got := <-rec.calls:
		if got.TaskID != "t1" {
			t.Errorf("persisted record TaskID = %q, want t1", got.TaskID)
		}
	case <-time.After(time.Second):
		t.Fatal("recorder was never called")
	}
}

func TestRecordCost_RecorderFailureDoesNotAffectTotals(t *testing.T) {
	rec := &recorderStub{err: errors.New("disk on fire"), calls: make(chan models.CostRecord, 1)}
	tr := cost.NewTracker(rec)

	tr.RecordCost(context.Background(), record("t1", 0.10, 50, true))
	<-rec.calls

	u := tr.UsageFor("t1")
	if u.Cost != 0.10 || u.Tokens != 50 {
		t.Errorf("in-memory totals %+v, want cost 0.10 / tokens 50 despite recorder failure", u)
	}
}
