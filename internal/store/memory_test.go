package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/forgeline/forgeline/internal/chain"
	"github.com/forgeline/forgeline/internal/store"
	"github.com/forgeline/forgeline/pkg/models"
)

// newTestStore creates a fresh in-memory store for tests.
func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleSnapshot(id, taskID string) chain.Snapshot {
	c := chain.New(taskID, "agent-1", "tenant-1")
	c.AddStep(chain.NewThinkingStep("hello"))
	snap := c.Snapshot()
	if id != "" {
		snap.ID = id
	}
	return snap
}

// ─── Chains ──────────────────────────────────────────────────

func TestSaveAndGetChain(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	snap := sampleSnapshot("chain-1", "task-1")
	if err := s.SaveChain(ctx, snap); err != nil {
		t.Fatalf("SaveChain() error = %v", err)
	}

	got, err := s.GetChain(ctx, "chain-1")
	if err != nil {
		t.Fatalf("GetChain() error = %v", err)
	}
	if got.TaskID != "task-1" {
		t.Errorf("GetChain().TaskID = %q, want task-1", got.TaskID)
	}
	if len(got.Steps) != 1 {
		t.Errorf("GetChain() has %d steps, want 1", len(got.Steps))
	}
	if got.Metrics.TotalSteps != 1 {
		t.Errorf("GetChain().Metrics.TotalSteps = %d, want 1", got.Metrics.TotalSteps)
	}
}

func TestSaveChain_Upsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	snap := sampleSnapshot("chain-1", "task-1")
	s.SaveChain(ctx, snap)

	snap.Status = chain.StatusCompleted
	if err := s.SaveChain(ctx, snap); err != nil {
		t.Fatalf("SaveChain() second call error = %v", err)
	}

	got, _ := s.GetChain(ctx, "chain-1")
	if got.Status != chain.StatusCompleted {
		t.Errorf("after upsert, Status = %q, want completed", got.Status)
	}
}

func TestGetChain_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetChain(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetChain() error = %v, want ErrNotFound", err)
	}
}

func TestListChainsByTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.SaveChain(ctx, sampleSnapshot("c1", "task-1"))
	s.SaveChain(ctx, sampleSnapshot("c2", "task-1"))
	s.SaveChain(ctx, sampleSnapshot("c3", "other-task"))

	got, err := s.ListChainsByTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("ListChainsByTask() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("ListChainsByTask() returned %d chains, want 2", len(got))
	}
}

// ─── Cost records ────────────────────────────────────────────

func TestRecordAndListCost(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	recs := []models.CostRecord{
		{ID: "r1", TaskID: "task-1", ToolName: "llm", Usage: models.TokenUsage{EstimatedCost: 0.10}, CreatedAt: time.Now().UTC()},
		{ID: "r2", TaskID: "task-1", ToolName: "llm", Usage: models.TokenUsage{EstimatedCost: 0.20}, CreatedAt: time.Now().UTC()},
		{ID: "r3", TaskID: "task-2", ToolName: "fetch", CreatedAt: time.Now().UTC()},
	}
	for _, rec := range recs {
		if err := s.RecordCost(ctx, rec); err != nil {
			t.Fatalf("RecordCost(%s) error = %v", rec.ID, err)
		}
	}

	got, err := s.ListCostRecords(ctx, "task-1")
	if err != nil {
		t.Fatalf("ListCostRecords() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListCostRecords() returned %d records, want 2", len(got))
	}
	if got[0].ID != "r1" || got[1].ID != "r2" {
		t.Errorf("ListCostRecords() order = [%s %s], want [r1 r2]", got[0].ID, got[1].ID)
	}
}

func TestListCostRecords_EmptyTask(t *testing.T) {
	s := newTestStore(t)
	got, err := s.ListCostRecords(context.Background(), "nothing")
	if err != nil {
		t.Fatalf("ListCostRecords() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("ListCostRecords() returned %d records, want 0", len(got))
	}
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}
