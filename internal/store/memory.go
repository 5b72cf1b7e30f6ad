// Package store — in-memory Store implementation.
// Used in tests and local development where PostgreSQL is not available.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/forgeline/forgeline/internal/chain"
	"github.com/forgeline/forgeline/pkg/models"
)

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu     sync.RWMutex
	chains map[string]chain.Snapshot   // key: chain id
	costs  map[string][]models.CostRecord // key: task id, append-only
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chains: make(map[string]chain.Snapshot),
		costs:  make(map[string][]models.CostRecord),
	}
}

func (m *MemoryStore) SaveChain(ctx context.Context, snap chain.Snapshot) error {
	if snap.ID == "" {
		return fmt.Errorf("save chain: empty id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chains[snap.ID] = snap
	return nil
}

func (m *MemoryStore) GetChain(ctx context.Context, id string) (*chain.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.chains[id]
	if !ok {
		return nil, fmt.Errorf("chain %q: %w", id, ErrNotFound)
	}
	out := snap
	return &out, nil
}

func (m *MemoryStore) ListChainsByTask(ctx context.Context, taskID string) ([]chain.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []chain.Snapshot
	for _, snap := range m.chains {
		if snap.TaskID == taskID {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (m *MemoryStore) RecordCost(ctx context.Context, rec models.CostRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.costs[rec.TaskID] = append(m.costs[rec.TaskID], rec)
	return nil
}

func (m *MemoryStore) ListCostRecords(ctx context.Context, taskID string) ([]models.CostRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := m.costs[taskID]
	out := make([]models.CostRecord, len(recs))
	copy(out, recs)
	return out, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
