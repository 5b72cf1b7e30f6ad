// Package store provides the persistence collaborator for the execution
// core: durable storage for completed (or in-flight) reasoning chains and
// individual cost records.
//
// The executor treats every store as best-effort — a store failure must
// never turn an otherwise-successful tool call into a failure. Two
// implementations ship here: an in-memory store for tests and local
// development, and a PostgreSQL store for production.
package store

import (
	"context"
	"errors"

	"github.com/forgeline/forgeline/internal/chain"
	"github.com/forgeline/forgeline/pkg/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ── Chain Store ─────────────────────────────────────────────

type ChainStore interface {
	// SaveChain upserts a chain snapshot by id.
	SaveChain(ctx context.Context, snap chain.Snapshot) error

	// GetChain returns a previously saved snapshot.
	GetChain(ctx context.Context, id string) (*chain.Snapshot, error)

	// ListChainsByTask returns all chain snapshots recorded for a task.
	ListChainsByTask(ctx context.Context, taskID string) ([]chain.Snapshot, error)
}

// ── Cost Store ──────────────────────────────────────────────

type CostStore interface {
	// RecordCost appends one durable cost record.
	RecordCost(ctx context.Context, rec models.CostRecord) error

	// ListCostRecords returns all cost records for a task, oldest first.
	ListCostRecords(ctx context.Context, taskID string) ([]models.CostRecord, error)
}

// ── Store ───────────────────────────────────────────────────

// Store is the combined persistence interface the executor and server
// depend on. Swapping in-memory for PostgreSQL is a wiring change only.
type Store interface {
	ChainStore
	CostStore

	// Ping checks if the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}
