// Package store — PostgreSQL Store implementation backed by pgx.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/forgeline/forgeline/internal/chain"
	"github.com/forgeline/forgeline/pkg/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgresStore implements Store using a pgx connection pool. Chain steps
// and metrics are stored as JSONB; cost records get their own append-only
// table so they can be aggregated independently of chains.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, pings, and runs migrations.
func NewPostgresStore(ctx context.Context, connURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}

	log.Info().Msg("postgres store initialized")
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS fl_chains (
			id           TEXT PRIMARY KEY,
			task_id      TEXT NOT NULL,
			agent_id     TEXT NOT NULL DEFAULT '',
			tenant_id    TEXT NOT NULL DEFAULT '',
			status       TEXT NOT NULL,
			started_at   TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ,
			steps        JSONB NOT NULL DEFAULT '[]',
			metrics      JSONB NOT NULL DEFAULT '{}',
			child_chains JSONB NOT NULL DEFAULT '[]',
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_fl_chains_task ON fl_chains (task_id);
		CREATE INDEX IF NOT EXISTS idx_fl_chains_tenant ON fl_chains (tenant_id);

		CREATE TABLE IF NOT EXISTS fl_cost_records (
			id             TEXT PRIMARY KEY,
			task_id        TEXT NOT NULL,
			tenant_id      TEXT NOT NULL DEFAULT '',
			agent_id       TEXT NOT NULL DEFAULT '',
			tool_name      TEXT NOT NULL,
			input_tokens   BIGINT NOT NULL DEFAULT 0,
			output_tokens  BIGINT NOT NULL DEFAULT 0,
			total_tokens   BIGINT NOT NULL DEFAULT 0,
			estimated_cost DOUBLE PRECISION NOT NULL DEFAULT 0,
			inference_call BOOLEAN NOT NULL DEFAULT FALSE,
			created_at     TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_fl_cost_task ON fl_cost_records (task_id);
		CREATE INDEX IF NOT EXISTS idx_fl_cost_tenant ON fl_cost_records (tenant_id);
	`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

func (s *PostgresStore) SaveChain(ctx context.Context, snap chain.Snapshot) error {
	if snap.ID == "" {
		return fmt.Errorf("save chain: empty id")
	}

	steps, err := json.Marshal(snap.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	metrics, err := json.Marshal(snap.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	children, err := json.Marshal(snap.ChildChains)
	if err != nil {
		return fmt.Errorf("marshal child chains: %w", err)
	}

	var completedAt any
	if !snap.CompletedAt.IsZero() {
		completedAt = snap.CompletedAt
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO fl_chains (id, task_id, agent_id, tenant_id, status, started_at, completed_at, steps, metrics, child_chains, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (id) DO UPDATE SET
			status       = EXCLUDED.status,
			completed_at = EXCLUDED.completed_at,
			steps        = EXCLUDED.steps,
			metrics      = EXCLUDED.metrics,
			child_chains = EXCLUDED.child_chains,
			updated_at   = NOW()
	`, snap.ID, snap.TaskID, snap.AgentID, snap.TenantID, string(snap.Status), snap.StartedAt, completedAt, steps, metrics, children)
	if err != nil {
		return fmt.Errorf("save chain %s: %w", snap.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetChain(ctx context.Context, id string) (*chain.Snapshot, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, task_id, agent_id, tenant_id, status, started_at, completed_at, steps, metrics, child_chains
		FROM fl_chains WHERE id = $1
	`, id)

	var snap chain.Snapshot
	var status string
	var completedAt *time.Time
	var steps, metrics, children []byte

	if err := row.Scan(&snap.ID, &snap.TaskID, &snap.AgentID, &snap.TenantID, &status, &snap.StartedAt, &completedAt, &steps, &metrics, &children); err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("chain %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get chain %s: %w", id, err)
	}

	snap.Status = chain.Status(status)
	if completedAt != nil {
		snap.CompletedAt = *completedAt
	}
	if err := json.Unmarshal(steps, &snap.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	if err := json.Unmarshal(metrics, &snap.Metrics); err != nil {
		return nil, fmt.Errorf("unmarshal metrics: %w", err)
	}
	if err := json.Unmarshal(children, &snap.ChildChains); err != nil {
		return nil, fmt.Errorf("unmarshal child chains: %w", err)
	}
	return &snap, nil
}

func (s *PostgresStore) ListChainsByTask(ctx context.Context, taskID string) ([]chain.Snapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM fl_chains WHERE task_id = $1 ORDER BY started_at
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list chains for task %s: %w", taskID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]chain.Snapshot, 0, len(ids))
	for _, id := range ids {
		snap, err := s.GetChain(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	return out, nil
}

func (s *PostgresStore) RecordCost(ctx context.Context, rec models.CostRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO fl_cost_records (id, task_id, tenant_id, agent_id, tool_name, input_tokens, output_tokens, total_tokens, estimated_cost, inference_call, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`, rec.ID, rec.TaskID, rec.TenantID, rec.AgentID, rec.ToolName,
		rec.Usage.InputTokens, rec.Usage.OutputTokens, rec.Usage.TotalTokens,
		rec.Usage.EstimatedCost, rec.InferenceCall, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("record cost %s: %w", rec.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListCostRecords(ctx context.Context, taskID string) ([]models.CostRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, task_id, tenant_id, agent_id, tool_name, input_tokens, output_tokens, total_tokens, estimated_cost, inference_call, created_at
		FROM fl_cost_records WHERE task_id = $1 ORDER BY created_at
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list cost records for task %s: %w", taskID, err)
	}
	defer rows.Close()

	var out []models.CostRecord
	for rows.Next() {
		var rec models.CostRecord
		if err := rows.Scan(&rec.ID, &rec.TaskID, &rec.TenantID, &rec.AgentID, &rec.ToolName,
			&rec.Usage.InputTokens, &rec.Usage.OutputTokens, &rec.Usage.TotalTokens,
			&rec.Usage.EstimatedCost, &rec.InferenceCall, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
