package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rextempo/LiqPro-AI-sub007/internal/agent"
)

// Postgres persists agent snapshots in a single table, one row per agent.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres-backed store on the given pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Migrate creates the backing table if it does not exist.
func (s *Postgres) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS agent_states (
			agent_id   UUID PRIMARY KEY,
			snapshot   JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (s *Postgres) SaveState(ctx context.Context, agentID uuid.UUID, snap agent.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("store: marshal snapshot: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO agent_states (agent_id, snapshot, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (agent_id) DO UPDATE SET snapshot = $2, updated_at = now()`,
		agentID, data)
	if err != nil {
		return fmt.Errorf("store: save state: %w", err)
	}
	return nil
}

func (s *Postgres) LoadState(ctx context.Context, agentID uuid.UUID) (*agent.Snapshot, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT snapshot FROM agent_states WHERE agent_id = $1`, agentID).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: load state: %w", err)
	}
	var snap agent.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("store: unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func (s *Postgres) ListAgents(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `SELECT agent_id FROM agent_states`)
	if err != nil {
		return nil, fmt.Errorf("store: list agents: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan agent id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Postgres) DeleteState(ctx context.Context, agentID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM agent_states WHERE agent_id = $1`, agentID)
	if err != nil {
		return fmt.Errorf("store: delete state: %w", err)
	}
	return nil
}
