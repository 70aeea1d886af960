package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rextempo/LiqPro-AI-sub007/internal/agent"
)

const redisKeyPrefix = "liqpro:agent:"

// Redis persists agent snapshots as JSON values, one key per agent.
type Redis struct {
	rdb *redis.Client
}

// NewRedis creates a Redis-backed store on the given client.
func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func (s *Redis) SaveState(ctx context.Context, agentID uuid.UUID, snap agent.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("store: marshal snapshot: %w", err)
	}
	if err := s.rdb.Set(ctx, redisKeyPrefix+agentID.String(), data, 0).Err(); err != nil {
		return fmt.Errorf("store: save state: %w", err)
	}
	return nil
}

func (s *Redis) LoadState(ctx context.Context, agentID uuid.UUID) (*agent.Snapshot, error) {
	data, err := s.rdb.Get(ctx, redisKeyPrefix+agentID.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
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

func (s *Redis) ListAgents(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	iter := s.rdb.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		raw := iter.Val()[len(redisKeyPrefix):]
		id, err := uuid.Parse(raw)
		if err != nil {
			continue // foreign key under our prefix, ignore
		}
		ids = append(ids, id)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("store: list agents: %w", err)
	}
	return ids, nil
}

func (s *Redis) DeleteState(ctx context.Context, agentID uuid.UUID) error {
	if err := s.rdb.Del(ctx, redisKeyPrefix+agentID.String()).Err(); err != nil {
		return fmt.Errorf("store: delete state: %w", err)
	}
	return nil
}
