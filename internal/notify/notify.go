// Package notify fans agent state transitions out to other services over
// Redis pub/sub so the alerting collaborator and the dashboard can react
// without polling.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rextempo/LiqPro-AI-sub007/internal/agent"
)

// DefaultChannel is the pub/sub channel transitions are published on.
const DefaultChannel = "liqpro:agent-transitions"

// Publisher publishes state transitions as "agentID:from:to" payloads.
type Publisher struct {
	rdb     *redis.Client
	channel string
}

// NewPublisher creates a Publisher on the given client. An empty channel
// selects DefaultChannel.
func NewPublisher(rdb *redis.Client, channel string) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{rdb: rdb, channel: channel}
}

// Listener returns a state-change listener for machine registration.
// Publishing happens on a separate goroutine: listeners run inside the
// transition path and must not block on network IO.
func (p *Publisher) Listener() agent.StateChangeListener {
	return func(agentID uuid.UUID, from, to agent.State, _ time.Time) {
		go p.publish(agentID, from, to)
	}
}

func (p *Publisher) publish(agentID uuid.UUID, from, to agent.State) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	payload := fmt.Sprintf("%s:%s:%s", agentID, from, to)
	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		slog.Warn("notify: publish transition failed",
			slog.String("agent_id", agentID.String()),
			slog.String("error", err.Error()),
		)
	}
}
