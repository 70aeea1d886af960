// Package agent implements the per-agent lifecycle state machine for
// autonomous liquidity agents: validated state transitions, sustained-risk
// tracking, recovery bookkeeping, and persistence on every change.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Errors returned by the agent package.
var (
	ErrInvalidTransition = errors.New("agent: invalid state transition")
	ErrRecoveryExhausted = errors.New("agent: recovery attempts exhausted")
	ErrValidation        = errors.New("agent: validation error")
)

// Risk levels an agent can be configured with.
const (
	RiskConservative = "conservative"
	RiskModerate     = "moderate"
	RiskAggressive   = "aggressive"
)

// RiskBand is the overall risk classification produced by the risk collaborator.
type RiskBand string

// Risk bands.
const (
	RiskLow    RiskBand = "low"
	RiskMedium RiskBand = "medium"
	RiskHigh   RiskBand = "high"
)

// Config is the immutable per-agent configuration supplied at registration.
// The state machine only reads it.
type Config struct {
	ID                 uuid.UUID `json:"id"`
	Wallet             string    `json:"wallet"`
	RiskLevel          string    `json:"risk_level"` // conservative | moderate | aggressive
	MinPositionSize    float64   `json:"min_position_size"` // SOL
	MaxPositionSize    float64   `json:"max_position_size"` // SOL
	TargetAPY          float64   `json:"target_apy"`
	MaxSlippage        float64   `json:"max_slippage"`
	RebalanceThreshold float64   `json:"rebalance_threshold"` // relative price move triggering an adjust
	PoolTypes          []string  `json:"pool_types"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Validate checks the configuration invariants.
func (c Config) Validate() error {
	if c.ID == uuid.Nil {
		return fmt.Errorf("%w: id is required", ErrValidation)
	}
	if c.Wallet == "" {
		return fmt.Errorf("%w: wallet is required", ErrValidation)
	}
	switch c.RiskLevel {
	case RiskConservative, RiskModerate, RiskAggressive:
	default:
		return fmt.Errorf("%w: unknown risk level %q", ErrValidation, c.RiskLevel)
	}
	if c.MinPositionSize <= 0 {
		return fmt.Errorf("%w: min_position_size must be positive", ErrValidation)
	}
	if c.MaxPositionSize < c.MinPositionSize {
		return fmt.Errorf("%w: max_position_size %.4f below min_position_size %.4f",
			ErrValidation, c.MaxPositionSize, c.MinPositionSize)
	}
	if c.RebalanceThreshold <= 0 {
		return fmt.Errorf("%w: rebalance_threshold must be positive", ErrValidation)
	}
	return nil
}

// Position is a single liquidity position held by an agent.
type Position struct {
	PoolAddress string  `json:"pool_address"`
	ValueSol    float64 `json:"value_sol"`
	ValueUsd    float64 `json:"value_usd"`
}

// FundsStatus is the latest capital snapshot supplied by the funds collaborator.
type FundsStatus struct {
	TotalValueSol    float64    `json:"total_value_sol"`
	AvailableBalance float64    `json:"available_balance"`
	ReservedBalance  float64    `json:"reserved_balance"`
	Positions        []Position `json:"positions"`
}

// PositionRisk is the per-position detail of a risk assessment.
// Score is in [0,1]; lower means less healthy.
type PositionRisk struct {
	PoolAddress string  `json:"pool_address"`
	Score       float64 `json:"score"`
}

// RiskAssessment is produced by the risk collaborator each cycle.
type RiskAssessment struct {
	Overall   RiskBand       `json:"overall"`
	Positions []PositionRisk `json:"positions,omitempty"`
}

// StateChangeRecord is one entry of the bounded per-agent transition history.
type StateChangeRecord struct {
	State State     `json:"state"`
	At    time.Time `json:"at"`
}

// RiskHistoryRecord is one entry of the bounded per-agent risk history.
type RiskHistoryRecord struct {
	Assessment RiskAssessment `json:"assessment"`
	At         time.Time      `json:"at"`
}

// Status is the mutable runtime record of one agent. It is exclusively owned
// and mutated by that agent's Machine.
type Status struct {
	State            State        `json:"state"`
	Funds            *FundsStatus `json:"funds,omitempty"`
	LastError        string       `json:"last_error,omitempty"`
	EnteredAt        time.Time    `json:"entered_at"`
	RecoveryAttempts int          `json:"recovery_attempts"`
}

// Snapshot is the persisted record for one agent: configuration plus the
// serialized runtime status, keyed by agent ID in the persistence backend.
type Snapshot struct {
	Config Config `json:"config"`
	Status Status `json:"status"`
}

// StatePersistence is the port the machine persists through. LoadState
// returns (nil, nil) when no record exists for the agent.
type StatePersistence interface {
	SaveState(ctx context.Context, agentID uuid.UUID, snap Snapshot) error
	LoadState(ctx context.Context, agentID uuid.UUID) (*Snapshot, error)
}

// StateChangeListener observes successful transitions. Listeners are invoked
// synchronously after the transition has been persisted and must not call
// back into the machine.
type StateChangeListener func(agentID uuid.UUID, from, to State, at time.Time)

// Policy holds the tunable thresholds driving risk pauses and recovery.
type Policy struct {
	MediumRiskPause       time.Duration // sustained medium risk before running → waiting
	HighRiskPause         time.Duration // sustained high risk before forcing waiting
	StateTimeout          time.Duration // max dwell in recovering before a forced retry
	RecoveryConfirmWindow time.Duration // stable running time before attempts reset
	MaxRecoveryAttempts   int
	HistoryCapacity       int
}

// DefaultPolicy returns the policy defaults. Production values come from config.
func DefaultPolicy() Policy {
	return Policy{
		MediumRiskPause:       10 * time.Minute,
		HighRiskPause:         2 * time.Minute,
		StateTimeout:          5 * time.Minute,
		RecoveryConfirmWindow: 2 * time.Minute,
		MaxRecoveryAttempts:   3,
		HistoryCapacity:       50,
	}
}
