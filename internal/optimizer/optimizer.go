// Package optimizer computes bounded capital-rebalancing plans for liquidity
// agents. It is a pure decision engine: given the agent's configuration,
// funds snapshot, and risk assessment it produces reductions first, then
// adjustments, then additions, and returns nil when no action clears the
// minimum improvement threshold.
package optimizer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/google/uuid"

	"github.com/rextempo/LiqPro-AI-sub007/internal/agent"
)

// ActionType discriminates the plan action variants.
type ActionType string

// Plan action variants.
const (
	ActionAdd    ActionType = "add"
	ActionRemove ActionType = "remove"
	ActionAdjust ActionType = "adjust"
)

// Action is one step of an optimization plan. Fields beyond Type and
// PoolAddress are variant-specific: AmountSol for add/remove, the bin and
// amount targets for adjust.
type Action struct {
	Type             ActionType `json:"type"`
	PoolAddress      string     `json:"pool_address"`
	AmountSol        float64    `json:"amount_sol,omitempty"`
	TargetBins       int        `json:"target_bins,omitempty"`
	CurrentAmountSol float64    `json:"current_amount_sol,omitempty"`
	TargetAmountSol  float64    `json:"target_amount_sol,omitempty"`
}

// Plan is the set of actions recommended for an agent in one cycle. It is
// owned transiently by the scheduler until handed to the transaction
// executor, then discarded.
type Plan struct {
	AgentID                   uuid.UUID `json:"agent_id"`
	TotalValueSol             float64   `json:"total_value_sol"`
	Actions                   []Action  `json:"actions"`
	ExpectedHealthImprovement float64   `json:"expected_health_improvement"`
}

// PoolRecommendation is the scoring collaborator's view of one pool.
type PoolRecommendation struct {
	PoolAddress   string  `json:"pool_address"`
	Score         float64 `json:"score"` // [0,1], higher is better
	CurrentPrice  float64 `json:"current_price"`
	SuggestedBins int     `json:"suggested_bins"`
	ExpectedAPY   float64 `json:"expected_apy"`
}

// PoolRecommender is the scoring-service port. GetPoolRecommendations may
// fail per call; a failed lookup degrades that single candidate only.
type PoolRecommender interface {
	GetPoolRecommendations(ctx context.Context, poolAddress string) (*PoolRecommendation, error)
	RecommendPools(ctx context.Context, poolTypes []string, limit int) ([]PoolRecommendation, error)
}

// Policy holds the optimizer tunables.
type Policy struct {
	MinImprovement   float64       // plans scoring below this are dropped to avoid thrashing
	PriceCacheTTL    time.Duration // how long a price baseline stays comparable
	MaxAddCandidates int           // pools requested from the scoring service per cycle
}

// DefaultPolicy returns the optimizer defaults. Production values come from config.
func DefaultPolicy() Policy {
	return Policy{
		MinImprovement:   0.05,
		PriceCacheTTL:    15 * time.Minute,
		MaxAddCandidates: 5,
	}
}

// Optimizer computes plans. Stateless except for the short-lived price
// baseline cache backing significant-change detection.
type Optimizer struct {
	recs   PoolRecommender
	policy Policy
	prices *ristretto.Cache[string, float64]
}

// New creates an Optimizer.
func New(recs PoolRecommender, policy Policy) (*Optimizer, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, float64]{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("optimizer: price cache: %w", err)
	}
	return &Optimizer{recs: recs, policy: policy, prices: cache}, nil
}

// CalculateOptimalPositions orchestrates the plan in a fixed order:
// reductions free capital first, then in-place adjustments, then additions.
// Additions are proposed only for a running agent: waiting suppresses new
// deployment while existing positions stay monitored. Returns (nil, nil)
// when no action clears the minimum improvement threshold.
func (o *Optimizer) CalculateOptimalPositions(
	ctx context.Context,
	cfg agent.Config,
	state agent.State,
	funds agent.FundsStatus,
	assessment agent.RiskAssessment,
) (*Plan, error) {
	if funds.TotalValueSol <= 0 {
		return nil, nil
	}
	if funds.AvailableBalance > funds.TotalValueSol {
		return nil, fmt.Errorf("optimizer: inconsistent funds: available %.4f exceeds total %.4f",
			funds.AvailableBalance, funds.TotalValueSol)
	}

	removes := identifyUnhealthyPositions(funds.Positions, assessment, unhealthyThreshold(cfg.RiskLevel))

	removed := make(map[string]bool, len(removes))
	for _, a := range removes {
		removed[a.PoolAddress] = true
	}

	adjusts := o.checkForSignificantChanges(ctx, cfg, funds.Positions, removed)

	var adds []Action
	if state == agent.StateRunning && assessment.Overall == agent.RiskLow {
		held := make(map[string]bool, len(funds.Positions))
		for _, p := range funds.Positions {
			held[p.PoolAddress] = true
		}
		adds = o.identifyAdditionActions(ctx, cfg, funds, held)
	}

	actions := make([]Action, 0, len(removes)+len(adjusts)+len(adds))
	actions = append(actions, removes...)
	actions = append(actions, adjusts...)
	actions = append(actions, adds...)
	if len(actions) == 0 {
		return nil, nil
	}

	improvement := estimateHealthImprovement(funds.TotalValueSol, removes, adjusts, adds)
	if improvement < o.policy.MinImprovement {
		slog.Debug("optimizer: plan below improvement threshold, dropped",
			slog.String("agent_id", cfg.ID.String()),
			slog.Float64("improvement", improvement),
		)
		return nil, nil
	}

	return &Plan{
		AgentID:                   cfg.ID,
		TotalValueSol:             funds.TotalValueSol,
		Actions:                   actions,
		ExpectedHealthImprovement: improvement,
	}, nil
}

// unhealthyThreshold derives the per-position risk-score floor from the
// agent's configured risk level. Conservative agents exit earlier.
func unhealthyThreshold(riskLevel string) float64 {
	switch riskLevel {
	case agent.RiskConservative:
		return 0.6
	case agent.RiskAggressive:
		return 0.3
	default:
		return 0.45
	}
}

// identifyUnhealthyPositions flags positions whose risk score falls below the
// threshold and turns them into full-exit remove actions. The largest-value
// position is removed first to reduce risk fastest per transaction.
func identifyUnhealthyPositions(positions []agent.Position, assessment agent.RiskAssessment, threshold float64) []Action {
	scores := make(map[string]float64, len(assessment.Positions))
	for _, pr := range assessment.Positions {
		scores[pr.PoolAddress] = pr.Score
	}

	var flagged []agent.Position
	for _, p := range positions {
		score, ok := scores[p.PoolAddress]
		if !ok {
			continue // no per-position detail, nothing to act on
		}
		if score < threshold {
			flagged = append(flagged, p)
		}
	}

	sort.SliceStable(flagged, func(i, j int) bool {
		return flagged[i].ValueSol > flagged[j].ValueSol
	})

	actions := make([]Action, 0, len(flagged))
	for _, p := range flagged {
		actions = append(actions, Action{
			Type:        ActionRemove,
			PoolAddress: p.PoolAddress,
			AmountSol:   p.ValueSol,
		})
	}
	return actions
}

// checkForSignificantChanges compares each surviving position's pool price
// against the cached baseline and proposes a bin re-centering adjust for
// moves beyond the agent's rebalance threshold. A failed scoring lookup
// skips that position only.
func (o *Optimizer) checkForSignificantChanges(
	ctx context.Context,
	cfg agent.Config,
	positions []agent.Position,
	removed map[string]bool,
) []Action {
	var actions []Action
	for _, p := range positions {
		if removed[p.PoolAddress] {
			continue
		}

		rec, err := o.recs.GetPoolRecommendations(ctx, p.PoolAddress)
		if err != nil {
			slog.Debug("optimizer: pool recommendation lookup failed, skipping",
				slog.String("agent_id", cfg.ID.String()),
				slog.String("pool", p.PoolAddress),
				slog.String("error", err.Error()),
			)
			continue
		}
		if rec.CurrentPrice <= 0 {
			continue
		}

		key := cfg.ID.String() + ":" + p.PoolAddress
		prev, ok := o.prices.Get(key)
		o.prices.SetWithTTL(key, rec.CurrentPrice, 1, o.policy.PriceCacheTTL)
		o.prices.Wait()
		if !ok || prev <= 0 {
			continue // no baseline yet
		}

		change := math.Abs(rec.CurrentPrice-prev) / prev
		if change > cfg.RebalanceThreshold {
			actions = append(actions, Action{
				Type:             ActionAdjust,
				PoolAddress:      p.PoolAddress,
				TargetBins:       rec.SuggestedBins,
				CurrentAmountSol: p.ValueSol,
				TargetAmountSol:  p.ValueSol,
			})
		}
	}
	return actions
}

// identifyAdditionActions proposes add actions for idle balance above the
// minimum position size, up to the maximum per pool and never exceeding the
// available balance in aggregate. Higher-scored pools win ties.
func (o *Optimizer) identifyAdditionActions(
	ctx context.Context,
	cfg agent.Config,
	funds agent.FundsStatus,
	held map[string]bool,
) []Action {
	idle := funds.AvailableBalance
	if idle < cfg.MinPositionSize {
		return nil
	}

	limit := o.policy.MaxAddCandidates
	candidates, err := o.recs.RecommendPools(ctx, cfg.PoolTypes, limit)
	if err != nil {
		slog.Debug("optimizer: pool candidate lookup failed, no additions this cycle",
			slog.String("agent_id", cfg.ID.String()),
			slog.String("error", err.Error()),
		)
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	var actions []Action
	for _, cand := range candidates {
		if held[cand.PoolAddress] {
			continue
		}
		amount := math.Min(cfg.MaxPositionSize, idle)
		if amount < cfg.MinPositionSize {
			break
		}
		actions = append(actions, Action{
			Type:        ActionAdd,
			PoolAddress: cand.PoolAddress,
			AmountSol:   amount,
			TargetBins:  cand.SuggestedBins,
		})
		idle -= amount
	}
	return actions
}

// estimateHealthImprovement scores a plan in [0,1]: freed risk dominates,
// redeployed yield contributes, each re-centering adds a small fixed gain.
func estimateHealthImprovement(total float64, removes, adjusts, adds []Action) float64 {
	if total <= 0 {
		return 0
	}
	var removedValue, addedValue float64
	for _, a := range removes {
		removedValue += a.AmountSol
	}
	for _, a := range adds {
		addedValue += a.AmountSol
	}

	improvement := 0.6*(removedValue/total) +
		0.25*(addedValue/total) +
		0.05*float64(len(adjusts))
	return math.Min(improvement, 1.0)
}
