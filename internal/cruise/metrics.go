package cruise

import (
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rextempo/LiqPro-AI-sub007/internal/agent"
)

// Metrics holds the Prometheus instruments for the scheduler. The JSON
// counters served by the Control API are kept separately on each
// registration; these exist for scraping.
type Metrics struct {
	CycleDuration   *prometheus.HistogramVec
	CyclesTotal     *prometheus.CounterVec
	PlansTotal      *prometheus.CounterVec
	TicksSkipped    *prometheus.CounterVec
	Transitions     *prometheus.CounterVec
	PersistFailures *prometheus.GaugeVec
	BreakerState    *prometheus.GaugeVec
	ReturnsSol      *prometheus.GaugeVec
	WalletBalance   *prometheus.GaugeVec
}

// NewMetrics registers the instruments on reg. A nil registerer gets a
// private registry so tests and tools can construct schedulers without
// colliding on the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		CycleDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "liqpro_cruise_cycle_duration_seconds",
			Help:    "Duration of one agent's health-check plus optimization cycle.",
			Buckets: prometheus.DefBuckets,
		}, []string{"agent_id"}),
		CyclesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "liqpro_cruise_cycles_total",
			Help: "Agent cycles run, by outcome.",
		}, []string{"agent_id", "result"}),
		PlansTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "liqpro_cruise_plans_total",
			Help: "Optimization plans handed to the executor, by outcome.",
		}, []string{"agent_id", "result"}),
		TicksSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "liqpro_cruise_ticks_skipped_total",
			Help: "Ticks skipped because the agent's previous cycle was still in flight.",
		}, []string{"agent_id"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "liqpro_agent_transitions_total",
			Help: "Agent state transitions.",
		}, []string{"agent_id", "from", "to"}),
		PersistFailures: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "liqpro_agent_persist_failures",
			Help: "Cumulative failed state-persistence writes per agent.",
		}, []string{"agent_id"}),
		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "liqpro_collaborator_breaker_state",
			Help: "Circuit breaker state per collaborator: 0 closed, 1 half-open, 2 open.",
		}, []string{"collaborator"}),
		ReturnsSol: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "liqpro_agent_returns_sol",
			Help: "Latest calculated returns per agent, in SOL.",
		}, []string{"agent_id"}),
		WalletBalance: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "liqpro_wallet_balance_sol",
			Help: "Latest observed wallet balance, in SOL.",
		}, []string{"wallet"}),
	}
}

// Listener returns a state-change listener feeding the transition counter.
func (m *Metrics) Listener() agent.StateChangeListener {
	return func(agentID uuid.UUID, from, to agent.State, _ time.Time) {
		m.Transitions.WithLabelValues(agentID.String(), string(from), string(to)).Inc()
	}
}
