// Package cruise runs the autonomous management loop: a registry of agent
// state machines, a fixed-interval tick that health-checks and optimizes each
// registered agent through a bounded worker pool, and the operator-facing
// Control API. A failure in one agent's cycle never propagates to another's.
package cruise

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/rextempo/LiqPro-AI-sub007/internal/agent"
	"github.com/rextempo/LiqPro-AI-sub007/internal/collab"
	"github.com/rextempo/LiqPro-AI-sub007/internal/optimizer"
)

// Errors returned by the scheduler and mapped to HTTP statuses by the handler.
var (
	ErrNotRegistered = errors.New("cruise: agent not registered")
	ErrNotRunning    = errors.New("cruise: scheduler not running")
	ErrBusy          = errors.New("cruise: agent cycle already in flight")
)

// schedulerState is the scheduler's own lifecycle.
type schedulerState string

const (
	schedStopped  schedulerState = "stopped"
	schedStarting schedulerState = "starting"
	schedRunning  schedulerState = "running"
	schedStopping schedulerState = "stopping"
)

// FundsManager is the funds-collaborator port consumed by cycles.
type FundsManager interface {
	GetFundsStatus(ctx context.Context, agentID uuid.UUID, wallet string) (*agent.FundsStatus, error)
	CheckTransactionLimit(ctx context.Context, agentID uuid.UUID, amountSol float64, txType string) (bool, error)
	UpdateFundsStatus(ctx context.Context, agentID uuid.UUID, funds agent.FundsStatus) error
	CalculateReturns(ctx context.Context, agentID uuid.UUID) (float64, error)
	RecordTransaction(ctx context.Context, agentID uuid.UUID, poolAddress string, amountSol float64, txType string) error
	GetWalletBalance(ctx context.Context, wallet string) (float64, error)
	CheckFundsSafety(ctx context.Context, agentID uuid.UUID) (bool, error)
}

// RiskController is the risk-collaborator port.
type RiskController interface {
	AssessRisk(ctx context.Context, agentID uuid.UUID) (*agent.RiskAssessment, error)
}

// TransactionExecutor is the transaction-pipeline port. Execution is a black
// box from the scheduler's point of view.
type TransactionExecutor interface {
	Execute(ctx context.Context, plan *optimizer.Plan) (*collab.ExecutionResult, error)
}

// PlanCalculator is the optimizer port. *optimizer.Optimizer satisfies it.
type PlanCalculator interface {
	CalculateOptimalPositions(ctx context.Context, cfg agent.Config, state agent.State,
		funds agent.FundsStatus, assessment agent.RiskAssessment) (*optimizer.Plan, error)
}

// SnapshotStore widens the machine's persistence port with the enumeration
// and deletion the registry needs for restart resume and unregistration.
type SnapshotStore interface {
	agent.StatePersistence
	ListAgents(ctx context.Context) ([]uuid.UUID, error)
	DeleteState(ctx context.Context, agentID uuid.UUID) error
}

// Config holds the scheduler tunables.
type Config struct {
	TickInterval   time.Duration
	WorkerPoolSize int
	ShutdownGrace  time.Duration
	Policy         agent.Policy
}

// Deps are the scheduler's injected collaborators. Listeners are attached to
// every machine at registration time.
type Deps struct {
	Store     SnapshotStore
	Funds     FundsManager
	Risk      RiskController
	Planner   PlanCalculator
	Executor  TransactionExecutor
	Metrics   *Metrics
	Listeners []agent.StateChangeListener
}

// registration is one registry entry. The busy flag is the per-agent
// reentrancy guard: a tick or manual trigger that finds it set skips the
// agent rather than queueing behind the in-flight cycle.
type registration struct {
	machine *agent.Machine

	busy      atomic.Bool
	lastCycle atomic.Int64 // unix nanos of the last completed cycle

	cycles  atomic.Uint64
	plans   atomic.Uint64
	skipped atomic.Uint64
	errs    atomic.Uint64
}

// Scheduler owns the agent registry and the tick loop.
type Scheduler struct {
	cfg  Config
	deps Deps
	sem  *semaphore.Weighted

	mu     sync.Mutex
	state  schedulerState
	agents map[uuid.UUID]*registration
	cancel context.CancelFunc

	wg sync.WaitGroup
}

// NewScheduler creates a stopped scheduler. Zero config fields fall back to
// the documented defaults.
func NewScheduler(cfg Config, deps Deps) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 8
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 30 * time.Second
	}
	if cfg.Policy == (agent.Policy{}) {
		cfg.Policy = agent.DefaultPolicy()
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics(nil)
	}
	deps.Listeners = append(deps.Listeners, deps.Metrics.Listener())

	return &Scheduler{
		cfg:    cfg,
		deps:   deps,
		sem:    semaphore.NewWeighted(int64(cfg.WorkerPoolSize)),
		state:  schedStopped,
		agents: make(map[uuid.UUID]*registration),
	}
}

// Register validates the configuration, builds a machine, restores any
// persisted status, and adds the agent to the registry. A fresh agent is
// initialized to running immediately. Registering an already-registered ID
// replaces the entry rather than erroring, so reloads are idempotent.
func (s *Scheduler) Register(ctx context.Context, cfg agent.Config) (*agent.Machine, error) {
	return s.register(ctx, cfg, true)
}

func (s *Scheduler) register(ctx context.Context, cfg agent.Config, autoInit bool) (*agent.Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := agent.NewMachine(cfg, s.deps.Store, s.cfg.Policy)
	if err := m.Restore(ctx); err != nil {
		return nil, fmt.Errorf("cruise: restore agent %s: %w", cfg.ID, err)
	}
	for _, l := range s.deps.Listeners {
		m.AddStateChangeListener(l)
	}
	if autoInit && m.Status().State == agent.StateIdle {
		m.Initialize(ctx)
	}

	s.mu.Lock()
	if _, exists := s.agents[cfg.ID]; exists {
		slog.Info("cruise: agent re-registered, replacing entry",
			slog.String("agent_id", cfg.ID.String()))
	}
	s.agents[cfg.ID] = &registration{machine: m}
	count := len(s.agents)
	s.mu.Unlock()

	slog.Info("cruise: agent registered",
		slog.String("agent_id", cfg.ID.String()),
		slog.String("state", string(m.Status().State)),
		slog.Int("agent_count", count),
	)
	return m, nil
}

// Unregister removes the agent from the registry and deletes its persisted
// record. An in-flight cycle for the old registration finishes on its own.
func (s *Scheduler) Unregister(ctx context.Context, agentID uuid.UUID) error {
	s.mu.Lock()
	_, ok := s.agents[agentID]
	delete(s.agents, agentID)
	s.mu.Unlock()
	if !ok {
		return ErrNotRegistered
	}

	if err := s.deps.Store.DeleteState(ctx, agentID); err != nil {
		slog.Warn("cruise: delete persisted state failed",
			slog.String("agent_id", agentID.String()),
			slog.String("error", err.Error()),
		)
	}
	slog.Info("cruise: agent unregistered", slog.String("agent_id", agentID.String()))
	return nil
}

// Restore re-registers every agent found in the store, keeping each one's
// persisted state. Called once at startup, before Start.
func (s *Scheduler) Restore(ctx context.Context) error {
	ids, err := s.deps.Store.ListAgents(ctx)
	if err != nil {
		return fmt.Errorf("cruise: list persisted agents: %w", err)
	}

	restored := 0
	for _, id := range ids {
		s.mu.Lock()
		_, exists := s.agents[id]
		s.mu.Unlock()
		if exists {
			continue
		}

		snap, err := s.deps.Store.LoadState(ctx, id)
		if err != nil || snap == nil {
			slog.Warn("cruise: skipping unreadable persisted agent",
				slog.String("agent_id", id.String()))
			continue
		}
		if _, err := s.register(ctx, snap.Config, false); err != nil {
			slog.Warn("cruise: restore registration failed",
				slog.String("agent_id", id.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		restored++
	}

	slog.Info("cruise: agents restored", slog.Int("count", restored))
	return nil
}

// Start launches the tick loop. A no-op when already running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.state == schedRunning || s.state == schedStarting {
		s.mu.Unlock()
		return
	}
	s.state = schedStarting
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state = schedRunning
	s.mu.Unlock()

	s.wg.Add(1)
	go s.tickLoop(loopCtx)

	slog.Info("cruise: scheduler started",
		slog.Duration("tick_interval", s.cfg.TickInterval),
		slog.Int("worker_pool", s.cfg.WorkerPoolSize),
	)
}

// Stop halts the tick loop and drains in-flight cycles. Cycles are allowed
// to finish naturally up to the shutdown grace, then abandoned and logged;
// no state mutation is forced after shutdown begins.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state != schedRunning {
		s.mu.Unlock()
		return
	}
	s.state = schedStopping
	cancel := s.cancel
	s.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownGrace):
		slog.Warn("cruise: shutdown grace elapsed, abandoning in-flight cycles",
			slog.Duration("grace", s.cfg.ShutdownGrace))
	}

	s.mu.Lock()
	s.state = schedStopped
	s.mu.Unlock()
	slog.Info("cruise: scheduler stopped")
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.runTick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

// runTick fans one cycle out per registered agent. An agent whose previous
// cycle is still in flight is skipped, not queued.
func (s *Scheduler) runTick(ctx context.Context) {
	s.mu.Lock()
	regs := make(map[uuid.UUID]*registration, len(s.agents))
	for id, reg := range s.agents {
		regs[id] = reg
	}
	s.mu.Unlock()

	for id, reg := range regs {
		if reg.machine.Status().State.Terminal() {
			continue
		}
		if !reg.busy.CompareAndSwap(false, true) {
			reg.skipped.Add(1)
			s.deps.Metrics.TicksSkipped.WithLabelValues(id.String()).Inc()
			slog.Debug("cruise: previous cycle still in flight, tick skipped",
				slog.String("agent_id", id.String()))
			continue
		}

		s.wg.Add(1)
		go s.cycleAgent(ctx, id, reg)
	}
}

// cycleAgent runs one full cruise cycle for one agent. Loop cancellation
// stops new work from being admitted, but a cycle that already started runs
// to completion on its own deadline so shutdown can drain instead of
// corrupting mid-flight state.
func (s *Scheduler) cycleAgent(ctx context.Context, agentID uuid.UUID, reg *registration) {
	defer s.wg.Done()
	defer reg.busy.Store(false)

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer s.sem.Release(1)

	cycleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.TickInterval)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			reg.errs.Add(1)
			s.deps.Metrics.CyclesTotal.WithLabelValues(agentID.String(), "panic").Inc()
			reg.machine.SetError(cycleCtx, fmt.Sprintf("cycle panic: %v", r))
			slog.Error("cruise: cycle panicked",
				slog.String("agent_id", agentID.String()),
				slog.Any("panic", r),
			)
		}
	}()

	start := time.Now()
	s.runCycle(cycleCtx, agentID, reg)
	reg.cycles.Add(1)
	reg.lastCycle.Store(time.Now().UnixNano())
	s.deps.Metrics.CycleDuration.WithLabelValues(agentID.String()).Observe(time.Since(start).Seconds())
}

// runCycle enforces the intra-cycle ordering: the health check and any state
// transition it causes complete before optimization reads the state.
func (s *Scheduler) runCycle(ctx context.Context, agentID uuid.UUID, reg *registration) {
	ok := s.performHealthCheck(ctx, agentID, reg)
	if reg.machine.Status().State.Active() {
		s.optimizePositions(ctx, agentID, reg)
	}

	result := "ok"
	if !ok {
		result = "error"
	}
	s.deps.Metrics.CyclesTotal.WithLabelValues(agentID.String(), result).Inc()
}

// performHealthCheck refreshes the agent's funds and risk pictures and runs
// the machine's periodic bookkeeping. Any collaborator failure is routed
// into the machine as a transient fault and aborts this agent's check only.
func (s *Scheduler) performHealthCheck(ctx context.Context, agentID uuid.UUID, reg *registration) bool {
	m := reg.machine
	cfg := m.Config()

	funds, err := s.deps.Funds.GetFundsStatus(ctx, agentID, cfg.Wallet)
	if err != nil {
		s.fault(ctx, agentID, reg, fmt.Sprintf("funds status: %v", err))
		return false
	}
	m.UpdateFunds(ctx, *funds)

	safe, err := s.deps.Funds.CheckFundsSafety(ctx, agentID)
	if err != nil {
		s.fault(ctx, agentID, reg, fmt.Sprintf("funds safety: %v", err))
		return false
	}
	if !safe {
		s.fault(ctx, agentID, reg, "funds safety check failed")
		return false
	}

	assessment, err := s.deps.Risk.AssessRisk(ctx, agentID)
	if err != nil {
		s.fault(ctx, agentID, reg, fmt.Sprintf("risk assessment: %v", err))
		return false
	}
	m.HandleRiskAssessment(ctx, *assessment)

	if returns, err := s.deps.Funds.CalculateReturns(ctx, agentID); err == nil {
		s.deps.Metrics.ReturnsSol.WithLabelValues(agentID.String()).Set(returns)
	}
	if balance, err := s.deps.Funds.GetWalletBalance(ctx, cfg.Wallet); err == nil {
		s.deps.Metrics.WalletBalance.WithLabelValues(cfg.Wallet).Set(balance)
	}

	m.PeriodicCheck(ctx)
	s.deps.Metrics.PersistFailures.WithLabelValues(agentID.String()).Set(float64(m.PersistFailures()))
	return true
}

// optimizePositions computes a plan from the post-health-check state and
// hands it to the executor. A plan-computation failure skips this agent's
// optimization for the tick; an execution failure is a fault.
func (s *Scheduler) optimizePositions(ctx context.Context, agentID uuid.UUID, reg *registration) {
	m := reg.machine
	st := m.Status()
	if st.Funds == nil {
		return
	}
	assessment := m.LastRiskAssessment()
	if assessment == nil {
		return
	}

	plan, err := s.deps.Planner.CalculateOptimalPositions(ctx, m.Config(), st.State, *st.Funds, *assessment)
	if err != nil {
		reg.errs.Add(1)
		slog.Warn("cruise: plan computation failed, optimization skipped this tick",
			slog.String("agent_id", agentID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if plan == nil || len(plan.Actions) == 0 {
		return
	}

	kept := make([]optimizer.Action, 0, len(plan.Actions))
	for _, a := range plan.Actions {
		if a.Type == optimizer.ActionAdd {
			allowed, err := s.deps.Funds.CheckTransactionLimit(ctx, agentID, a.AmountSol, string(a.Type))
			if err != nil || !allowed {
				slog.Warn("cruise: addition dropped by transaction limit",
					slog.String("agent_id", agentID.String()),
					slog.String("pool", a.PoolAddress),
					slog.Float64("amount_sol", a.AmountSol),
				)
				continue
			}
		}
		kept = append(kept, a)
	}
	if len(kept) == 0 {
		return
	}
	plan.Actions = kept

	res, err := s.deps.Executor.Execute(ctx, plan)
	if err != nil {
		s.deps.Metrics.PlansTotal.WithLabelValues(agentID.String(), "failed").Inc()
		s.fault(ctx, agentID, reg, fmt.Sprintf("plan execution: %v", err))
		return
	}
	if !res.Success {
		s.deps.Metrics.PlansTotal.WithLabelValues(agentID.String(), "failed").Inc()
		s.fault(ctx, agentID, reg, "plan execution rejected: "+res.Message)
		return
	}

	reg.plans.Add(1)
	s.deps.Metrics.PlansTotal.WithLabelValues(agentID.String(), "executed").Inc()
	m.ClearError(ctx)

	for _, a := range plan.Actions {
		amount := a.AmountSol
		if a.Type == optimizer.ActionAdjust {
			amount = a.TargetAmountSol
		}
		if err := s.deps.Funds.RecordTransaction(ctx, agentID, a.PoolAddress, amount, string(a.Type)); err != nil {
			slog.Warn("cruise: record transaction failed",
				slog.String("agent_id", agentID.String()),
				slog.String("pool", a.PoolAddress),
				slog.String("error", err.Error()),
			)
		}
	}

	// refresh the funds picture after execution and broadcast it
	if fresh, err := s.deps.Funds.GetFundsStatus(ctx, agentID, m.Config().Wallet); err == nil {
		m.UpdateFunds(ctx, *fresh)
		if err := s.deps.Funds.UpdateFundsStatus(ctx, agentID, *fresh); err != nil {
			slog.Warn("cruise: funds status broadcast failed",
				slog.String("agent_id", agentID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	slog.Info("cruise: plan executed",
		slog.String("agent_id", agentID.String()),
		slog.Int("actions", len(plan.Actions)),
		slog.Float64("expected_improvement", plan.ExpectedHealthImprovement),
	)
}

func (s *Scheduler) fault(ctx context.Context, agentID uuid.UUID, reg *registration, msg string) {
	reg.errs.Add(1)
	slog.Warn("cruise: cycle fault",
		slog.String("agent_id", agentID.String()),
		slog.String("error", msg),
	)
	reg.machine.SetError(ctx, msg)
}

// TriggerHealthCheck runs one out-of-band health check for the agent, using
// the same path as the tick loop. Refused when the scheduler is not running,
// the agent is unregistered, or its cycle is already in flight.
func (s *Scheduler) TriggerHealthCheck(ctx context.Context, agentID uuid.UUID) error {
	reg, err := s.claim(agentID)
	if err != nil {
		return err
	}
	defer reg.busy.Store(false)

	s.performHealthCheck(ctx, agentID, reg)
	return nil
}

// TriggerOptimization runs one out-of-band optimization for the agent,
// subject to the same refusal conditions as TriggerHealthCheck. Optimization
// only acts when the agent's state permits it.
func (s *Scheduler) TriggerOptimization(ctx context.Context, agentID uuid.UUID) error {
	reg, err := s.claim(agentID)
	if err != nil {
		return err
	}
	defer reg.busy.Store(false)

	if reg.machine.Status().State.Active() {
		s.optimizePositions(ctx, agentID, reg)
	}
	return nil
}

// HandleAgentEvent applies a lifecycle event to a registered agent on behalf
// of an operator. Rejected transitions surface as agent.ErrInvalidTransition.
func (s *Scheduler) HandleAgentEvent(ctx context.Context, agentID uuid.UUID, ev agent.Event) error {
	s.mu.Lock()
	reg, ok := s.agents[agentID]
	s.mu.Unlock()
	if !ok {
		return ErrNotRegistered
	}
	return reg.machine.HandleEvent(ctx, ev)
}

// claim locks an agent's reentrancy guard for a manual trigger.
func (s *Scheduler) claim(agentID uuid.UUID) (*registration, error) {
	s.mu.Lock()
	running := s.state == schedRunning
	reg, ok := s.agents[agentID]
	s.mu.Unlock()

	if !running {
		return nil, ErrNotRunning
	}
	if !ok {
		return nil, ErrNotRegistered
	}
	if !reg.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	return reg, nil
}

// Status is the scheduler-level summary served by GET /cruise/status.
type Status struct {
	IsRunning  bool   `json:"is_running"`
	State      string `json:"state"`
	AgentCount int    `json:"agent_count"`
}

// Status reports whether the loop is running and how many agents are registered.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		IsRunning:  s.state == schedRunning,
		State:      string(s.state),
		AgentCount: len(s.agents),
	}
}

// MetricsSnapshot is the aggregate counter view served by GET /cruise/metrics.
type MetricsSnapshot struct {
	Cycles        uint64              `json:"cycles"`
	Plans         uint64              `json:"plans"`
	SkippedTicks  uint64              `json:"skipped_ticks"`
	Errors        uint64              `json:"errors"`
	AgentsByState map[agent.State]int `json:"agents_by_state"`
}

// Metrics aggregates the per-agent counters. Read-only.
func (s *Scheduler) Metrics() MetricsSnapshot {
	s.mu.Lock()
	regs := make([]*registration, 0, len(s.agents))
	for _, reg := range s.agents {
		regs = append(regs, reg)
	}
	s.mu.Unlock()

	snap := MetricsSnapshot{AgentsByState: make(map[agent.State]int)}
	for _, reg := range regs {
		snap.Cycles += reg.cycles.Load()
		snap.Plans += reg.plans.Load()
		snap.SkippedTicks += reg.skipped.Load()
		snap.Errors += reg.errs.Load()
		snap.AgentsByState[reg.machine.Status().State]++
	}
	return snap
}

// AgentMetricsSnapshot is the per-agent counter view. Stopped agents stay
// visible here with their last error until unregistered.
type AgentMetricsSnapshot struct {
	AgentID          uuid.UUID   `json:"agent_id"`
	State            agent.State `json:"state"`
	LastError        string      `json:"last_error,omitempty"`
	RecoveryAttempts int         `json:"recovery_attempts"`
	Cycles           uint64      `json:"cycles"`
	Plans            uint64      `json:"plans"`
	SkippedTicks     uint64      `json:"skipped_ticks"`
	Errors           uint64      `json:"errors"`
	PersistFailures  uint64      `json:"persist_failures"`
	LastCycleAt      time.Time   `json:"last_cycle_at"`
}

// AgentMetrics returns one agent's counters. Read-only.
func (s *Scheduler) AgentMetrics(agentID uuid.UUID) (AgentMetricsSnapshot, error) {
	s.mu.Lock()
	reg, ok := s.agents[agentID]
	s.mu.Unlock()
	if !ok {
		return AgentMetricsSnapshot{}, ErrNotRegistered
	}

	st := reg.machine.Status()
	var lastCycle time.Time
	if ns := reg.lastCycle.Load(); ns > 0 {
		lastCycle = time.Unix(0, ns)
	}
	return AgentMetricsSnapshot{
		AgentID:          agentID,
		State:            st.State,
		LastError:        st.LastError,
		RecoveryAttempts: st.RecoveryAttempts,
		Cycles:           reg.cycles.Load(),
		Plans:            reg.plans.Load(),
		SkippedTicks:     reg.skipped.Load(),
		Errors:           reg.errs.Load(),
		PersistFailures:  reg.machine.PersistFailures(),
		LastCycleAt:      lastCycle,
	}, nil
}

// AgentDetail is the full per-agent view served by GET /cruise/agents/{agentID}.
type AgentDetail struct {
	Config       agent.Config              `json:"config"`
	Status       agent.Status              `json:"status"`
	StateHistory []agent.StateChangeRecord `json:"state_history"`
	RiskHistory  []agent.RiskHistoryRecord `json:"risk_history"`
}

// AgentDetail returns one agent's configuration, status, and bounded histories.
func (s *Scheduler) AgentDetail(agentID uuid.UUID) (*AgentDetail, error) {
	s.mu.Lock()
	reg, ok := s.agents[agentID]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotRegistered
	}
	return &AgentDetail{
		Config:       reg.machine.Config(),
		Status:       reg.machine.Status(),
		StateHistory: reg.machine.StateHistory(),
		RiskHistory:  reg.machine.RiskHistory(),
	}, nil
}
