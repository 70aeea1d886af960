package cruise

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rextempo/LiqPro-AI-sub007/internal/agent"
	"github.com/rextempo/LiqPro-AI-sub007/internal/collab"
	"github.com/rextempo/LiqPro-AI-sub007/internal/optimizer"
	"github.com/rextempo/LiqPro-AI-sub007/internal/store"
)

// --- Mock collaborators ---

type mockFunds struct {
	mu           sync.Mutex
	status       agent.FundsStatus
	statusErr    error
	safe         bool
	safeErr      error
	limitAllowed bool
	limitErr     error
	recorded     []recordedTx
}

type recordedTx struct {
	Pool   string
	Amount float64
	Type   string
}

func newMockFunds() *mockFunds {
	return &mockFunds{
		status:       agent.FundsStatus{TotalValueSol: 100, AvailableBalance: 40},
		safe:         true,
		limitAllowed: true,
	}
}

func (m *mockFunds) GetFundsStatus(_ context.Context, _ uuid.UUID, _ string) (*agent.FundsStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	st := m.status
	return &st, nil
}

func (m *mockFunds) CheckTransactionLimit(_ context.Context, _ uuid.UUID, _ float64, _ string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limitAllowed, m.limitErr
}

func (m *mockFunds) UpdateFundsStatus(_ context.Context, _ uuid.UUID, _ agent.FundsStatus) error {
	return nil
}

func (m *mockFunds) CalculateReturns(_ context.Context, _ uuid.UUID) (float64, error) {
	return 1.5, nil
}

func (m *mockFunds) RecordTransaction(_ context.Context, _ uuid.UUID, pool string, amount float64, txType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorded = append(m.recorded, recordedTx{Pool: pool, Amount: amount, Type: txType})
	return nil
}

func (m *mockFunds) GetWalletBalance(_ context.Context, _ string) (float64, error) {
	return 40, nil
}

func (m *mockFunds) CheckFundsSafety(_ context.Context, _ uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.safe, m.safeErr
}

type mockRisk struct {
	mu         sync.Mutex
	assessment agent.RiskAssessment
	err        error
}

func newMockRisk() *mockRisk {
	return &mockRisk{assessment: agent.RiskAssessment{Overall: agent.RiskLow}}
}

func (m *mockRisk) AssessRisk(_ context.Context, _ uuid.UUID) (*agent.RiskAssessment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	a := m.assessment
	return &a, nil
}

type mockPlanner struct {
	mu        sync.Mutex
	plan      *optimizer.Plan
	err       error
	calls     int
	lastState agent.State
}

func (m *mockPlanner) CalculateOptimalPositions(_ context.Context, _ agent.Config, state agent.State,
	_ agent.FundsStatus, _ agent.RiskAssessment) (*optimizer.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastState = state
	if m.err != nil {
		return nil, m.err
	}
	if m.plan == nil {
		return nil, nil
	}
	// copy so the scheduler's action filtering cannot mutate the fixture
	p := *m.plan
	p.Actions = append([]optimizer.Action(nil), m.plan.Actions...)
	return &p, nil
}

type mockExecutor struct {
	mu     sync.Mutex
	result *collab.ExecutionResult
	err    error
	plans  []*optimizer.Plan
}

func newMockExecutor() *mockExecutor {
	return &mockExecutor{result: &collab.ExecutionResult{Success: true}}
}

func (m *mockExecutor) Execute(_ context.Context, plan *optimizer.Plan) (*collab.ExecutionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans = append(m.plans, plan)
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

// --- Fixture ---

type fixture struct {
	sched    *Scheduler
	store    *store.Memory
	funds    *mockFunds
	risk     *mockRisk
	planner  *mockPlanner
	executor *mockExecutor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    store.NewMemory(),
		funds:    newMockFunds(),
		risk:     newMockRisk(),
		planner:  &mockPlanner{},
		executor: newMockExecutor(),
	}
	f.sched = NewScheduler(Config{
		TickInterval:   time.Hour, // ticks are driven manually in tests
		WorkerPoolSize: 4,
		ShutdownGrace:  time.Second,
		Policy: agent.Policy{
			MediumRiskPause:       10 * time.Minute,
			HighRiskPause:         0, // a single high reading pauses immediately
			StateTimeout:          5 * time.Minute,
			RecoveryConfirmWindow: 2 * time.Minute,
			MaxRecoveryAttempts:   3,
			HistoryCapacity:       10,
		},
	}, Deps{
		Store:    f.store,
		Funds:    f.funds,
		Risk:     f.risk,
		Planner:  f.planner,
		Executor: f.executor,
	})
	return f
}

func testAgentConfig() agent.Config {
	return agent.Config{
		ID:                 uuid.New(),
		Wallet:             "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin",
		RiskLevel:          agent.RiskModerate,
		MinPositionSize:    1,
		MaxPositionSize:    25,
		RebalanceThreshold: 0.1,
		PoolTypes:          []string{"dlmm"},
	}
}

func (f *fixture) registration(t *testing.T, agentID uuid.UUID) *registration {
	t.Helper()
	f.sched.mu.Lock()
	defer f.sched.mu.Unlock()
	reg, ok := f.sched.agents[agentID]
	if !ok {
		t.Fatalf("agent %s not registered", agentID)
	}
	return reg
}

// --- Tests ---

func TestRegisterInitializesAndPersists(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	cfg := testAgentConfig()
	m, err := f.sched.Register(ctx, cfg)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if got := m.Status().State; got != agent.StateRunning {
		t.Fatalf("fresh agent should be initialized to running, got %s", got)
	}

	snap, err := f.store.LoadState(ctx, cfg.ID)
	if err != nil || snap == nil {
		t.Fatalf("registration did not persist a snapshot: %v", err)
	}
	if snap.Status.State != agent.StateRunning {
		t.Fatalf("persisted state %s != running", snap.Status.State)
	}
	if snap.Config.Wallet != cfg.Wallet {
		t.Fatal("persisted snapshot missing the agent config")
	}
}

func TestRegisterRejectsInvalidConfig(t *testing.T) {
	f := newFixture(t)
	cfg := testAgentConfig()
	cfg.Wallet = ""
	if _, err := f.sched.Register(context.Background(), cfg); !errors.Is(err, agent.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRegisterIdempotentReplace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	cfg := testAgentConfig()
	if _, err := f.sched.Register(ctx, cfg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := f.sched.Register(ctx, cfg); err != nil {
		t.Fatalf("re-register should replace, not error: %v", err)
	}
	if got := f.sched.Status().AgentCount; got != 1 {
		t.Fatalf("expected 1 registered agent, got %d", got)
	}
}

func TestHealthCheckFaultMovesToRecovering(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cfg := testAgentConfig()
	m, _ := f.sched.Register(ctx, cfg)
	reg := f.registration(t, cfg.ID)

	f.funds.statusErr = errors.New("funds service down")
	if ok := f.sched.performHealthCheck(ctx, cfg.ID, reg); ok {
		t.Fatal("health check should report failure")
	}

	st := m.Status()
	if st.State != agent.StateRecovering {
		t.Fatalf("expected recovering after collaborator failure, got %s", st.State)
	}
	if st.LastError == "" {
		t.Fatal("fault message not recorded")
	}
}

func TestHealthCheckUnsafeFundsFaults(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cfg := testAgentConfig()
	m, _ := f.sched.Register(ctx, cfg)
	reg := f.registration(t, cfg.ID)

	f.funds.safe = false
	f.sched.performHealthCheck(ctx, cfg.ID, reg)
	if got := m.Status().State; got != agent.StateRecovering {
		t.Fatalf("expected recovering after failed safety check, got %s", got)
	}
}

func TestCycleExecutesPlanAndRecordsTransactions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cfg := testAgentConfig()
	m, _ := f.sched.Register(ctx, cfg)
	reg := f.registration(t, cfg.ID)

	f.planner.plan = &optimizer.Plan{
		AgentID:       cfg.ID,
		TotalValueSol: 100,
		Actions: []optimizer.Action{
			{Type: optimizer.ActionAdd, PoolAddress: "pool-a", AmountSol: 25, TargetBins: 12},
		},
		ExpectedHealthImprovement: 0.1,
	}

	f.sched.runCycle(ctx, cfg.ID, reg)

	if len(f.executor.plans) != 1 {
		t.Fatalf("expected 1 executed plan, got %d", len(f.executor.plans))
	}
	if len(f.funds.recorded) != 1 {
		t.Fatalf("expected 1 recorded transaction, got %d", len(f.funds.recorded))
	}
	tx := f.funds.recorded[0]
	if tx.Pool != "pool-a" || tx.Amount != 25 || tx.Type != "add" {
		t.Fatalf("unexpected recorded transaction %+v", tx)
	}
	if got := m.Status().State; got != agent.StateRunning {
		t.Fatalf("agent should stay running after successful plan, got %s", got)
	}
	if got := reg.plans.Load(); got != 1 {
		t.Fatalf("plan counter %d != 1", got)
	}
}

func TestExecutorRejectionFaults(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cfg := testAgentConfig()
	m, _ := f.sched.Register(ctx, cfg)
	reg := f.registration(t, cfg.ID)

	f.planner.plan = &optimizer.Plan{
		AgentID: cfg.ID,
		Actions: []optimizer.Action{{Type: optimizer.ActionRemove, PoolAddress: "pool-a", AmountSol: 10}},
	}
	f.executor.result = &collab.ExecutionResult{Success: false, Message: "slippage too high"}

	f.sched.runCycle(ctx, cfg.ID, reg)

	st := m.Status()
	if st.State != agent.StateRecovering {
		t.Fatalf("expected recovering after execution rejection, got %s", st.State)
	}
	if st.LastError == "" {
		t.Fatal("rejection message not recorded")
	}
}

func TestPlanComputationErrorSkipsOptimization(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cfg := testAgentConfig()
	m, _ := f.sched.Register(ctx, cfg)
	reg := f.registration(t, cfg.ID)

	f.planner.err = errors.New("inconsistent funds")
	f.sched.runCycle(ctx, cfg.ID, reg)

	if len(f.executor.plans) != 0 {
		t.Fatal("executor must not be called when plan computation fails")
	}
	if got := m.Status().State; got != agent.StateRunning {
		t.Fatalf("plan computation failure must not fault the agent, got %s", got)
	}
}

func TestTransactionLimitDropsAdditions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cfg := testAgentConfig()
	f.sched.Register(ctx, cfg)
	reg := f.registration(t, cfg.ID)

	f.planner.plan = &optimizer.Plan{
		AgentID: cfg.ID,
		Actions: []optimizer.Action{{Type: optimizer.ActionAdd, PoolAddress: "pool-a", AmountSol: 25}},
	}
	f.funds.limitAllowed = false

	f.sched.runCycle(ctx, cfg.ID, reg)
	if len(f.executor.plans) != 0 {
		t.Fatal("a plan whose only action was dropped must not reach the executor")
	}
}

func TestHighRiskCyclePausesBeforeOptimization(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cfg := testAgentConfig()
	m, _ := f.sched.Register(ctx, cfg)
	reg := f.registration(t, cfg.ID)

	f.risk.assessment = agent.RiskAssessment{Overall: agent.RiskHigh}
	f.sched.runCycle(ctx, cfg.ID, reg)

	if got := m.Status().State; got != agent.StateWaiting {
		t.Fatalf("expected waiting after high risk, got %s", got)
	}
	// Optimization ran after the transition and therefore saw waiting.
	if f.planner.calls != 1 || f.planner.lastState != agent.StateWaiting {
		t.Fatalf("planner saw state %s after %d calls, expected waiting",
			f.planner.lastState, f.planner.calls)
	}
}

func TestReentrancyGuardSkipsNotQueues(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cfg := testAgentConfig()
	f.sched.Register(ctx, cfg)
	reg := f.registration(t, cfg.ID)
	f.sched.mu.Lock()
	f.sched.state = schedRunning // arm triggers without the tick loop
	f.sched.mu.Unlock()

	reg.busy.Store(true)
	if err := f.sched.TriggerHealthCheck(ctx, cfg.ID); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy while cycle in flight, got %v", err)
	}

	skippedBefore := reg.skipped.Load()
	f.sched.runTick(ctx)
	if got := reg.skipped.Load(); got != skippedBefore+1 {
		t.Fatalf("tick should skip a busy agent: skipped %d -> %d", skippedBefore, got)
	}
	reg.busy.Store(false)
}

func TestTriggerRefusals(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cfg := testAgentConfig()
	f.sched.Register(ctx, cfg)

	// Scheduler not running yet.
	if err := f.sched.TriggerHealthCheck(ctx, cfg.ID); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}

	f.sched.mu.Lock()
	f.sched.state = schedRunning
	f.sched.mu.Unlock()

	if err := f.sched.TriggerOptimization(ctx, uuid.New()); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
	if err := f.sched.TriggerHealthCheck(ctx, cfg.ID); err != nil {
		t.Fatalf("trigger on a running scheduler should succeed: %v", err)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.sched.Start(ctx)
	f.sched.Start(ctx) // no-op
	if st := f.sched.Status(); !st.IsRunning {
		t.Fatalf("expected running scheduler, got %+v", st)
	}

	f.sched.Stop()
	f.sched.Stop() // no-op
	st := f.sched.Status()
	if st.IsRunning || st.State != string(schedStopped) {
		t.Fatalf("expected stopped scheduler, got %+v", st)
	}
}

func TestRestoreResumesPersistedAgents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// A waiting agent persisted by a previous process.
	cfg := testAgentConfig()
	if err := f.store.SaveState(ctx, cfg.ID, agent.Snapshot{
		Config: cfg,
		Status: agent.Status{State: agent.StateWaiting, RecoveryAttempts: 1},
	}); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	if err := f.sched.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	detail, err := f.sched.AgentDetail(cfg.ID)
	if err != nil {
		t.Fatalf("restored agent not registered: %v", err)
	}
	if detail.Status.State != agent.StateWaiting {
		t.Fatalf("restore must keep the persisted state, got %s", detail.Status.State)
	}
	if detail.Status.RecoveryAttempts != 1 {
		t.Fatalf("restore lost the recovery counter: %d", detail.Status.RecoveryAttempts)
	}
}

func TestUnregisterRemovesAgentAndState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cfg := testAgentConfig()
	f.sched.Register(ctx, cfg)

	if err := f.sched.Unregister(ctx, cfg.ID); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if err := f.sched.Unregister(ctx, cfg.ID); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered on second unregister, got %v", err)
	}
	if _, err := f.sched.AgentMetrics(cfg.ID); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("metrics should 404 after unregister, got %v", err)
	}
	if snap, _ := f.store.LoadState(ctx, cfg.ID); snap != nil {
		t.Fatal("persisted state not deleted on unregister")
	}
}

func TestMetricsAggregation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cfg := testAgentConfig()
	f.sched.Register(ctx, cfg)
	reg := f.registration(t, cfg.ID)

	f.planner.plan = &optimizer.Plan{
		AgentID: cfg.ID,
		Actions: []optimizer.Action{{Type: optimizer.ActionRemove, PoolAddress: "pool-a", AmountSol: 10}},
	}
	f.sched.wg.Add(1)
	f.sched.cycleAgent(ctx, cfg.ID, reg)

	agg := f.sched.Metrics()
	if agg.Cycles != 1 || agg.Plans != 1 {
		t.Fatalf("aggregate metrics %+v, expected 1 cycle and 1 plan", agg)
	}
	if agg.AgentsByState[agent.StateRunning] != 1 {
		t.Fatalf("agents by state %+v", agg.AgentsByState)
	}

	per, err := f.sched.AgentMetrics(cfg.ID)
	if err != nil {
		t.Fatalf("agent metrics: %v", err)
	}
	if per.Cycles != 1 || per.Plans != 1 || per.State != agent.StateRunning {
		t.Fatalf("per-agent metrics %+v", per)
	}
	if per.LastCycleAt.IsZero() {
		t.Fatal("last cycle timestamp not set")
	}
}

func TestStoppedAgentStaysVisibleWithLastError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cfg := testAgentConfig()
	m, _ := f.sched.Register(ctx, cfg)

	for i := 0; i < 4; i++ {
		m.SetError(ctx, "rpc timeout")
	}
	if got := m.Status().State; got != agent.StateStopped {
		t.Fatalf("expected stopped, got %s", got)
	}

	per, err := f.sched.AgentMetrics(cfg.ID)
	if err != nil {
		t.Fatalf("stopped agent must stay visible: %v", err)
	}
	if per.State != agent.StateStopped || per.LastError == "" {
		t.Fatalf("stopped agent metrics %+v", per)
	}
}
