package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Machine owns one agent's lifecycle. All transitions go through the explicit
// transition table; every successful transition is persisted before listeners
// see it, so an observer never sees an unpersisted state.
//
// The scheduler's per-agent reentrancy guard ensures at most one cycle touches
// a machine at a time, but listeners are registered from the Control API
// concurrently with cycles, so the machine carries its own mutex anyway.
type Machine struct {
	cfg     Config
	policy  Policy
	persist StatePersistence

	mu           sync.Mutex
	status       Status
	stateHistory *ring[StateChangeRecord]
	riskHistory  *ring[RiskHistoryRecord]

	// sustained-risk episode tracking
	mediumSince time.Time
	highSince   time.Time

	// set on clearError; recovery attempts reset once stable past the
	// confirmation window
	clearedAt time.Time

	listeners  map[int]StateChangeListener
	listenerID int

	persistFailures atomic.Uint64

	now func() time.Time // injectable clock for tests
}

// NewMachine creates a machine in StateIdle for the given configuration.
func NewMachine(cfg Config, persist StatePersistence, policy Policy) *Machine {
	now := time.Now
	return &Machine{
		cfg:     cfg,
		policy:  policy,
		persist: persist,
		status: Status{
			State:     StateIdle,
			EnteredAt: now(),
		},
		stateHistory: newRing[StateChangeRecord](policy.HistoryCapacity),
		riskHistory:  newRing[RiskHistoryRecord](policy.HistoryCapacity),
		listeners:    make(map[int]StateChangeListener),
		now:          now,
	}
}

// Restore loads the persisted status, if any, so a restarted process resumes
// mid-flight instead of re-initializing. When no record exists the initial
// idle snapshot is written so the agent is discoverable on the next restart.
func (m *Machine) Restore(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, err := m.persist.LoadState(ctx, m.cfg.ID)
	if err != nil {
		return err
	}
	if snap == nil {
		m.persistLocked(ctx)
		return nil
	}
	m.status = snap.Status
	slog.Info("agent: state restored",
		slog.String("agent_id", m.cfg.ID.String()),
		slog.String("state", string(m.status.State)),
		slog.Int("recovery_attempts", m.status.RecoveryAttempts),
	)
	return nil
}

// Config returns the immutable agent configuration.
func (m *Machine) Config() Config { return m.cfg }

// Status returns a copy of the current runtime status.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.status
	if m.status.Funds != nil {
		funds := *m.status.Funds
		st.Funds = &funds
	}
	return st
}

// Initialize moves the agent from idle to running. It is a logged no-op from
// any other state.
func (m *Machine) Initialize(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyLocked(ctx, EventInitialize)
}

// HandleEvent applies a generic lifecycle event (manual pause/resume,
// emergency exit, ...). Invalid transitions are rejected, logged, and
// reported as ErrInvalidTransition; they are never silently applied.
func (m *Machine) HandleEvent(ctx context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.applyLocked(ctx, ev) {
		return fmt.Errorf("%w: event %s in state %s", ErrInvalidTransition, ev, m.status.State)
	}
	return nil
}

// UpdateFunds replaces the stored funds snapshot. It does not change state
// but feeds subsequent risk and optimization decisions.
func (m *Machine) UpdateFunds(ctx context.Context, funds FundsStatus) {
	if funds.AvailableBalance > funds.TotalValueSol {
		slog.Warn("agent: funds snapshot inconsistent, clamping available balance",
			slog.String("agent_id", m.cfg.ID.String()),
			slog.Float64("available", funds.AvailableBalance),
			slog.Float64("total", funds.TotalValueSol),
		)
		funds.AvailableBalance = funds.TotalValueSol
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.Funds = &funds
	m.persistLocked(ctx)
}

// HandleRiskAssessment appends to the risk history and tracks how long
// medium/high risk has been sustained. Sustained medium risk pauses a running
// agent; sustained high risk forces waiting even out of recovery. Risk
// dropping back to low clears both timers and resumes a waiting agent.
func (m *Machine) HandleRiskAssessment(ctx context.Context, assessment RiskAssessment) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.riskHistory.Append(RiskHistoryRecord{Assessment: assessment, At: now})

	switch assessment.Overall {
	case RiskLow:
		m.mediumSince = time.Time{}
		m.highSince = time.Time{}
		if m.status.State == StateWaiting {
			m.applyLocked(ctx, EventResume)
		}

	case RiskMedium:
		m.highSince = time.Time{}
		if m.mediumSince.IsZero() {
			m.mediumSince = now
		}
		if now.Sub(m.mediumSince) >= m.policy.MediumRiskPause && m.status.State == StateRunning {
			m.applyLocked(ctx, EventRiskElevated)
		}

	case RiskHigh:
		if m.mediumSince.IsZero() {
			m.mediumSince = now
		}
		if m.highSince.IsZero() {
			m.highSince = now
		}
		if now.Sub(m.highSince) >= m.policy.HighRiskPause &&
			(m.status.State == StateRunning || m.status.State == StateRecovering) {
			m.applyLocked(ctx, EventRiskElevated)
		}
	}
}

// LastRiskAssessment returns the most recent assessment, or nil.
func (m *Machine) LastRiskAssessment() *RiskAssessment {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.riskHistory.Last()
	if !ok {
		return nil
	}
	a := rec.Assessment
	return &a
}

// SetError records a fault and moves the agent into recovery. Repeated faults
// while already recovering burn recovery attempts; once the attempts are
// exhausted the agent is force-stopped so capital stops moving.
func (m *Machine) SetError(ctx context.Context, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status.State.Terminal() {
		slog.Warn("agent: error on terminal agent ignored",
			slog.String("agent_id", m.cfg.ID.String()),
			slog.String("state", string(m.status.State)),
			slog.String("error", msg),
		)
		return
	}

	m.status.LastError = msg
	m.clearedAt = time.Time{}

	if m.status.State == StateRecovering {
		if m.status.RecoveryAttempts >= m.policy.MaxRecoveryAttempts {
			m.exhaustLocked(ctx, msg)
			return
		}
		m.status.RecoveryAttempts++
		m.persistLocked(ctx)
		return
	}

	if m.status.RecoveryAttempts >= m.policy.MaxRecoveryAttempts {
		m.exhaustLocked(ctx, msg)
		return
	}
	m.status.RecoveryAttempts++
	if !m.applyLocked(ctx, EventFault) {
		// No fault transition from this state (idle). The bookkeeping still
		// has to reach the store so the snapshot matches Status().
		m.persistLocked(ctx)
	}
}

// exhaustLocked force-stops an agent whose recovery attempts are spent.
// Caller must hold m.mu.
func (m *Machine) exhaustLocked(ctx context.Context, msg string) {
	m.status.LastError = ErrRecoveryExhausted.Error()
	if msg != "" {
		m.status.LastError = fmt.Sprintf("%s: %s", ErrRecoveryExhausted, msg)
	}
	slog.Error("agent: recovery exhausted, stopping",
		slog.String("agent_id", m.cfg.ID.String()),
		slog.Int("attempts", m.status.RecoveryAttempts),
	)
	m.applyLocked(ctx, EventStop)
}

// ClearError moves a recovering agent back to running. The recovery counter
// is reset later by PeriodicCheck, once the agent has stayed stable past the
// confirmation window. Returns false when the agent is not recovering.
func (m *Machine) ClearError(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status.State != StateRecovering {
		return false
	}
	m.status.LastError = ""
	if !m.applyLocked(ctx, EventRecovered) {
		return false
	}
	m.clearedAt = m.now()
	return true
}

// PeriodicCheck runs every scheduler tick regardless of external input.
// It forces a retry when the agent has dwelt in recovery past the state
// timeout, stops the agent once recovery attempts are exhausted, and resets
// the recovery counter after a confirmed stable return to running.
func (m *Machine) PeriodicCheck(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	switch m.status.State {
	case StateRecovering:
		if m.status.RecoveryAttempts >= m.policy.MaxRecoveryAttempts {
			m.exhaustLocked(ctx, m.status.LastError)
			return
		}
		if now.Sub(m.status.EnteredAt) >= m.policy.StateTimeout {
			m.status.RecoveryAttempts++
			slog.Warn("agent: recovery state timeout, forcing retry",
				slog.String("agent_id", m.cfg.ID.String()),
				slog.Int("attempts", m.status.RecoveryAttempts),
			)
			if m.applyLocked(ctx, EventRecovered) {
				m.clearedAt = now
			}
		}

	case StateRunning:
		if m.status.RecoveryAttempts > 0 && !m.clearedAt.IsZero() &&
			now.Sub(m.clearedAt) >= m.policy.RecoveryConfirmWindow {
			m.status.RecoveryAttempts = 0
			m.clearedAt = time.Time{}
			m.persistLocked(ctx)
		}
	}
}

// AddStateChangeListener registers an observer and returns a handle for removal.
func (m *Machine) AddStateChangeListener(l StateChangeListener) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listenerID++
	m.listeners[m.listenerID] = l
	return m.listenerID
}

// RemoveStateChangeListener removes a previously registered observer.
func (m *Machine) RemoveStateChangeListener(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.listeners, id)
}

// StateHistory returns the bounded transition history, oldest first.
func (m *Machine) StateHistory() []StateChangeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateHistory.Snapshot()
}

// RiskHistory returns the bounded risk history, oldest first.
func (m *Machine) RiskHistory() []RiskHistoryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.riskHistory.Snapshot()
}

// PersistFailures returns how many persistence writes have failed. A missed
// write never blocks an in-memory transition; the counter surfaces backend
// trouble to metrics.
func (m *Machine) PersistFailures() uint64 {
	return m.persistFailures.Load()
}

// applyLocked validates and applies ev, persists the new status, appends the
// history record, and notifies listeners. Caller must hold m.mu.
func (m *Machine) applyLocked(ctx context.Context, ev Event) bool {
	from := m.status.State
	next, ok := IsValidTransition(from, ev)
	if !ok {
		slog.Warn("agent: transition rejected",
			slog.String("agent_id", m.cfg.ID.String()),
			slog.String("state", string(from)),
			slog.String("event", string(ev)),
		)
		return false
	}

	at := m.now()
	m.status.State = next
	m.status.EnteredAt = at
	m.stateHistory.Append(StateChangeRecord{State: next, At: at})
	m.persistLocked(ctx)

	slog.Info("agent: state transition",
		slog.String("agent_id", m.cfg.ID.String()),
		slog.String("from", string(from)),
		slog.String("to", string(next)),
		slog.String("event", string(ev)),
	)

	for _, l := range m.listeners {
		l(m.cfg.ID, from, next, at)
	}
	return true
}

// persistLocked writes the snapshot, favoring availability over durability:
// a failed write is logged and counted but the in-memory change stands.
func (m *Machine) persistLocked(ctx context.Context) {
	snap := Snapshot{Config: m.cfg, Status: m.status}
	if err := m.persist.SaveState(ctx, m.cfg.ID, snap); err != nil {
		m.persistFailures.Add(1)
		slog.Warn("agent: persist state failed",
			slog.String("agent_id", m.cfg.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}
