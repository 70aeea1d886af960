package agent

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"pgregory.net/rapid"
)

// machineOp is one randomized action applied to a machine under test.
type machineOp string

const (
	opInitialize machineOp = "initialize"
	opPause      machineOp = "pause"
	opResume     machineOp = "resume"
	opStop       machineOp = "stop"
	opEmergency  machineOp = "emergency_exit"
	opFault      machineOp = "fault"
	opClear      machineOp = "clear"
	opTick       machineOp = "tick"
	opRiskLow    machineOp = "risk_low"
	opRiskMedium machineOp = "risk_medium"
	opRiskHigh   machineOp = "risk_high"
)

func genMachineOp() *rapid.Generator[machineOp] {
	return rapid.SampledFrom([]machineOp{
		opInitialize, opPause, opResume, opStop, opEmergency,
		opFault, opClear, opTick, opRiskLow, opRiskMedium, opRiskHigh,
	})
}

func applyOp(ctx context.Context, m *Machine, op machineOp) {
	switch op {
	case opInitialize:
		m.Initialize(ctx)
	case opPause:
		m.HandleEvent(ctx, EventPause)
	case opResume:
		m.HandleEvent(ctx, EventResume)
	case opStop:
		m.HandleEvent(ctx, EventStop)
	case opEmergency:
		m.HandleEvent(ctx, EventEmergencyExit)
	case opFault:
		m.SetError(ctx, "injected fault")
	case opClear:
		m.ClearError(ctx)
	case opTick:
		m.PeriodicCheck(ctx)
	case opRiskLow:
		m.HandleRiskAssessment(ctx, RiskAssessment{Overall: RiskLow})
	case opRiskMedium:
		m.HandleRiskAssessment(ctx, RiskAssessment{Overall: RiskMedium})
	case opRiskHigh:
		m.HandleRiskAssessment(ctx, RiskAssessment{Overall: RiskHigh})
	}
}

// For any sequence of operations, the machine only ever reaches states via
// the transition table, terminal states are absorbing, recovery attempts stay
// within the configured maximum, and the persisted snapshot always agrees
// with the in-memory status.
func TestPropertyMachineInvariants(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		persist := newMockPersistence()
		policy := testPolicy()
		m := NewMachine(testConfig(), persist, policy)
		clock := newFakeClock()
		m.now = clock.Now

		var listened []State
		m.AddStateChangeListener(func(_ uuid.UUID, from, to State, _ time.Time) {
			if from.Terminal() {
				rt.Fatalf("transition out of terminal state %s", from)
			}
			listened = append(listened, to)
		})

		sawTerminal := false
		var terminalState State

		n := rapid.IntRange(1, 60).Draw(rt, "ops")
		for i := 0; i < n; i++ {
			op := genMachineOp().Draw(rt, "op")
			clock.Advance(time.Duration(rapid.IntRange(0, 360).Draw(rt, "advance_sec")) * time.Second)
			applyOp(ctx, m, op)

			st := m.Status()
			switch st.State {
			case StateIdle, StateRunning, StateWaiting, StateRecovering, StateStopped, StateError:
			default:
				rt.Fatalf("unknown state %q", st.State)
			}

			if st.RecoveryAttempts > policy.MaxRecoveryAttempts {
				rt.Fatalf("recovery attempts %d exceed maximum %d", st.RecoveryAttempts, policy.MaxRecoveryAttempts)
			}

			if sawTerminal && st.State != terminalState {
				rt.Fatalf("terminal state %s left for %s", terminalState, st.State)
			}
			if st.State.Terminal() {
				sawTerminal = true
				terminalState = st.State
			}

			// Persist-then-observe: the stored snapshot matches what an
			// observer reads now.
			if snap, ok := persist.stored(m.Config().ID); ok {
				if snap.Status.State != st.State {
					rt.Fatalf("persisted state %s != observed state %s", snap.Status.State, st.State)
				}
				if snap.Status.RecoveryAttempts != st.RecoveryAttempts {
					rt.Fatalf("persisted attempts %d != observed %d",
						snap.Status.RecoveryAttempts, st.RecoveryAttempts)
				}
			}
		}

		// Listeners saw exactly the recorded transitions, in order. The ring
		// keeps the newest records, so compare against the listener tail.
		history := m.StateHistory()
		if len(history) > len(listened) {
			rt.Fatalf("history has %d records but listeners saw %d transitions", len(history), len(listened))
		}
		tail := listened[len(listened)-len(history):]
		for i, rec := range history {
			if rec.State != tail[i] {
				rt.Fatalf("history[%d]=%s but listener saw %s", i, rec.State, tail[i])
			}
		}
	})
}

// Every entry in the transition table targets a defined state, and terminal
// states admit no outgoing transitions.
func TestPropertyTransitionTableClosed(t *testing.T) {
	states := []State{StateIdle, StateRunning, StateWaiting, StateRecovering, StateStopped, StateError}
	events := []Event{
		EventInitialize, EventPause, EventResume, EventRiskElevated,
		EventFault, EventRecovered, EventStop, EventEmergencyExit, EventFatal,
	}

	defined := make(map[State]bool, len(states))
	for _, s := range states {
		defined[s] = true
	}

	for _, s := range states {
		for _, ev := range events {
			next, ok := IsValidTransition(s, ev)
			if !ok {
				continue
			}
			if !defined[next] {
				t.Fatalf("transition %s+%s targets undefined state %q", s, ev, next)
			}
			if s.Terminal() {
				t.Fatalf("terminal state %s has outgoing transition on %s", s, ev)
			}
		}
	}
}
