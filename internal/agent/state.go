package agent

// State is the lifecycle state of a liquidity agent.
type State string

// Agent lifecycle states.
const (
	StateIdle       State = "idle"       // registered, not yet funded
	StateRunning    State = "running"    // actively deploying and rebalancing
	StateWaiting    State = "waiting"    // degraded: risk elevated, new deployments paused
	StateRecovering State = "recovering" // transient error, retrying
	StateStopped    State = "stopped"    // terminal: no further action
	StateError      State = "error"      // terminal: unrecoverable
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateError
}

// Active reports whether the agent participates in optimization cycles.
func (s State) Active() bool {
	return s == StateRunning || s == StateWaiting
}

// Event is a requested lifecycle transition.
type Event string

// Lifecycle events.
const (
	EventInitialize    Event = "initialize"     // idle → running, once funded
	EventPause         Event = "pause"          // operator pause: running → waiting
	EventResume        Event = "resume"         // waiting → running, risk cleared or operator resume
	EventRiskElevated  Event = "risk_elevated"  // sustained risk: running/recovering → waiting
	EventFault         Event = "fault"          // running/waiting → recovering
	EventRecovered     Event = "recovered"      // recovering → running
	EventStop          Event = "stop"           // any non-terminal → stopped
	EventEmergencyExit Event = "emergency_exit" // operator bail-out: any non-terminal → stopped
	EventFatal         Event = "fatal"          // any non-terminal → error
)

// transitions is the explicit transition table. A (state, event) pair absent
// from the table is invalid and is rejected by the machine.
var transitions = map[State]map[Event]State{
	StateIdle: {
		EventInitialize:    StateRunning,
		EventStop:          StateStopped,
		EventEmergencyExit: StateStopped,
		EventFatal:         StateError,
	},
	StateRunning: {
		EventPause:         StateWaiting,
		EventRiskElevated:  StateWaiting,
		EventFault:         StateRecovering,
		EventStop:          StateStopped,
		EventEmergencyExit: StateStopped,
		EventFatal:         StateError,
	},
	StateWaiting: {
		EventResume:        StateRunning,
		EventFault:         StateRecovering,
		EventStop:          StateStopped,
		EventEmergencyExit: StateStopped,
		EventFatal:         StateError,
	},
	StateRecovering: {
		EventRecovered:     StateRunning,
		EventRiskElevated:  StateWaiting,
		EventStop:          StateStopped,
		EventEmergencyExit: StateStopped,
		EventFatal:         StateError,
	},
	StateStopped: {},
	StateError:   {},
}

// IsValidTransition returns the target state for applying ev in from,
// and whether the transition is allowed at all.
func IsValidTransition(from State, ev Event) (State, bool) {
	next, ok := transitions[from][ev]
	return next, ok
}
