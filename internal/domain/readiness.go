// Package domain is the façade that exposes the engine's tool operations,
// validates arguments, enforces the readiness state machine, and routes
// calls to the Persistence/Temporal/Semantic/Episodic/Migration components.
package domain

import (
	"sync"

	"github.com/cortexmem/cortexmem/pkg/types"
)

// State is a stage in the domain manager's two-stage readiness lifecycle.
type State string

const (
	StateStarting       State = "starting"
	StateTransportReady State = "transport_ready"
	StateWarming        State = "warming"
	StateReady          State = "ready"
	StateDraining       State = "draining"
	StateStopped        State = "stopped"
	StateFailed         State = "failed"
)

// readinessGraph enumerates the legal forward transitions; failed is
// reachable from any non-terminal state and is handled separately.
var readinessGraph = map[State][]State{
	StateStarting:       {StateTransportReady},
	StateTransportReady: {StateWarming},
	StateWarming:        {StateReady},
	StateReady:          {StateDraining},
	StateDraining:       {StateStopped},
}

func isTerminal(s State) bool { return s == StateStopped || s == StateFailed }

// Readiness tracks the domain manager's lifecycle state under a mutex; tool
// dispatch consults it before routing any call.
type Readiness struct {
	mu    sync.RWMutex
	state State
}

func NewReadiness() *Readiness {
	return &Readiness{state: StateStarting}
}

func (r *Readiness) Current() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Advance moves to `to` if it is a legal next state in the graph and reports
// whether it did. An illegal target, or any call from a terminal state,
// returns false and leaves the state unchanged.
func (r *Readiness) Advance(to State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if isTerminal(r.state) {
		return false
	}
	for _, next := range readinessGraph[r.state] {
		if next == to {
			r.state = to
			return true
		}
	}
	return false
}

// Fail transitions unconditionally to failed from any non-terminal state.
func (r *Readiness) Fail() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !isTerminal(r.state) {
		r.state = StateFailed
	}
}

// CheckCallable returns a sentinel error if a tool call should be rejected
// given the current readiness state, or nil if dispatch may proceed.
func (r *Readiness) CheckCallable() error {
	switch r.Current() {
	case StateStarting, StateTransportReady, StateWarming:
		return types.ErrInitializing
	case StateDraining:
		return types.ErrDraining
	case StateFailed, StateStopped:
		return types.ErrInternal
	default:
		return nil
	}
}
