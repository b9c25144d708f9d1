package spatial

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// WorkerState is the lifecycle state of the pump worker
type WorkerState int

const (
	// StateIdle indicates the worker is created but Run has not been called yet
	StateIdle WorkerState = iota
	// StateDisconnected indicates the worker is trying to connect to the renderer
	StateDisconnected
	// StateConnected indicates a stream is bound but no cycle has run yet
	StateConnected
	// StatePumping indicates the worker is waiting on the quantum clock and pumping
	StatePumping
	// StateStopped indicates the worker has exited for good
	StateStopped
)

// String returns a human-readable name for the worker state
func (s WorkerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StatePumping:
		return "pumping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// StateTransition records a transition between worker states
type StateTransition struct {
	From      WorkerState `json:"from"`
	To        WorkerState `json:"to"`
	Timestamp time.Time   `json:"timestamp"`
	Reason    string      `json:"reason"`
}

// MarshalText lets states appear by name in JSON status output.
func (s WorkerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var validStateTransitions = map[WorkerState][]WorkerState{
	StateIdle:         {StateDisconnected, StateStopped},
	StateDisconnected: {StateConnected, StateStopped},
	StateConnected:    {StatePumping, StateDisconnected, StateStopped},
	StatePumping:      {StateDisconnected, StateStopped},
	StateStopped:      {},
}

// isValidTransition checks if a state transition is allowed
func isValidTransition(from, to WorkerState) bool {
	if from == to {
		return true
	}

	allowed, exists := validStateTransitions[from]
	if !exists {
		return false
	}

	return slices.Contains(allowed, to)
}

// stateMachine holds the worker state and a bounded transition history.
type stateMachine struct {
	mu      sync.RWMutex
	state   WorkerState
	history []StateTransition
}

// transition moves to `to` and reports whether the state changed. Invalid
// transitions and transitions out of StateStopped are refused.
func (m *stateMachine) transition(to WorkerState, reason string) (StateTransition, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.state
	if from == to || !isValidTransition(from, to) {
		return StateTransition{}, false
	}

	m.state = to
	t := StateTransition{From: from, To: to, Timestamp: time.Now(), Reason: reason}
	m.history = append(m.history, t)
	if len(m.history) > maxStateHistory {
		m.history = m.history[len(m.history)-maxStateHistory:]
	}
	return t, true
}

func (m *stateMachine) current() WorkerState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *stateMachine) recent() []StateTransition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.history)
}
