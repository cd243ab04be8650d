package session

import (
	"fmt"
	"slices"
	"sync"
)

// State represents a protocol session state.
type State string

const (
	Initializing State = "INITIALIZING"
	PendingQR    State = "PENDING_QR"
	Connected    State = "CONNECTED"
	Disconnected State = "DISCONNECTED"
	LoggedOut    State = "LOGGED_OUT"
)

// validTransitions defines allowed state transitions. LOGGED_OUT is terminal:
// leaving it requires a fresh credential bootstrap, not a transition.
var validTransitions = map[State][]State{
	Initializing: {PendingQR, Connected, Disconnected, LoggedOut},
	PendingQR:    {Connected, Disconnected, LoggedOut},
	Connected:    {Disconnected, LoggedOut},
	Disconnected: {Initializing, LoggedOut},
	LoggedOut:    {},
}

// Machine tracks and enforces session state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
}

// NewMachine creates a new state machine starting in INITIALIZING.
func NewMachine() *Machine {
	return &Machine{current: Initializing}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns an error if the
// transition is not allowed.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	m.current = to
	return nil
}
