package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/campuschat/internal/bus"
)

// State represents the transport session state.
type State string

const (
	Disconnected  State = "DISCONNECTED"
	Connecting    State = "CONNECTING"
	Connected     State = "CONNECTED"
	Authenticated State = "AUTHENTICATED"
)

// validTransitions defines allowed state transitions. Authenticated is only
// reachable through Connected; Disconnected is reachable from every other state.
var validTransitions = map[State][]State{
	Disconnected:  {Connecting},
	Connecting:    {Connected, Disconnected},
	Connected:     {Authenticated, Disconnected},
	Authenticated: {Disconnected},
}

// Session is a point-in-time copy of the transport session.
type Session struct {
	State      State
	UserID     *int64
	RetryCount int
}

// Authenticated reports whether application frames may be sent.
func (s Session) Authenticated() bool {
	return s.State == Authenticated
}

// Machine tracks and enforces session state transitions. It is owned by the
// connection manager; other components only read snapshots.
type Machine struct {
	mu      sync.RWMutex
	current State
	userID  *int64
	retries int
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Disconnected state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Disconnected,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Snapshot returns a copy of the whole session.
func (m *Machine) Snapshot() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Session{State: m.current, RetryCount: m.retries}
	if m.userID != nil {
		id := *m.userID
		s.UserID = &id
	}
	return s
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(to)
}

// BeginAttempt moves to Connecting and clears the identity of the previous
// connection. The retry count is preserved.
func (m *Machine) BeginAttempt() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.transitionLocked(Connecting); err != nil {
		return err
	}
	m.userID = nil
	return nil
}

// Authenticate records the server-confirmed user id, moves to Authenticated
// and resets the retry count.
func (m *Machine) Authenticate(userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.transitionLocked(Authenticated); err != nil {
		return err
	}
	m.userID = &userID
	m.retries = 0
	return nil
}

// Drop moves to Disconnected. It reports false when already disconnected.
func (m *Machine) Drop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == Disconnected {
		return false
	}
	_ = m.transitionLocked(Disconnected)
	m.userID = nil
	return true
}

// NextRetry increments the retry count and returns the new attempt number.
// ok is false, and the count untouched, once max attempts have been made.
func (m *Machine) NextRetry(max int) (attempt int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.retries >= max {
		return m.retries, false
	}
	m.retries++
	return m.retries, true
}

// ResetRetries zeroes the retry count.
func (m *Machine) ResetRetries() {
	m.mu.Lock()
	m.retries = 0
	m.mu.Unlock()
}

func (m *Machine) transitionLocked(to State) error {
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Emit(bus.ConnStatusChanged, StatusChange{From: from, To: to})
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
