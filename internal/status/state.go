package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/perch-im/perch/internal/bus"
)

// State represents the client's connectivity to the remote backend.
type State string

const (
	Starting     State = "STARTING"
	SignedOut    State = "SIGNED_OUT"
	Connecting   State = "CONNECTING"
	Syncing      State = "SYNCING"
	Online       State = "ONLINE"
	Reconnecting State = "RECONNECTING"
	Degraded     State = "DEGRADED"
	Error        State = "ERROR"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Starting:     {SignedOut, Connecting, Error},
	SignedOut:    {Connecting, Error},
	Connecting:   {Syncing, SignedOut, Reconnecting, Error},
	Syncing:      {Online, Reconnecting, Degraded, SignedOut, Error},
	Online:       {Reconnecting, Degraded, SignedOut, Error},
	Reconnecting: {Connecting, Syncing, Degraded, SignedOut, Error},
	Degraded:     {Connecting, Reconnecting, Online, SignedOut, Error},
	Error:        {Starting, Connecting, SignedOut},
}

// Machine tracks and enforces connectivity state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Starting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Starting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is
// invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindStatusChanged,
			Timestamp: time.Now(),
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
