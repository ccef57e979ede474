// Package status tracks the connection state of the linked WhatsApp device
// used by the direct channel.
package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/echovault/internal/bus"
)

// State is the link state of the direct WhatsApp channel.
type State string

const (
	Booting      State = "BOOTING"
	Disabled     State = "DISABLED"
	AuthRequired State = "AUTH_REQUIRED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Reconnecting State = "RECONNECTING"
	Error        State = "ERROR"
)

var validTransitions = map[State][]State{
	Booting:      {Disabled, AuthRequired, Connecting, Error},
	AuthRequired: {Connecting, Error},
	Connecting:   {Connected, AuthRequired, Reconnecting, Error},
	Connected:    {Reconnecting, AuthRequired, Error},
	Reconnecting: {Connecting, Connected, Error},
	Error:        {Booting},
}

// Machine tracks and enforces link state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid link transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Publish(bus.NewEvent(bus.KindLinkStatusChanged, StatusChange{From: from, To: to}))
	return nil
}

// StatusChange is the payload for link status events.
type StatusChange struct {
	From State `json:"from"`
	To   State `json:"to"`
}
