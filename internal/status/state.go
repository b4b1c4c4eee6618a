package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/lvieira/chime/internal/bus"
)

// State represents the connection state of one transport channel.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Reconnecting State = "RECONNECTING"
	Failed       State = "FAILED"
)

// validTransitions defines allowed state transitions. Reconnection itself is
// a caller concern; Reconnecting exists so a caller-driven retry is legal.
var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Failed, Disconnected},
	Connected:    {Disconnected, Reconnecting, Failed},
	Reconnecting: {Connecting, Disconnected, Failed},
	Failed:       {Connecting, Disconnected},
}

// Machine tracks and enforces connection state transitions for one channel.
type Machine struct {
	mu      sync.RWMutex
	channel string
	current State
	bus     *bus.Bus
}

// NewMachine creates a state machine for the named channel, starting Disconnected.
func NewMachine(channel string, b *bus.Bus) *Machine {
	return &Machine{
		channel: channel,
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

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s on channel %s", m.current, to, m.channel)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Emit(bus.KindTransportStatus, StatusChange{
			Channel: m.channel,
			From:    from,
			To:      to,
		})
	}
	return nil
}

// StatusChange is the payload for transport status change events.
type StatusChange struct {
	Channel string
	From    State
	To      State
}
