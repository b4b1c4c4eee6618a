package call

import (
	"fmt"
	"slices"
)

// State is the call lifecycle state. Exactly one call may be non-idle
// at a time.
type State string

const (
	StateIdle      State = "IDLE"
	StateOutgoing  State = "OUTGOING"
	StateRinging   State = "RINGING"
	StateAnswered  State = "ANSWERED"
	StateConnected State = "CONNECTED"
	StateEnded     State = "ENDED"
	StateRejected  State = "REJECTED"
	StateFailed    State = "FAILED"
)

// validTransitions defines the allowed lifecycle moves. Terminal states
// return to idle so the next call can start.
var validTransitions = map[State][]State{
	StateIdle:      {StateOutgoing, StateRinging},
	StateOutgoing:  {StateConnected, StateEnded, StateRejected, StateFailed},
	StateRinging:   {StateAnswered, StateEnded, StateRejected, StateFailed},
	StateAnswered:  {StateConnected, StateEnded, StateRejected, StateFailed},
	StateConnected: {StateEnded, StateRejected, StateFailed},
	StateEnded:     {StateIdle},
	StateRejected:  {StateIdle},
	StateFailed:    {StateIdle},
}

// Terminal reports whether the state ends the call.
func (s State) Terminal() bool {
	return s == StateEnded || s == StateRejected || s == StateFailed
}

func checkTransition(from, to State) error {
	if !slices.Contains(validTransitions[from], to) {
		return fmt.Errorf("invalid call transition from %s to %s", from, to)
	}
	return nil
}
