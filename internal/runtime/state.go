package runtime

import "fmt"

// State is a runtime's lifecycle state.
type State string

const (
	StateUnregistered State = "unregistered"
	StateRegistering  State = "registering"
	StateActive       State = "active"
	StateShuttingDown State = "shutting_down"
	StateStopped      State = "stopped"
)

// transitions lists the states reachable from each state. Stopped is terminal.
var transitions = map[State][]State{
	StateUnregistered: {StateRegistering, StateShuttingDown},
	StateRegistering:  {StateActive, StateShuttingDown},
	StateActive:       {StateShuttingDown},
	StateShuttingDown: {StateStopped},
	StateStopped:      {},
}

// canTransition reports whether from -> to is a legal transition.
func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// transition moves the runtime to a new state, rejecting illegal moves.
func (r *Runtime) transition(to State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !canTransition(r.state, to) {
		return fmt.Errorf("illegal state transition %s -> %s", r.state, to)
	}
	r.logger.Info("state change", "from", r.state, "to", to)
	r.state = to
	return nil
}
