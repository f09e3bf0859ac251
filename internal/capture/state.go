package capture

import (
	"fmt"
	"sync/atomic"
)

// State is the lifecycle state of a Session
type State int32

// Session states. Failed is reachable from any state.
const (
	StateAwaitingOpen State = iota
	StateOpened
	StateRunning
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitingOpen:
		return "awaiting_open"
	case StateOpened:
		return "opened"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Terminal reports whether no further transitions are possible
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

type stateMachine struct {
	v atomic.Int32
}

func (m *stateMachine) load() State {
	return State(m.v.Load())
}

// advance moves to next unless the current state is terminal
func (m *stateMachine) advance(next State) bool {
	for {
		cur := m.v.Load()
		if State(cur).Terminal() {
			return false
		}
		if m.v.CompareAndSwap(cur, int32(next)) {
			return true
		}
	}
}
