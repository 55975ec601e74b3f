package pipeline

import (
	"sync"

	"github.com/ajitpratap0/healthetl/pkg/etlerrors"
)

// State is the lifecycle state of an Engine run.
type State int32

const (
	StateIdle State = iota
	StateExtracting
	StateGrouping
	StateLoading
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateIdle:       "idle",
	StateExtracting: "extracting",
	StateGrouping:   "grouping",
	StateLoading:    "loading",
	StateDone:       "done",
	StateFailed:     "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// next lists the forward transitions. Failed is reachable from every
// non-terminal state and is handled separately.
var next = map[State]State{
	StateIdle:       StateExtracting,
	StateExtracting: StateGrouping,
	StateGrouping:   StateLoading,
	StateLoading:    StateDone,
}

type stateMachine struct {
	mu    sync.Mutex
	state State
}

func (m *stateMachine) current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *stateMachine) transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if to == StateFailed && !m.state.Terminal() {
		m.state = to
		return nil
	}
	if n, ok := next[m.state]; ok && n == to {
		m.state = to
		return nil
	}
	return etlerrors.Newf(etlerrors.ErrorTypeInternal, "invalid state transition %s -> %s", m.state, to)
}
