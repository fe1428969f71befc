package bootstrap

// State is a bootstrap machine state.
type State int

// Bootstrap states in the order they are normally visited.
const (
	Uninitialized State = iota
	WaitingDependencies
	WaitingDOM
	Creating
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "UNINITIALIZED"
	case WaitingDependencies:
		return "WAITING_DEPENDENCIES"
	case WaitingDOM:
		return "WAITING_DOM"
	case Creating:
		return "CREATING"
	case Ready:
		return "READY"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// allowedTransitions lists the states reachable from each state. A failed
// guard or a construction error sends the machine back to
// WaitingDependencies for the next attempt.
var allowedTransitions = map[State][]State{
	Uninitialized:       {WaitingDependencies},
	WaitingDependencies: {WaitingDependencies, WaitingDOM, Failed},
	WaitingDOM:          {WaitingDependencies, Creating, Failed},
	Creating:            {WaitingDependencies, Ready, Failed},
	Ready:               {},
	Failed:              {},
}

// CanTransition reports whether the machine may move from one state to another.
func CanTransition(from, to State) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return len(allowedTransitions[s]) == 0
}
