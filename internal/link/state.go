package link

// State is the link worker lifecycle state.
type State int32

const (
	Idle State = iota
	Connecting
	Connected
	Closing
	Closed
)

var stateNames = [...]string{"idle", "connecting", "connected", "closing", "closed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// transitions lists the legal successors of each state.
var transitions = map[State][]State{
	Idle:       {Connecting, Closed},
	Connecting: {Connected, Closing, Closed},
	Connected:  {Closing},
	Closing:    {Closed},
}

// CanTransition reports whether the worker may move from s to next.
func (s State) CanTransition(next State) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == Closed }
