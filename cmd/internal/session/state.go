package session

// State is a step of the session state machine.
type State int

const (
	StateConnected State = iota
	StateAuthenticating
	StateAuthenticated
	StateProcessingVectors
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateProcessingVectors:
		return "processing_vectors"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CanTransition reports whether from -> to is an edge of the state machine.
// Any live state may move to Closed; Closed is terminal.
func CanTransition(from, to State) bool {
	if from == StateClosed {
		return false
	}
	if to == StateClosed {
		return true
	}
	switch from {
	case StateConnected:
		return to == StateAuthenticating
	case StateAuthenticating:
		return to == StateAuthenticated
	case StateAuthenticated:
		return to == StateProcessingVectors
	}
	return false
}
