package auth

// State is the client's view of the session lifecycle.
type State int

const (
	// StateUnauthenticated means no session is held.
	StateUnauthenticated State = iota
	// StatePendingValidation means a persisted session was found and has not
	// been checked against the server yet.
	StatePendingValidation
	// StateAuthenticated means the session was issued or confirmed by the server.
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StatePendingValidation:
		return "pending_validation"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}
