package process

// State is the phase of one chat exchange as shown on the status line.
type State string

const (
	// StateIdle indicates nothing is in flight for the project
	StateIdle State = ""

	// StateComposing indicates the user is typing a turn
	StateComposing State = "composing"

	// StateSent indicates the turn went out and the placeholder is pending
	StateSent State = "sent"

	// StateRevealing indicates a resolved reply is being typed out
	StateRevealing State = "revealing"

	// StateResolved indicates the last exchange finished successfully
	StateResolved State = "resolved"

	// StateFailed indicates the last exchange errored and can be retried
	StateFailed State = "failed"
)

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// Busy reports whether input for the project should be held back.
func (s State) Busy() bool {
	return s == StateSent
}

// CanTransition reports whether an exchange may move from s to next.
// Resolved and failed are terminal for a placeholder, except that a failed
// exchange may be sent again.
func (s State) CanTransition(next State) bool {
	switch s {
	case StateIdle, StateComposing, StateResolved:
		return next == StateComposing || next == StateSent
	case StateSent:
		return next == StateResolved || next == StateFailed || next == StateRevealing
	case StateRevealing:
		return next == StateResolved
	case StateFailed:
		return next == StateSent || next == StateComposing
	default:
		return false
	}
}

// GetIcon returns the appropriate icon for a given process state
func (s State) GetIcon() string {
	switch s {
	case StateComposing:
		return "✎"
	case StateSent:
		return "↑"
	case StateRevealing:
		return "↓"
	case StateResolved:
		return "✓"
	case StateFailed:
		return "✗"
	default:
		return ""
	}
}

// GetDisplayName returns a human-readable name for the state
func (s State) GetDisplayName() string {
	switch s {
	case StateComposing:
		return "Composing"
	case StateSent:
		return "Thinking"
	case StateRevealing:
		return "Replying"
	case StateResolved:
		return "Done"
	case StateFailed:
		return "Failed"
	case StateIdle:
		return "Idle"
	default:
		return ""
	}
}
