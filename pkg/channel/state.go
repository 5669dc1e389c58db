package channel

// State is the lifecycle of the push channel for one project.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateClosed       State = "closed"
)

func (s State) String() string {
	return string(s)
}

// GetIcon returns the status-line icon for the state
func (s State) GetIcon() string {
	switch s {
	case StateConnecting:
		return "…"
	case StateOpen:
		return "●"
	case StateClosed:
		return "○"
	default:
		return ""
	}
}

// GetDisplayName returns a human-readable name for the state
func (s State) GetDisplayName() string {
	switch s {
	case StateDisconnected:
		return "Offline"
	case StateConnecting:
		return "Connecting"
	case StateOpen:
		return "Live"
	case StateClosed:
		return "Closed"
	default:
		return ""
	}
}
