package connection

// State is the connection and authentication status of a Manager.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateAuthenticating
	StateAuthenticated
	StateReconnecting

	// StateError is entered after an authentication rejection or once the
	// retry budget is spent. It is not terminal unless no retry is pending.
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
