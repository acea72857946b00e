package session

// State is the session lifecycle state.
type State int

const (
	StateOffline State = iota
	StateConnecting
	StateRunning
	StateClosing
	StateClosed
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateOffline:
		return "offline"
	case StateConnecting:
		return "connecting"
	case StateRunning:
		return "running"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// StateChange is delivered to StateChanged listeners on every transition.
type StateChange struct {
	From State
	To   State
}

// Identity is the node identity assigned by the handshake. SessionID survives
// disconnects so the next handshake can ask for resumption.
type Identity struct {
	SessionID    string `json:"sessionid,omitempty"`
	NodeID       string `json:"nodeid,omitempty"`
	MasterNodeID string `json:"master_nodeid,omitempty"`
	Restored     bool   `json:"restored"`
}
