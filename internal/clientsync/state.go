package clientsync

// State is the lifecycle of the engine's one logical connection.
type State int

const (
	// StateIdle means no connect request has been made yet.
	StateIdle State = iota
	// StateConnecting covers an in-flight handshake attempt.
	StateConnecting
	// StateSynced means the first snapshot after open has been applied
	// and the remote store is authoritative.
	StateSynced
	// StateDegraded means the connection was lost transiently and the
	// reconnection policy is (or is about to be) retrying.
	StateDegraded
	// StateClosed is absorbing: either the session was rejected or the
	// retry budget was exhausted. Only a fresh explicit Connect leaves
	// it.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateSynced:
		return "synced"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
