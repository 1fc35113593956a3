package session

// State represents per-account connection health. It is owned
// exclusively by the account's worker; other components observe
// transitions through status events.
type State string

const (
	StateConnected    State = "connected"
	StateDegraded     State = "degraded"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)
