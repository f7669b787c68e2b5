package connmgr

import "time"

// State is the connectivity state. Exactly one is active at a time and it
// only changes inside Tick.
type State int32

const (
	Idle State = iota
	Connecting
	Connected
	Portal
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Portal:
		return "portal"
	default:
		return "unknown"
	}
}

// RetryPolicy bounds how long the manager stays in Connecting before it
// falls back to Portal.
type RetryPolicy struct {
	MaxAttempts int
	RetryDelay  time.Duration
}

// DefaultRetryPolicy gives up after 20 windows of 3 seconds
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 20,
		RetryDelay:  3 * time.Second,
	}
}
