package session

import "fmt"

// State is where a Controller is in its analysis lifecycle.
type State int

const (
	StateIdle State = iota
	StateAwaitingAuth
	StateSubmitting
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingAuth:
		return "awaiting_auth"
	case StateSubmitting:
		return "submitting"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// busy reports whether a request is in flight.
func (s State) busy() bool {
	return s == StateAwaitingAuth || s == StateSubmitting
}
