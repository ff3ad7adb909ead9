package coordinator

import "fmt"

// State is the lifecycle state of a coordinator
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateJoining
	StateOperational
	StateReconnecting
	StateShuttingDown
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateJoining:
		return "joining"
	case StateOperational:
		return "operational"
	case StateReconnecting:
		return "reconnecting"
	case StateShuttingDown:
		return "shutting-down"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MarshalText encodes the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
