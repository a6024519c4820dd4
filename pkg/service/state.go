// Package service defines the status model of a managed OS service and the
// handle contracts every backend (slinit control socket, systemd) implements.
package service

import "fmt"

// State represents the observed status of a service.
// The first four values match the slinit control protocol encoding.
type State uint8

const (
	StateStopped  State = iota // Service is not running
	StateStarting              // Service is starting
	StateRunning               // Service is running
	StateStopping              // Service is stopping
	StateUnknown               // Backend reported a status we cannot classify
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateUnknown:
		return "UNKNOWN"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

// IsFinal returns true if this is a settled state (STOPPED or RUNNING).
func (s State) IsFinal() bool {
	return s == StateStopped || s == StateRunning
}

// IsTransient returns true while the service is moving between final states.
func (s State) IsTransient() bool {
	return s == StateStarting || s == StateStopping
}
