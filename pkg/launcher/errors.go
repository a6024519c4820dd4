package launcher

import (
	"errors"
	"os"
	"syscall"

	"github.com/sunlightlinux/slaunch/pkg/service"
)

var (
	// ErrMissingServiceName is returned when no service name was given.
	ErrMissingServiceName = errors.New("service name missing")
	// ErrInvalidWaitTime is returned when the wait argument is not an integer.
	ErrInvalidWaitTime = errors.New("invalid wait time")
	// ErrNotRunning is returned when the service did not reach RUNNING after a start.
	ErrNotRunning = errors.New("service did not reach running state")
	// ErrWaitAbandoned is returned when a bounded wait timed out.
	ErrWaitAbandoned = errors.New("wait for service state abandoned")
	// ErrInterrupted is returned when a wait was cut short by an interrupt.
	ErrInterrupted = errors.New("interrupted")
)

// Process exit codes.
const (
	ExitOK              = 0
	ExitMissingName     = -1
	ExitInvalidWaitTime = -2
	ExitNotRunning      = -3
	ExitServiceNotFound = -4
	ExitFailure         = -5
)

// ExitCode maps a launch result to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrMissingServiceName):
		return ExitMissingName
	case errors.Is(err, ErrInvalidWaitTime):
		return ExitInvalidWaitTime
	case errors.Is(err, ErrNotRunning):
		return ExitNotRunning
	case errors.Is(err, service.ErrServiceNotFound):
		return ExitServiceNotFound
	default:
		return ExitFailure
	}
}

// SignalExitCode returns the numeric value of sig, used as the exit code
// after an interrupted launch.
func SignalExitCode(sig os.Signal) int {
	if s, ok := sig.(syscall.Signal); ok {
		return int(s)
	}
	return ExitFailure
}
