// Package launcher drives the lifecycle of a single service: it decides
// which transition to request from the observed status, waits for the
// service to settle, optionally watches it until it stops, and runs one
// shared cleanup routine from both the normal and the interrupt path.
package launcher

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// MaxWaitSeconds is the largest interval a time.Duration can hold.
const MaxWaitSeconds int64 = math.MaxInt64 / int64(time.Second)

// Mode selects what a launch does with the service.
type Mode uint8

const (
	ModeStartAndWait Mode = iota // Start if needed, wait for running, optionally watch
	ModeStopOnly                 // Stop if needed and wait for stopped
)

func (m Mode) String() string {
	switch m {
	case ModeStartAndWait:
		return "start-and-wait"
	case ModeStopOnly:
		return "stop"
	default:
		return fmt.Sprintf("Mode(%d)", m)
	}
}

// LaunchConfig is the validated input of one launch. It is never mutated.
type LaunchConfig struct {
	ServiceName string
	Mode        Mode
	// Interval between status checks in the long poll loop. Zero means
	// return as soon as the service is running.
	Interval time.Duration
}

// DecodeConfig builds a LaunchConfig from the command-line values.
//
// A negative waitSeconds selects ModeStopOnly; its magnitude is ignored.
// Zero and positive values select ModeStartAndWait with that interval.
// Note that 0 ("no wait") and any negative value ("stop") differ only by
// sign, which makes the command line easy to misuse.
func DecodeConfig(name string, waitSeconds int) (LaunchConfig, error) {
	if strings.TrimSpace(name) == "" {
		return LaunchConfig{}, ErrMissingServiceName
	}
	if waitSeconds < 0 {
		return LaunchConfig{ServiceName: name, Mode: ModeStopOnly}, nil
	}
	if int64(waitSeconds) > MaxWaitSeconds {
		return LaunchConfig{}, fmt.Errorf("%w: %d exceeds %d seconds", ErrInvalidWaitTime, waitSeconds, MaxWaitSeconds)
	}
	return LaunchConfig{
		ServiceName: name,
		Mode:        ModeStartAndWait,
		Interval:    time.Duration(waitSeconds) * time.Second,
	}, nil
}

// StopsOnExit reports whether this launch is responsible for stopping the
// service it started once the launcher exits.
func (c LaunchConfig) StopsOnExit() bool {
	return c.Mode == ModeStartAndWait && c.Interval > 0
}
