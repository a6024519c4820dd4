package launcher

import (
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunlightlinux/slaunch/pkg/service"
)

func TestDecodeConfig(t *testing.T) {
	tests := []struct {
		name     string
		svc      string
		wait     int
		wantMode Mode
		wantIvl  time.Duration
		wantErr  error
	}{
		{"start and return", "web", 0, ModeStartAndWait, 0, nil},
		{"start and watch", "web", 5, ModeStartAndWait, 5 * time.Second, nil},
		{"stop mode", "web", -1, ModeStopOnly, 0, nil},
		{"stop mode ignores magnitude", "web", -30, ModeStopOnly, 0, nil},
		{"missing name", "", 5, 0, 0, ErrMissingServiceName},
		{"blank name", "   ", 5, 0, 0, ErrMissingServiceName},
		{"largest interval", "web", int(MaxWaitSeconds), ModeStartAndWait, time.Duration(MaxWaitSeconds) * time.Second, nil},
		{"interval overflows duration", "web", int(MaxWaitSeconds) + 1, 0, 0, ErrInvalidWaitTime},
		{"huge interval", "web", 10000000000, 0, 0, ErrInvalidWaitTime},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := DecodeConfig(tt.svc, tt.wait)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.svc, cfg.ServiceName)
			assert.Equal(t, tt.wantMode, cfg.Mode)
			assert.Equal(t, tt.wantIvl, cfg.Interval)
		})
	}
}

func TestStopsOnExit(t *testing.T) {
	assert.True(t, LaunchConfig{Mode: ModeStartAndWait, Interval: time.Second}.StopsOnExit())
	assert.False(t, LaunchConfig{Mode: ModeStartAndWait}.StopsOnExit())
	assert.False(t, LaunchConfig{Mode: ModeStopOnly, Interval: time.Second}.StopsOnExit())
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "start-and-wait", ModeStartAndWait.String())
	assert.Equal(t, "stop", ModeStopOnly.String())
	assert.Equal(t, "Mode(9)", Mode(9).String())
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{ErrMissingServiceName, -1},
		{fmt.Errorf("parsing: %w", ErrInvalidWaitTime), -2},
		{fmt.Errorf("%w: web is STARTING", ErrNotRunning), -3},
		{fmt.Errorf("resolving: %w", service.ErrServiceNotFound), -4},
		{errors.New("connection refused"), -5},
		{ErrWaitAbandoned, -5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExitCode(tt.err), "%v", tt.err)
	}
}

func TestSignalExitCode(t *testing.T) {
	assert.Equal(t, 2, SignalExitCode(syscall.SIGINT))
	assert.Equal(t, 15, SignalExitCode(syscall.SIGTERM))
	assert.Equal(t, ExitFailure, SignalExitCode(nil))
}

func TestActiveCellTakeOnce(t *testing.T) {
	cell := NewActiveCell()
	assert.Nil(t, cell.Take())

	a := &Active{Handle: service.NewMockHandle("web", service.StateRunning)}
	cell.Publish(a)
	assert.Same(t, a, cell.Peek())
	assert.Same(t, a, cell.Take())
	assert.Nil(t, cell.Take())
	assert.False(t, cell.Release(a))
}

func TestActiveCellRelease(t *testing.T) {
	cell := NewActiveCell()
	a := &Active{}
	b := &Active{}
	cell.Publish(a)

	assert.False(t, cell.Release(b))
	assert.Same(t, a, cell.Peek())
	assert.True(t, cell.Release(a))
	assert.Nil(t, cell.Peek())
}
