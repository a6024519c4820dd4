package eventloop

import (
	"context"
	"time"
)

// PollTimer wraps a time.Timer for the long poll loop.
// It is re-armed on every tick so a select on the context can preempt it.
type PollTimer struct {
	timer *time.Timer
}

// NewPollTimer creates a new (disarmed) timer.
func NewPollTimer() *PollTimer {
	return &PollTimer{}
}

// Arm starts the timer with the given duration.
// If already armed, it is stopped and re-armed.
func (t *PollTimer) Arm(d time.Duration) {
	t.Stop()
	t.timer = time.NewTimer(d)
}

// Stop disarms the timer.
func (t *PollTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// Chan returns the timer channel, or nil if not armed.
func (t *PollTimer) Chan() <-chan time.Time {
	if t.timer != nil {
		return t.timer.C
	}
	return nil
}

// Wait blocks until the armed timer fires or ctx is done.
// The timer is disarmed on return.
func (t *PollTimer) Wait(ctx context.Context) error {
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.Chan():
		return nil
	}
}

// Sleep pauses for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	t := NewPollTimer()
	t.Arm(d)
	return t.Wait(ctx)
}
