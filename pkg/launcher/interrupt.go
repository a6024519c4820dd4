package launcher

import (
	"context"
	"fmt"
	"io"
	"os"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/sunlightlinux/slaunch/pkg/eventloop"
	"github.com/sunlightlinux/slaunch/pkg/logging"
	"github.com/sunlightlinux/slaunch/pkg/metrics"
)

// Coordinator handles operator interrupts for a launch. The signal watcher
// only cancels the launch context; the cleanup itself runs on the caller's
// goroutine once the orchestrator has returned, so the handle is never used
// from two goroutines.
type Coordinator struct {
	launcher *Launcher
	watcher  *eventloop.Watcher
	out      io.Writer
	log      *zap.SugaredLogger
	metrics  *metrics.Recorder
}

// NewCoordinator creates a Coordinator cleaning up through l. Repeated
// signals delivered by w abandon a cleanup in progress.
func NewCoordinator(l *Launcher, w *eventloop.Watcher, logger *zap.Logger, m *metrics.Recorder) *Coordinator {
	return &Coordinator{
		launcher: l,
		watcher:  w,
		out:      l.out,
		log:      logging.For(logger, logging.ComponentInterrupt),
		metrics:  m,
	}
}

// Interrupted reports whether a signal has been received.
func (c *Coordinator) Interrupted() bool {
	return c.watcher != nil && c.watcher.Signal() != nil
}

// Signal returns the first signal received, or nil.
func (c *Coordinator) Signal() os.Signal {
	if c.watcher == nil {
		return nil
	}
	return c.watcher.Signal()
}

// OnInterrupt reports sig, runs the shared cleanup and returns the exit
// code derived from the signal. A further signal during the cleanup
// abandons the wait for the service to stop.
func (c *Coordinator) OnInterrupt(sig os.Signal) int {
	code := SignalExitCode(sig)
	c.metrics.Interrupted()
	fmt.Fprintf(c.out, "Interrupt signal (%d) received.\n", code)
	c.log.Warnw("Interrupt received", "signal", signalName(sig), "code", code,
		"phase", c.launcher.Phase(), "holds_handle", c.launcher.cell.Peek() != nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if c.watcher != nil {
		go func() {
			select {
			case sig := <-c.watcher.Later():
				c.log.Warnw("Repeated interrupt, abandoning cleanup", "signal", signalName(sig))
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	c.launcher.phase.fire(EventInterrupt)
	if err := c.launcher.Cleanup(ctx); err != nil {
		c.log.Errorw("Cleanup after interrupt failed", "error", err)
	}
	return code
}

func signalName(sig os.Signal) string {
	if s, ok := sig.(syscall.Signal); ok {
		if name := unix.SignalName(s); name != "" {
			return name
		}
	}
	if sig == nil {
		return ""
	}
	return sig.String()
}
