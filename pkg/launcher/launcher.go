package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sunlightlinux/slaunch/pkg/eventloop"
	"github.com/sunlightlinux/slaunch/pkg/logging"
	"github.com/sunlightlinux/slaunch/pkg/metrics"
	"github.com/sunlightlinux/slaunch/pkg/service"
)

// Options configures a Launcher.
type Options struct {
	// Output receives the operator status lines. Defaults to os.Stdout.
	Output io.Writer
	// Logger receives diagnostic logs. Defaults to a no-op logger.
	Logger *zap.Logger
	// Metrics may be nil.
	Metrics *metrics.Recorder
	// Cell is the slot shared with the interrupt path. Created if nil.
	Cell *ActiveCell
	// PollInterval and WaitTimeout configure the status waiter.
	PollInterval time.Duration
	WaitTimeout  time.Duration
}

// Launcher is the lifecycle orchestrator of one launch.
type Launcher struct {
	provider service.Provider
	waiter   *Waiter
	cell     *ActiveCell
	out      io.Writer
	log      *zap.SugaredLogger
	metrics  *metrics.Recorder
	phase    *phaseTracker

	// Long poll loop bookkeeping, reported by Cleanup.
	ticks   atomic.Int64
	elapsed atomic.Int64
}

// New creates a Launcher resolving services through provider.
func New(provider service.Provider, opts Options) *Launcher {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Cell == nil {
		opts.Cell = NewActiveCell()
	}
	log := logging.For(opts.Logger, logging.ComponentLauncher)
	return &Launcher{
		provider: provider,
		waiter:   NewWaiter(opts.PollInterval, opts.WaitTimeout, opts.Logger, opts.Metrics),
		cell:     opts.Cell,
		out:      opts.Output,
		log:      log,
		metrics:  opts.Metrics,
		phase:    newPhaseTracker(log),
	}
}

// Cell returns the slot shared with the interrupt path.
func (l *Launcher) Cell() *ActiveCell {
	return l.cell
}

// Phase returns the current launch phase.
func (l *Launcher) Phase() string {
	return l.phase.Current()
}

// Ticks returns how many long-poll intervals have elapsed.
func (l *Launcher) Ticks() int64 {
	return l.ticks.Load()
}

func (l *Launcher) say(format string, args ...interface{}) {
	fmt.Fprintf(l.out, format+"\n", args...)
}

// Run executes the launch selected by cfg.Mode.
func (l *Launcher) Run(ctx context.Context, cfg LaunchConfig) error {
	var err error
	switch cfg.Mode {
	case ModeStopOnly:
		err = l.LaunchAndStop(ctx, cfg)
	default:
		err = l.LaunchAndWait(ctx, cfg)
	}
	switch {
	case err == nil:
		l.phase.fire(EventFinish)
	case errors.Is(err, ErrInterrupted):
		l.phase.fire(EventInterrupt)
	default:
		l.phase.fire(EventFail)
	}
	return err
}

// open resolves the handle and prints its status.
func (l *Launcher) open(ctx context.Context, cfg LaunchConfig) (service.Handle, service.State, error) {
	h, err := l.provider.Open(ctx, cfg.ServiceName)
	if err != nil {
		if errors.Is(err, service.ErrServiceNotFound) {
			l.say("Service [%s] was not found.", cfg.ServiceName)
		}
		return nil, service.StateUnknown, fmt.Errorf("resolving service %s: %w", cfg.ServiceName, err)
	}
	st, err := h.Status(ctx)
	if err != nil {
		h.Close()
		return nil, service.StateUnknown, fmt.Errorf("querying status of %s: %w", cfg.ServiceName, err)
	}
	l.metrics.StatusObserved(st)
	l.phase.fire(EventResolve)
	l.say("Service [%s] Status: %s", cfg.ServiceName, st)
	l.log.Infow("Service resolved", "service", cfg.ServiceName, "state", st.String(), "mode", cfg.Mode.String())
	return h, st, nil
}

// release closes h when the launch returns, unless it is still published
// for the interrupt path to clean up.
func (l *Launcher) release(h service.Handle, active *Active, err error) {
	if active == nil {
		h.Close()
		return
	}
	if errors.Is(err, ErrInterrupted) {
		return
	}
	if l.cell.Release(active) {
		h.Close()
	}
}

// LaunchAndWait starts the service if it is stopped, waits until it is
// running and, when cfg.Interval is positive, watches it until it stops.
func (l *Launcher) LaunchAndWait(ctx context.Context, cfg LaunchConfig) (err error) {
	h, st, err := l.open(ctx, cfg)
	if err != nil {
		return err
	}
	var active *Active
	defer func() { l.release(h, active, err) }()

	if st == service.StateStopping {
		// Never request a start while the service is still moving.
		l.log.Infow("Service is stopping, waiting before start", "service", cfg.ServiceName)
		if st, err = l.waiter.WaitFor(ctx, h, service.StateStopped); err != nil {
			return err
		}
	}

	if st == service.StateStopped {
		active = &Active{Handle: h, Config: cfg}
		l.cell.Publish(active)
		if err = h.Start(ctx); err != nil {
			return fmt.Errorf("starting %s: %w", cfg.ServiceName, err)
		}
		l.metrics.TransitionRequested("start")
		l.phase.fire(EventStart)
		l.say("Service [%s] is starting...", cfg.ServiceName)
	}

	st, err = l.waiter.WaitFor(ctx, h, service.StateRunning)
	if err != nil && !errors.Is(err, ErrWaitAbandoned) {
		return err
	}
	if st != service.StateRunning {
		l.say("Service [%s] isn't running.", cfg.ServiceName)
		return fmt.Errorf("%w: %s is %s", ErrNotRunning, cfg.ServiceName, st)
	}
	l.phase.fire(EventRunning)
	l.log.Infow("Service is running", "service", cfg.ServiceName)

	if cfg.Interval <= 0 {
		return nil
	}

	l.say("The launcher will wait until Service [%s] stops.", cfg.ServiceName)
	l.phase.fire(EventMonitor)
	if err = l.watch(ctx, h, cfg); err != nil {
		return err
	}
	return l.Cleanup(ctx)
}

// watch is the long poll loop: it checks the status every cfg.Interval
// until the service is no longer running.
func (l *Launcher) watch(ctx context.Context, h service.Handle, cfg LaunchConfig) error {
	for {
		if err := eventloop.Sleep(ctx, cfg.Interval); err != nil {
			return fmt.Errorf("%w: watching %s: %w", ErrInterrupted, cfg.ServiceName, err)
		}
		l.ticks.Add(1)
		l.elapsed.Add(int64(cfg.Interval))

		st, err := h.Status(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: watching %s: %w", ErrInterrupted, cfg.ServiceName, ctx.Err())
			}
			return fmt.Errorf("querying status of %s: %w", cfg.ServiceName, err)
		}
		l.metrics.StatusObserved(st)
		if st != service.StateRunning {
			l.log.Infow("Service left running state", "service", cfg.ServiceName, "state", st.String(), "polls", l.ticks.Load())
			return nil
		}
	}
}

// LaunchAndStop stops the service if it is not stopped and waits until it is.
func (l *Launcher) LaunchAndStop(ctx context.Context, cfg LaunchConfig) (err error) {
	h, st, err := l.open(ctx, cfg)
	if err != nil {
		return err
	}
	var active *Active
	defer func() { l.release(h, active, err) }()

	if st == service.StateStopped {
		return nil
	}

	active = &Active{Handle: h, Config: cfg}
	l.cell.Publish(active)
	if st != service.StateStopping {
		if err = h.Stop(ctx); err != nil {
			return fmt.Errorf("stopping %s: %w", cfg.ServiceName, err)
		}
		l.metrics.TransitionRequested("stop")
	}
	l.phase.fire(EventStop)
	l.say("Service [%s] is stopping...", cfg.ServiceName)

	if _, err = l.waiter.WaitFor(ctx, h, service.StateStopped); err != nil {
		return err
	}
	l.log.Infow("Service stopped", "service", cfg.ServiceName)
	return nil
}

// Cleanup is the exit routine shared by the end of the long poll loop and
// the interrupt path.
//
// It reports the time spent watching, then takes the published handle out
// of the cell. If this launch started the service and is responsible for
// stopping it, a running service is asked to stop and a stopping one is
// waited for. Because the cell is cleared before acting, a second call
// never issues another stop.
func (l *Launcher) Cleanup(ctx context.Context) error {
	if ticks := l.ticks.Swap(0); ticks > 0 {
		elapsed := time.Duration(l.elapsed.Swap(0))
		l.say("The launcher waits %d second(s).", int64(elapsed/time.Second))
		l.log.Debugw("Long poll finished", "polls", ticks, "elapsed", elapsed)
	}

	active := l.cell.Take()
	if active == nil {
		return nil
	}
	h, cfg := active.Handle, active.Config
	defer h.Close()

	st, err := h.Status(ctx)
	if err != nil {
		return fmt.Errorf("querying status of %s: %w", cfg.ServiceName, err)
	}
	l.metrics.StatusObserved(st)

	if !cfg.StopsOnExit() || (st != service.StateRunning && st != service.StateStopping) {
		l.log.Debugw("Nothing to stop", "service", cfg.ServiceName, "state", st.String(), "mode", cfg.Mode.String())
		return nil
	}

	l.phase.fire(EventCleanup)
	if st == service.StateRunning {
		if err := h.Stop(ctx); err != nil {
			return fmt.Errorf("stopping %s: %w", cfg.ServiceName, err)
		}
		l.metrics.TransitionRequested("stop")
	}
	l.say("Service [%s] is stopping...", cfg.ServiceName)

	if _, err := l.waiter.WaitFor(ctx, h, service.StateStopped); err != nil {
		return err
	}
	l.log.Infow("Service stopped", "service", cfg.ServiceName)
	return nil
}
