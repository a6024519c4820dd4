package launcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/sunlightlinux/slaunch/pkg/logging"
	"github.com/sunlightlinux/slaunch/pkg/metrics"
	"github.com/sunlightlinux/slaunch/pkg/service"
)

// DefaultPollInterval is the delay between status checks while waiting for
// a transition.
const DefaultPollInterval = 250 * time.Millisecond

var errNotYet = errors.New("target state not reached yet")

// Waiter polls a handle until it reports a target state.
type Waiter struct {
	// PollInterval between status checks. Zero means DefaultPollInterval.
	PollInterval time.Duration
	// Timeout bounds each wait. Zero waits forever, which is the
	// historical behaviour.
	Timeout time.Duration

	log     *zap.SugaredLogger
	metrics *metrics.Recorder
}

// NewWaiter creates a Waiter.
func NewWaiter(pollInterval, timeout time.Duration, logger *zap.Logger, m *metrics.Recorder) *Waiter {
	return &Waiter{
		PollInterval: pollInterval,
		Timeout:      timeout,
		log:          logging.For(logger, logging.ComponentWaiter),
		metrics:      m,
	}
}

func (w *Waiter) interval() time.Duration {
	if w.PollInterval <= 0 {
		return DefaultPollInterval
	}
	return w.PollInterval
}

// WaitFor blocks until h reports target. It returns the last observed state.
//
// The wait ends early with ErrInterrupted when ctx is done, with
// ErrWaitAbandoned when Timeout elapses, and with the backend error when a
// status query fails. It never requests a transition.
func (w *Waiter) WaitFor(ctx context.Context, h service.Handle, target service.State) (service.State, error) {
	log := w.log
	if log == nil {
		log = logging.For(nil, logging.ComponentWaiter)
	}

	waitCtx, cancel := ctx, context.CancelFunc(func() {})
	if w.Timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, w.Timeout)
	}
	defer cancel()

	start := time.Now()
	last := service.StateUnknown

	op := func() error {
		st, err := h.Status(waitCtx)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("querying status of %s: %w", h.Name(), err))
		}
		last = st
		w.metrics.StatusObserved(st)
		if st != target {
			return errNotYet
		}
		return nil
	}
	notify := func(_ error, next time.Duration) {
		log.Debugw("Waiting for service state",
			"service", h.Name(), "target", target.String(), "current", last.String(),
			"transient", last.IsTransient(), "next_poll", next)
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(w.interval()), waitCtx)
	err := backoff.RetryNotify(op, b, notify)

	switch {
	case err == nil:
		w.metrics.WaitObserved(target, "reached", time.Since(start))
		log.Debugw("Service reached state", "service", h.Name(), "state", target.String(), "elapsed", time.Since(start))
		return last, nil
	case ctx.Err() != nil:
		w.metrics.WaitObserved(target, "interrupted", time.Since(start))
		return last, fmt.Errorf("%w: waiting for %s to reach %s: %w", ErrInterrupted, h.Name(), target, ctx.Err())
	case waitCtx.Err() != nil:
		w.metrics.WaitObserved(target, "abandoned", time.Since(start))
		log.Warnw("Gave up waiting for service state",
			"service", h.Name(), "target", target.String(), "current", last.String(),
			"settled", last.IsFinal(), "timeout", w.Timeout)
		return last, fmt.Errorf("%w: %s still %s after %s", ErrWaitAbandoned, h.Name(), last, w.Timeout)
	default:
		w.metrics.WaitObserved(target, "error", time.Since(start))
		return last, err
	}
}
