package launcher

import (
	"bytes"
	"context"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunlightlinux/slaunch/pkg/eventloop"
	"github.com/sunlightlinux/slaunch/pkg/metrics"
	"github.com/sunlightlinux/slaunch/pkg/service"
)

// syncBuffer is a bytes.Buffer safe for the concurrent writes of the
// interrupt tests.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestLauncher(h *service.MockHandle, timeout time.Duration) (*Launcher, *service.MockProvider, *syncBuffer) {
	out := &syncBuffer{}
	provider := service.NewMockProvider(h)
	l := New(provider, Options{
		Output:       out,
		Metrics:      metrics.New(h.Name()),
		PollInterval: time.Millisecond,
		WaitTimeout:  timeout,
	})
	return l, provider, out
}

func startConfig(interval time.Duration) LaunchConfig {
	return LaunchConfig{ServiceName: "web", Mode: ModeStartAndWait, Interval: interval}
}

func TestLaunchAndWaitStartsStoppedService(t *testing.T) {
	h := service.NewMockHandle("web", service.StateStopped)
	l, _, out := newTestLauncher(h, 0)

	err := l.Run(context.Background(), startConfig(0))
	require.NoError(t, err)

	starts, stops, _ := h.Counts()
	assert.Equal(t, 1, starts)
	assert.Zero(t, stops)
	assert.Equal(t, service.StateRunning, h.State())
	assert.Contains(t, out.String(), "Service [web] Status: STOPPED")
	assert.Contains(t, out.String(), "Service [web] is starting...")
	assert.NotContains(t, out.String(), "will wait")
	assert.Nil(t, l.Cell().Peek())
	assert.True(t, h.Closed())
	assert.Equal(t, PhaseDone, l.Phase())
}

func TestLaunchAndWaitDoesNotRestartRunningService(t *testing.T) {
	h := service.NewMockHandle("web", service.StateRunning)
	l, _, out := newTestLauncher(h, 0)

	require.NoError(t, l.Run(context.Background(), startConfig(0)))

	starts, _, _ := h.Counts()
	assert.Zero(t, starts)
	assert.NotContains(t, out.String(), "is starting")
}

func TestLaunchAndWaitDoesNotDoubleStart(t *testing.T) {
	h := service.NewMockHandle("web", service.StateStarting)
	h.Script(service.StateStarting, service.StateStarting, service.StateRunning)
	l, _, _ := newTestLauncher(h, 0)

	require.NoError(t, l.Run(context.Background(), startConfig(0)))

	starts, _, _ := h.Counts()
	assert.Zero(t, starts)
	assert.Nil(t, l.Cell().Peek())
}

func TestLaunchAndWaitWaitsOutStopping(t *testing.T) {
	h := service.NewMockHandle("web", service.StateStopping)
	h.Script(service.StateStopping, service.StateStopping, service.StateStopped)
	l, _, _ := newTestLauncher(h, 0)

	require.NoError(t, l.Run(context.Background(), startConfig(0)))

	starts, _, _ := h.Counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, service.StateRunning, h.State())
}

func TestLaunchAndWaitNeverRunning(t *testing.T) {
	h := service.NewMockHandle("web", service.StateStopped)
	h.StartSequence = []service.State{service.StateStarting}
	l, _, out := newTestLauncher(h, 30*time.Millisecond)

	err := l.Run(context.Background(), startConfig(0))
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.Equal(t, ExitNotRunning, ExitCode(err))
	assert.Contains(t, out.String(), "Service [web] isn't running.")
	assert.Equal(t, PhaseFailed, l.Phase())
	assert.Nil(t, l.Cell().Peek())
	assert.True(t, h.Closed())
}

func TestLaunchServiceNotFound(t *testing.T) {
	h := service.NewMockHandle("web", service.StateStopped)
	l, provider, _ := newTestLauncher(h, 0)

	err := l.Run(context.Background(), LaunchConfig{ServiceName: "db", Mode: ModeStartAndWait})
	assert.ErrorIs(t, err, service.ErrServiceNotFound)
	assert.Equal(t, ExitServiceNotFound, ExitCode(err))
	assert.Equal(t, 1, provider.Opens())

	starts, stops, statuses := h.Counts()
	assert.Zero(t, starts)
	assert.Zero(t, stops)
	assert.Zero(t, statuses)
}

func TestLaunchAndWaitStartError(t *testing.T) {
	h := service.NewMockHandle("web", service.StateStopped)
	h.StartError = assert.AnError
	l, _, _ := newTestLauncher(h, 0)

	err := l.Run(context.Background(), startConfig(0))
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, ExitFailure, ExitCode(err))
	assert.Nil(t, l.Cell().Peek())
}

func TestLaunchAndWaitWatchesUntilServiceStops(t *testing.T) {
	h := service.NewMockHandle("web", service.StateStopped)
	// Starts, keeps running for a few polls, then winds down on its own.
	h.StartSequence = []service.State{
		service.StateStarting, service.StateRunning,
		service.StateRunning, service.StateRunning,
		service.StateStopping, service.StateStopping, service.StateStopped,
	}
	l, _, out := newTestLauncher(h, 0)

	err := l.Run(context.Background(), startConfig(5*time.Millisecond))
	require.NoError(t, err)

	starts, stops, _ := h.Counts()
	assert.Equal(t, 1, starts)
	assert.Zero(t, stops, "a service stopping on its own is only waited for")
	assert.Equal(t, service.StateStopped, h.State())

	text := out.String()
	assert.Contains(t, text, "Service [web] is starting...")
	assert.Contains(t, text, "The launcher will wait until Service [web] stops.")
	assert.Contains(t, text, "The launcher waits 0 second(s).")
	assert.Contains(t, text, "Service [web] is stopping...")
	assert.Zero(t, l.Ticks(), "counter is reset once reported")
	assert.True(t, h.Closed())
	assert.Equal(t, PhaseDone, l.Phase())
}

func TestLaunchAndWaitWatchStopsWhenServiceAlreadyGone(t *testing.T) {
	h := service.NewMockHandle("web", service.StateRunning)
	h.Script(service.StateRunning, service.StateRunning, service.StateStopped)
	l, _, out := newTestLauncher(h, 0)

	require.NoError(t, l.Run(context.Background(), startConfig(time.Millisecond)))

	starts, stops, _ := h.Counts()
	assert.Zero(t, starts)
	assert.Zero(t, stops)
	assert.NotContains(t, out.String(), "is stopping")
}

func TestLaunchAndStop(t *testing.T) {
	h := service.NewMockHandle("web", service.StateRunning)
	l, _, out := newTestLauncher(h, 0)

	err := l.Run(context.Background(), LaunchConfig{ServiceName: "web", Mode: ModeStopOnly})
	require.NoError(t, err)

	starts, stops, _ := h.Counts()
	assert.Zero(t, starts)
	assert.Equal(t, 1, stops)
	assert.Equal(t, service.StateStopped, h.State())
	assert.Contains(t, out.String(), "Service [web] is stopping...")
	assert.Nil(t, l.Cell().Peek())
}

func TestLaunchAndStopAlreadyStopped(t *testing.T) {
	h := service.NewMockHandle("web", service.StateStopped)
	l, _, out := newTestLauncher(h, 0)

	require.NoError(t, l.Run(context.Background(), LaunchConfig{ServiceName: "web", Mode: ModeStopOnly}))

	_, stops, _ := h.Counts()
	assert.Zero(t, stops)
	assert.NotContains(t, out.String(), "is stopping")
}

func TestLaunchAndStopWhileStopping(t *testing.T) {
	h := service.NewMockHandle("web", service.StateStopping)
	h.Script(service.StateStopping, service.StateStopped)
	l, _, _ := newTestLauncher(h, 0)

	require.NoError(t, l.Run(context.Background(), LaunchConfig{ServiceName: "web", Mode: ModeStopOnly}))

	_, stops, _ := h.Counts()
	assert.Zero(t, stops)
}

func TestLaunchAndStopAbandoned(t *testing.T) {
	h := service.NewMockHandle("web", service.StateRunning)
	h.StopSequence = []service.State{service.StateStopping}
	l, _, _ := newTestLauncher(h, 20*time.Millisecond)

	err := l.Run(context.Background(), LaunchConfig{ServiceName: "web", Mode: ModeStopOnly})
	assert.ErrorIs(t, err, ErrWaitAbandoned)
	assert.Equal(t, ExitFailure, ExitCode(err))
}

func TestCleanupStopsAtMostOnce(t *testing.T) {
	h := service.NewMockHandle("web", service.StateRunning)
	l, _, out := newTestLauncher(h, 0)
	l.Cell().Publish(&Active{Handle: h, Config: startConfig(time.Second)})

	require.NoError(t, l.Cleanup(context.Background()))
	require.NoError(t, l.Cleanup(context.Background()))

	_, stops, _ := h.Counts()
	assert.Equal(t, 1, stops)
	assert.Equal(t, service.StateStopped, h.State())
	assert.Equal(t, 1, bytes.Count([]byte(out.String()), []byte("is stopping")))
}

func TestCleanupSkipsStopWithoutInterval(t *testing.T) {
	h := service.NewMockHandle("web", service.StateRunning)
	l, _, _ := newTestLauncher(h, 0)
	l.Cell().Publish(&Active{Handle: h, Config: startConfig(0)})

	require.NoError(t, l.Cleanup(context.Background()))

	_, stops, _ := h.Counts()
	assert.Zero(t, stops)
	assert.Nil(t, l.Cell().Peek())
	assert.True(t, h.Closed())
}

func TestCleanupReportsElapsedSeconds(t *testing.T) {
	h := service.NewMockHandle("web", service.StateRunning)
	l, _, out := newTestLauncher(h, 0)
	l.ticks.Store(3)
	l.elapsed.Store(int64(3 * 5 * time.Second))

	require.NoError(t, l.Cleanup(context.Background()))
	require.NoError(t, l.Cleanup(context.Background()))

	assert.Equal(t, "The launcher waits 15 second(s).\n", out.String())
	assert.Zero(t, l.Ticks())
}

func TestLaunchAndWaitCountsWholeSeconds(t *testing.T) {
	if testing.Short() {
		t.Skip("waits two one-second intervals")
	}
	h := service.NewMockHandle("web", service.StateStopped)
	h.StartSequence = []service.State{
		service.StateStarting, service.StateRunning, service.StateRunning, service.StateStopped,
	}
	l, _, out := newTestLauncher(h, 0)

	require.NoError(t, l.Run(context.Background(), startConfig(time.Second)))

	assert.Contains(t, out.String(), "The launcher waits 2 second(s).")
	_, stops, _ := h.Counts()
	assert.Zero(t, stops)
}

func TestCleanupEmptyCell(t *testing.T) {
	h := service.NewMockHandle("web", service.StateRunning)
	l, _, out := newTestLauncher(h, 0)

	require.NoError(t, l.Cleanup(context.Background()))
	assert.Empty(t, out.String())
}

// startInterruptible runs cfg under a signal watcher fed by the returned channel.
func startInterruptible(t *testing.T, l *Launcher, cfg LaunchConfig) (chan os.Signal, *Coordinator, <-chan error) {
	t.Helper()
	sigCh := make(chan os.Signal, 4)
	w, ctx := eventloop.Watch(context.Background(), sigCh)
	t.Cleanup(w.Stop)

	coord := NewCoordinator(l, w, nil, nil)
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx, cfg) }()
	return sigCh, coord, done
}

func TestInterruptDuringLongPoll(t *testing.T) {
	h := service.NewMockHandle("web", service.StateStopped)
	l, _, out := newTestLauncher(h, 0)

	sigCh, coord, done := startInterruptible(t, l, startConfig(5*time.Millisecond))

	require.Eventually(t, func() bool { return l.Ticks() >= 2 }, time.Second, time.Millisecond)
	sigCh <- syscall.SIGINT

	var err error
	select {
	case err = <-done:
	case <-time.After(time.Second):
		t.Fatal("launch did not return after interrupt")
	}
	require.ErrorIs(t, err, ErrInterrupted)
	require.True(t, coord.Interrupted())
	require.NotNil(t, l.Cell().Peek(), "handle stays published for the interrupt path")

	code := coord.OnInterrupt(coord.Signal())
	assert.Equal(t, int(syscall.SIGINT), code)

	_, stops, _ := h.Counts()
	assert.Equal(t, 1, stops)
	assert.Equal(t, service.StateStopped, h.State())
	assert.True(t, h.Closed())

	text := out.String()
	assert.Contains(t, text, "Interrupt signal (2) received.")
	assert.Contains(t, text, "The launcher waits 0 second(s).")
	assert.Contains(t, text, "Service [web] is stopping...")

	// A second interrupt finds nothing left to stop.
	assert.Equal(t, int(syscall.SIGINT), coord.OnInterrupt(syscall.SIGINT))
	_, stops, _ = h.Counts()
	assert.Equal(t, 1, stops)
}

func TestInterruptWhileStartingWithoutInterval(t *testing.T) {
	h := service.NewMockHandle("web", service.StateStopped)
	h.StartSequence = []service.State{service.StateStarting}
	l, _, _ := newTestLauncher(h, 0)

	sigCh, coord, done := startInterruptible(t, l, startConfig(0))

	require.Eventually(t, func() bool {
		starts, _, _ := h.Counts()
		return starts == 1
	}, time.Second, time.Millisecond)
	sigCh <- syscall.SIGTERM

	err := <-done
	require.ErrorIs(t, err, ErrInterrupted)

	assert.Equal(t, int(syscall.SIGTERM), coord.OnInterrupt(coord.Signal()))
	_, stops, _ := h.Counts()
	assert.Zero(t, stops, "start-and-return launches never stop the service")
	assert.True(t, h.Closed())
}

func TestRepeatedInterruptAbandonsCleanupWait(t *testing.T) {
	h := service.NewMockHandle("web", service.StateStopped)
	h.StopSequence = []service.State{service.StateStopping}
	l, _, _ := newTestLauncher(h, 0)

	sigCh, coord, done := startInterruptible(t, l, startConfig(5*time.Millisecond))
	require.Eventually(t, func() bool { return l.Ticks() >= 1 }, time.Second, time.Millisecond)
	sigCh <- syscall.SIGINT
	require.ErrorIs(t, <-done, ErrInterrupted)

	go func() {
		for {
			if _, stops, _ := h.Counts(); stops == 1 {
				break
			}
			time.Sleep(time.Millisecond)
		}
		sigCh <- syscall.SIGINT
	}()

	finished := make(chan int, 1)
	go func() { finished <- coord.OnInterrupt(coord.Signal()) }()

	select {
	case code := <-finished:
		assert.Equal(t, int(syscall.SIGINT), code)
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup wait was not abandoned by a second interrupt")
	}
	_, stops, _ := h.Counts()
	assert.Equal(t, 1, stops)
}
