package launcher

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

// Launch phases.
const (
	PhaseIdle        = "idle"
	PhaseResolved    = "resolved"
	PhaseStarting    = "starting"
	PhaseRunning     = "running"
	PhaseMonitoring  = "monitoring"
	PhaseStopping    = "stopping"
	PhaseCleanup     = "cleanup"
	PhaseDone        = "done"
	PhaseFailed      = "failed"
	PhaseInterrupted = "interrupted"
)

// Phase events.
const (
	EventResolve   = "resolve"
	EventStart     = "start"
	EventRunning   = "running"
	EventMonitor   = "monitor"
	EventStop      = "stop"
	EventCleanup   = "cleanup"
	EventFinish    = "finish"
	EventFail      = "fail"
	EventInterrupt = "interrupt"
)

var allPhases = []string{
	PhaseIdle, PhaseResolved, PhaseStarting, PhaseRunning, PhaseMonitoring,
	PhaseStopping, PhaseCleanup, PhaseDone, PhaseFailed, PhaseInterrupted,
}

// phaseTracker records where a launch is. It only observes; decisions are
// made from the service status, never from the phase.
type phaseTracker struct {
	fsm *fsm.FSM
	log *zap.SugaredLogger
}

func newPhaseTracker(log *zap.SugaredLogger) *phaseTracker {
	p := &phaseTracker{log: log}
	p.fsm = fsm.NewFSM(
		PhaseIdle,
		fsm.Events{
			{Name: EventResolve, Src: []string{PhaseIdle}, Dst: PhaseResolved},
			{Name: EventStart, Src: []string{PhaseResolved}, Dst: PhaseStarting},
			{Name: EventRunning, Src: []string{PhaseResolved, PhaseStarting}, Dst: PhaseRunning},
			{Name: EventMonitor, Src: []string{PhaseRunning}, Dst: PhaseMonitoring},
			{Name: EventStop, Src: []string{PhaseResolved, PhaseRunning, PhaseMonitoring}, Dst: PhaseStopping},
			{Name: EventCleanup, Src: []string{PhaseResolved, PhaseStarting, PhaseRunning, PhaseMonitoring, PhaseStopping, PhaseInterrupted}, Dst: PhaseCleanup},
			{Name: EventFinish, Src: []string{PhaseResolved, PhaseRunning, PhaseMonitoring, PhaseStopping, PhaseCleanup}, Dst: PhaseDone},
			{Name: EventFail, Src: allPhases, Dst: PhaseFailed},
			{Name: EventInterrupt, Src: allPhases, Dst: PhaseInterrupted},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				p.log.Debugw("Entering launch phase", "phase", e.Dst, "from", e.Src, "event", e.Event)
			},
		},
	)
	return p
}

// fire moves to the phase event leads to. Events that do not apply to the
// current phase are ignored.
func (p *phaseTracker) fire(event string) {
	err := p.fsm.Event(context.Background(), event)
	if err == nil {
		return
	}
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return
	}
	p.log.Debugw("Launch phase event ignored", "event", event, "phase", p.fsm.Current(), "error", err)
}

// Current returns the current phase.
func (p *phaseTracker) Current() string {
	return p.fsm.Current()
}
