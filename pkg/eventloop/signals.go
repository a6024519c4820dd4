// Package eventloop provides the signal and timer plumbing slaunch uses to
// keep every blocking wait preemptible by an operator interrupt.
package eventloop

import (
	"os"
	"os/signal"
	"syscall"
)

// InterruptSignals are the signals that interrupt a launch.
var InterruptSignals = []os.Signal{
	syscall.SIGINT,
	syscall.SIGTERM,
	syscall.SIGHUP,
	syscall.SIGQUIT,
}

// signalBuffer holds a first interrupt plus repeats while the launcher is
// still busy cleaning up.
const signalBuffer = 4

// SetupSignals routes InterruptSignals to the returned channel instead of
// terminating the process.
func SetupSignals() chan os.Signal {
	sigCh := make(chan os.Signal, signalBuffer)
	signal.Notify(sigCh, InterruptSignals...)
	return sigCh
}

// StopSignals restores default signal handling and closes sigCh, which ends
// any Watcher reading from it.
func StopSignals(sigCh chan os.Signal) {
	signal.Stop(sigCh)
	close(sigCh)
}
