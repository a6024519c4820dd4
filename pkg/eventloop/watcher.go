package eventloop

import (
	"context"
	"os"
	"sync"
)

// Watcher turns the first received signal into a context cancellation.
// Later signals are forwarded on Later so a cleanup in progress can be
// abandoned by a repeated interrupt.
type Watcher struct {
	sigCh  <-chan os.Signal
	cancel context.CancelFunc
	later  chan os.Signal
	done   chan struct{}
	stop   sync.Once

	mu    sync.Mutex
	first os.Signal
	count int
}

// Watch starts watching sigCh. The returned context is cancelled when the
// first signal arrives, when parent is cancelled, or when Stop is called.
func Watch(parent context.Context, sigCh <-chan os.Signal) (*Watcher, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	w := &Watcher{
		sigCh:  sigCh,
		cancel: cancel,
		later:  make(chan os.Signal, 1),
		done:   make(chan struct{}),
	}
	go w.run()
	return w, ctx
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case sig, ok := <-w.sigCh:
			if !ok {
				return
			}
			w.mu.Lock()
			w.count++
			isFirst := w.first == nil
			if isFirst {
				w.first = sig
			}
			w.mu.Unlock()

			if isFirst {
				w.cancel()
				continue
			}
			select {
			case w.later <- sig:
			default:
			}
		}
	}
}

// Signal returns the first signal received, or nil.
func (w *Watcher) Signal() os.Signal {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.first
}

// Count returns the number of signals received so far.
func (w *Watcher) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Later delivers signals received after the first one.
func (w *Watcher) Later() <-chan os.Signal {
	return w.later
}

// Stop ends the watch and cancels the context.
func (w *Watcher) Stop() {
	w.stop.Do(func() {
		close(w.done)
		w.cancel()
	})
}
