package launcher

import (
	"sync/atomic"

	"github.com/sunlightlinux/slaunch/pkg/service"
)

// Active is the handle a launch is responsible for cleaning up, together
// with the configuration that decides how.
type Active struct {
	Handle service.Handle
	Config LaunchConfig
}

// ActiveCell is the synchronized slot shared between the orchestrator and
// the interrupt path. Whoever takes the value owns the handle; a second
// Take returns nil, so the stop-and-wait runs at most once.
type ActiveCell struct {
	p atomic.Pointer[Active]
}

// NewActiveCell creates an empty cell.
func NewActiveCell() *ActiveCell {
	return &ActiveCell{}
}

// Publish stores a.
func (c *ActiveCell) Publish(a *Active) {
	c.p.Store(a)
}

// Take clears the cell and returns what it held.
func (c *ActiveCell) Take() *Active {
	return c.p.Swap(nil)
}

// Release clears the cell only if it still holds a. It reports whether the
// caller now owns a.
func (c *ActiveCell) Release(a *Active) bool {
	return c.p.CompareAndSwap(a, nil)
}

// Peek returns the current value without clearing it.
func (c *ActiveCell) Peek() *Active {
	return c.p.Load()
}
