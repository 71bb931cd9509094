// Package flow implements the outbound admission gate: at most one
// command may be in flight at a time, and a second attempt is rejected
// immediately instead of queued.
package flow

import "sync/atomic"

// Controller is a non-blocking single-slot gate.  The zero value is
// ready for use and open.
type Controller struct {
	busy atomic.Bool
}

// New returns an open Controller.
func New() *Controller {
	return &Controller{}
}

// TryAcquire claims the slot and reports whether the caller may send
// now.  It never blocks.  Every successful call must be paired with
// exactly one [Controller.Release].
func (c *Controller) TryAcquire() bool {
	return c.busy.CompareAndSwap(false, true)
}

// Release frees the slot.  Releasing an open gate means an acquire was
// released twice, which would let two commands overlap; it panics.
func (c *Controller) Release() {
	if !c.busy.CompareAndSwap(true, false) {
		panic("flow: release of unacquired gate")
	}
}

// Ready reports whether a TryAcquire would currently succeed.
func (c *Controller) Ready() bool {
	return !c.busy.Load()
}
