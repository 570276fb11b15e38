package downloads

import (
	"sync"
)

// control carries the cooperative flags for one streaming task. The pause
// gate is a single-slot suspension primitive: created fresh on each pause,
// released exactly once on resume or cancel. Cancel always releases a
// currently-blocked gate so a paused task can observe cancellation.
type control struct {
	mu        sync.Mutex
	cancelled bool
	paused    bool
	gate      chan struct{}
}

// pause flips to paused and arms a fresh gate. Reports false if the task is
// already paused or cancelled.
func (c *control) pause() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.paused || c.cancelled {
		return false
	}
	c.paused = true
	c.gate = make(chan struct{})
	return true
}

// resume clears paused and releases the gate. Reports false unless
// currently paused.
func (c *control) resume() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.paused || c.cancelled {
		return false
	}
	c.paused = false
	close(c.gate)
	c.gate = nil
	return true
}

// cancel sets the cancelled flag and releases any armed gate so a blocked
// task wakes up. Reports false if already cancelled.
func (c *control) cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancelled {
		return false
	}
	c.cancelled = true
	if c.gate != nil {
		close(c.gate)
		c.gate = nil
	}
	return true
}

// isCancelled reports the cancellation flag.
func (c *control) isCancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

// pauseGate returns the current gate to await, or nil when not paused.
func (c *control) pauseGate() chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		return nil
	}
	return c.gate
}
