package emit

import "sync"

// Channel buffers events into a Go channel so a consumer (an SSE stream,
// a test) can observe run progress as it happens.
//
// Emit never blocks the run: when the buffer is full the oldest event is
// dropped. Progress consumers tolerate gaps; they only need the latest
// snapshot and the terminal event.
type Channel struct {
	mu     sync.Mutex
	events chan Event
	closed bool
}

// NewChannel creates a Channel emitter with the given buffer size.
// Sizes below 1 are raised to 64.
func NewChannel(size int) *Channel {
	if size < 1 {
		size = 64
	}
	return &Channel{events: make(chan Event, size)}
}

// Emit implements Emitter. Drops the oldest buffered event on overflow.
func (c *Channel) Emit(event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	for {
		select {
		case c.events <- event:
			return
		default:
			select {
			case <-c.events:
			default:
			}
		}
	}
}

// Events returns the receive side of the buffer. The channel is closed by
// Close once the run has terminated.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// Close closes the event channel. Emit calls after Close are discarded.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
}
