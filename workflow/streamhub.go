package workflow

import (
	"sync"

	"github.com/insightflow/insightflow/graph/emit"
)

// streamHub fans engine events out to per-run subscribers so concurrent
// streams only see their own run. It satisfies emit.Emitter and composes
// with the logging and tracing emitters through emit.Multi.
type streamHub struct {
	mu   sync.Mutex
	subs map[string][]chan emit.Event
}

func newStreamHub() *streamHub {
	return &streamHub{subs: make(map[string][]chan emit.Event)}
}

// Emit delivers the event to every subscriber of its run, dropping rather
// than blocking when a subscriber is slow.
func (h *streamHub) Emit(event emit.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[event.RunID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe registers a listener for one run. The returned cancel function
// removes the subscription and closes the channel.
func (h *streamHub) Subscribe(runID string) (<-chan emit.Event, func()) {
	ch := make(chan emit.Event, 64)

	h.mu.Lock()
	h.subs[runID] = append(h.subs[runID], ch)
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		listeners := h.subs[runID]
		for i, sub := range listeners {
			if sub == ch {
				h.subs[runID] = append(listeners[:i], listeners[i+1:]...)
				close(ch)
				break
			}
		}
		if len(h.subs[runID]) == 0 {
			delete(h.subs, runID)
		}
	}
	return ch, cancel
}
