package handler

import (
	"sync"

	"github.com/audiodock/internal/queue"
	"github.com/audiodock/pkg/logger"
)

const maxBufferedEvents = 1024

// EventHub is the single consumer of the queue's event channel. It buffers
// events for poll-based clients and fires the batch callback for
// notifications. Keeping exactly one drainer means item event order observed
// by clients matches publish order.
type EventHub struct {
	mu  sync.Mutex
	buf []queue.Event

	onBatchComplete func(completed, total int)
}

// NewEventHub starts draining the given channel in the background.
func NewEventHub(events <-chan queue.Event, onBatchComplete func(completed, total int)) *EventHub {
	h := &EventHub{onBatchComplete: onBatchComplete}
	go h.run(events)
	return h
}

func (h *EventHub) run(events <-chan queue.Event) {
	for ev := range events {
		h.mu.Lock()
		h.buf = append(h.buf, ev)
		// Bounded buffer: oldest events go first, clients that poll slower
		// than this lose history, never freshness.
		if len(h.buf) > maxBufferedEvents {
			h.buf = h.buf[len(h.buf)-maxBufferedEvents:]
		}
		h.mu.Unlock()

		if ev.Kind == queue.EventBatchComplete && h.onBatchComplete != nil {
			go h.onBatchComplete(ev.CompletedCount, ev.TotalCount)
		}
	}
	logger.Debug("Event hub stopped")
}

// Drain returns all buffered events and clears the buffer.
func (h *EventHub) Drain() []queue.Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := h.buf
	h.buf = nil
	return out
}
