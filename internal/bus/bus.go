// Package bus carries capture lifecycle events from the pipeline to
// in-process subscribers, chiefly the WebSocket feed.
package bus

import (
	"sync"
	"time"
)

// Event names emitted by the capture pipeline.
const (
	EventCaptureAccepted   = "capture.accepted"
	EventCaptureStored     = "capture.stored"
	EventCaptureFailed     = "capture.failed"
	EventCaptureDegraded   = "capture.degraded"
	EventAgentWorkStored   = "agentwork.stored"
	EventEmbeddingBackfill = "embedding.backfilled"
)

// Event is one broadcast to subscribers.
type Event struct {
	Name      string      `json:"name"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// EventHandler receives a broadcast event. Handlers must not block; slow
// consumers buffer or drop on their own side.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast and subscription so the pipeline
// does not depend on the concrete bus.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

// MessageBus is the in-process EventPublisher.
type MessageBus struct {
	mu       sync.RWMutex
	handlers map[string]EventHandler
}

func New() *MessageBus {
	return &MessageBus{handlers: make(map[string]EventHandler)}
}

func (b *MessageBus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[id] = handler
}

func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, id)
}

// Broadcast delivers the event to every subscriber synchronously. The
// timestamp is stamped here when the caller left it zero.
func (b *MessageBus) Broadcast(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}
