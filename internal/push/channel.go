// Package push implements the persistent event channel between the chat
// client and the platform.
package push

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/capitalize-ai/chatsync/internal/model"
)

// Handler receives the raw payload of one event.
type Handler func(payload json.RawMessage)

// Channel is a bidirectional, event-typed transport.
type Channel interface {
	// Subscribe registers h for event and returns a function removing it.
	Subscribe(event model.EventType, h Handler) (unsubscribe func())

	// Send emits an event with a JSON-encodable payload.
	Send(ctx context.Context, event model.EventType, payload any) error

	// Close tears the channel down.
	Close() error
}

// Envelope is the frame for every event on a stream transport.
type Envelope struct {
	Type    model.EventType `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Registry keeps the handlers of a channel.
type Registry struct {
	mu       sync.RWMutex
	next     int
	handlers map[model.EventType]map[int]Handler
}

// Subscribe adds h for event.
func (r *Registry) Subscribe(event model.EventType, h Handler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.handlers == nil {
		r.handlers = make(map[model.EventType]map[int]Handler)
	}
	if r.handlers[event] == nil {
		r.handlers[event] = make(map[int]Handler)
	}
	id := r.next
	r.next++
	r.handlers[event][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.handlers[event], id)
		})
	}
}

// Dispatch calls every handler of event. It reports whether any handler ran.
func (r *Registry) Dispatch(event model.EventType, payload json.RawMessage) bool {
	r.mu.RLock()
	hs := make([]Handler, 0, len(r.handlers[event]))
	for _, h := range r.handlers[event] {
		hs = append(hs, h)
	}
	r.mu.RUnlock()

	for _, h := range hs {
		h(payload)
	}
	return len(hs) > 0
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, hs := range r.handlers {
		n += len(hs)
	}
	return n
}
