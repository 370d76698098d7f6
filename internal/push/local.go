package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/capitalize-ai/chatsync/internal/model"
)

// ErrClosed is returned when sending on a closed channel.
var ErrClosed = errors.New("push channel closed")

// Sent is one event emitted through a Local channel.
type Sent struct {
	Event   model.EventType
	Payload json.RawMessage
}

// Local is an in-process channel. Inbound events are injected with Deliver
// and outbound events are recorded. It backs offline runs and tests.
type Local struct {
	Registry

	mu     sync.Mutex
	sent   []Sent
	closed bool
	// SendErr, when set, is returned by every Send.
	SendErr error
}

// NewLocal creates an in-process channel.
func NewLocal() *Local {
	return &Local{}
}

// Send records the event.
func (l *Local) Send(_ context.Context, event model.EventType, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if l.SendErr != nil {
		return l.SendErr
	}
	l.sent = append(l.sent, Sent{Event: event, Payload: data})
	return nil
}

// Deliver injects an inbound event as if it came from the server.
func (l *Local) Deliver(event model.EventType, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}
	l.Dispatch(event, data)
	return nil
}

// Sent returns a copy of every event sent so far.
func (l *Local) Sent() []Sent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Sent(nil), l.sent...)
}

// Connected reports whether the channel is still open.
func (l *Local) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.closed
}

// Close marks the channel closed.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
