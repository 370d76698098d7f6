package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/internal/push"
	"github.com/capitalize-ai/chatsync/pkg/logger"
	"github.com/capitalize-ai/chatsync/pkg/metrics"
)

// DefaultSubjectPrefix is the subject root for chat events.
const DefaultSubjectPrefix = "chat"

// conn is the subset of *nats.Conn the channel needs.
type conn interface {
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
	Publish(subj string, data []byte) error
	IsConnected() bool
}

// Subjects builds the subject names for one user.
//
// Inbound events for a user arrive on <prefix>.<user>.<event>; events the
// user emits are published on <prefix>.out.<user>.<event>.
type Subjects struct {
	Prefix string
	UserID string
}

// Inbound returns the subject a given inbound event arrives on.
func (s Subjects) Inbound(event model.EventType) string {
	return fmt.Sprintf("%s.%s.%s", s.prefix(), s.UserID, event)
}

// InboundWildcard matches every inbound event for the user.
func (s Subjects) InboundWildcard() string {
	return fmt.Sprintf("%s.%s.*", s.prefix(), s.UserID)
}

// Outbound returns the subject an outbound event is published on.
func (s Subjects) Outbound(event model.EventType) string {
	return fmt.Sprintf("%s.out.%s.%s", s.prefix(), s.UserID, event)
}

// EventOf extracts the event name from an inbound subject.
func (s Subjects) EventOf(subject string) (model.EventType, bool) {
	base := fmt.Sprintf("%s.%s.", s.prefix(), s.UserID)
	if !strings.HasPrefix(subject, base) {
		return "", false
	}
	event := strings.TrimPrefix(subject, base)
	if event == "" || strings.Contains(event, ".") {
		return "", false
	}
	return model.EventType(event), true
}

func (s Subjects) prefix() string {
	if s.Prefix == "" {
		return DefaultSubjectPrefix
	}
	return s.Prefix
}

// Channel is a push.Channel over core NATS subjects. Payloads are the bare
// event JSON; the event name travels in the subject.
type Channel struct {
	push.Registry

	conn     conn
	subjects Subjects
	sub      *nats.Subscription
	logger   *logger.Logger

	mu     sync.Mutex
	closed bool
}

// NewChannel subscribes to every inbound event for the user.
func NewChannel(c *Client, subjects Subjects, log *logger.Logger) (*Channel, error) {
	return newChannel(c.Conn(), subjects, log)
}

func newChannel(nc conn, subjects Subjects, log *logger.Logger) (*Channel, error) {
	if subjects.UserID == "" {
		return nil, fmt.Errorf("nats channel requires a user id")
	}

	ch := &Channel{
		conn:     nc,
		subjects: subjects,
		logger:   log.Named("push.nats"),
	}

	sub, err := nc.Subscribe(subjects.InboundWildcard(), ch.handle)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subjects.InboundWildcard(), err)
	}
	ch.sub = sub

	ch.logger.Info("subscribed to push events", zap.String("subject", subjects.InboundWildcard()))
	return ch, nil
}

func (c *Channel) handle(msg *nats.Msg) {
	event, ok := c.subjects.EventOf(msg.Subject)
	if !ok {
		metrics.RecordPushEvent("unknown", "malformed")
		c.logger.Debug("ignoring subject", zap.String("subject", msg.Subject))
		return
	}
	if !c.Dispatch(event, json.RawMessage(msg.Data)) {
		metrics.RecordPushEvent(string(event), "unhandled")
	}
}

// Send publishes the payload on the event's outbound subject.
func (c *Channel) Send(_ context.Context, event model.EventType, payload any) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return push.ErrClosed
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}
	subject := c.subjects.Outbound(event)
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Connected reports whether the channel is open and the connection up.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	return !closed && c.conn.IsConnected()
}

// Close unsubscribes. The underlying client is owned by the caller.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.sub != nil && c.sub.IsValid() {
		if err := c.sub.Unsubscribe(); err != nil {
			return fmt.Errorf("failed to unsubscribe: %w", err)
		}
	}
	return nil
}
