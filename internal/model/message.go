package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/scylladb/go-set/strset"
)

// Delivery is the derived tick state shown next to a message.
type Delivery int

const (
	DeliverySent Delivery = iota
	DeliveryDelivered
	DeliveryRead
)

func (d Delivery) String() string {
	switch d {
	case DeliverySent:
		return "sent"
	case DeliveryDelivered:
		return "delivered"
	case DeliveryRead:
		return "read"
	}
	return "unknown"
}

// SystemSenderID marks client-authored notices such as send failures.
const SystemSenderID = "system"

// Reaction is one emoji reaction on a message.
type Reaction struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Emoji    string `json:"emoji"`
}

// Message represents a chat message as held by the client.
type Message struct {
	// Identity
	ID               MessageID
	ConversationKind Kind
	ConversationID   string

	// Author
	SenderID   string
	SenderName string

	// Content
	Content   string
	SentAt    time.Time
	ReplyTo   string
	Reactions []Reaction
	Edited    bool
	EditedAt  *time.Time

	// ReadBy holds participant ids that have seen the message.
	ReadBy *strset.Set

	// System is set on synthetic notices appended by the client.
	System bool
}

// Key returns the conversation the message belongs to.
func (m *Message) Key() ConversationKey {
	return ConversationKey{Kind: m.ConversationKind, ID: m.ConversationID}
}

// EnsureSenderRead makes the sender a reader, creating the set if needed.
func (m *Message) EnsureSenderRead() {
	if m.ReadBy == nil {
		m.ReadBy = strset.New()
	}
	if m.SenderID != "" {
		m.ReadBy.Add(m.SenderID)
	}
}

// MarkRead adds a reader and reports whether the set grew.
func (m *Message) MarkRead(readerID string) bool {
	if m.ReadBy == nil {
		m.ReadBy = strset.New()
	}
	if readerID == "" || m.ReadBy.Has(readerID) {
		return false
	}
	m.ReadBy.Add(readerID)
	return true
}

// Readers returns the sorted reader ids.
func (m *Message) Readers() []string {
	if m.ReadBy == nil {
		return nil
	}
	return sortedList(m.ReadBy)
}

// Clone returns a deep copy safe to hand outside the session loop.
func (m Message) Clone() Message {
	out := m
	if m.ReadBy != nil {
		out.ReadBy = m.ReadBy.Copy()
	}
	if m.Reactions != nil {
		out.Reactions = append([]Reaction(nil), m.Reactions...)
	}
	if m.EditedAt != nil {
		t := *m.EditedAt
		out.EditedAt = &t
	}
	return out
}

// DeliveryOf derives the delivery state from the id kind and reader count.
func DeliveryOf(m *Message) Delivery {
	if m.ID.IsProvisional() {
		return DeliverySent
	}
	if m.ReadBy != nil && m.ReadBy.Size() > 1 {
		return DeliveryRead
	}
	return DeliveryDelivered
}

// NewSystemMessage builds a client-authored notice for a conversation.
func NewSystemMessage(key ConversationKey, id MessageID, text string, at time.Time) Message {
	msg := Message{
		ID:               id,
		ConversationKind: key.Kind,
		ConversationID:   key.ID,
		SenderID:         SystemSenderID,
		SenderName:       "System",
		Content:          text,
		SentAt:           at,
		System:           true,
	}
	msg.EnsureSenderRead()
	return msg
}

type wireMessage struct {
	ID         string     `json:"id"`
	SenderID   string     `json:"sender_id"`
	SenderName string     `json:"sender_name"`
	ChatType   string     `json:"chat_type,omitempty"`
	ChatID     string     `json:"chat_id,omitempty"`
	Content    string     `json:"content"`
	Timestamp  Timestamp  `json:"timestamp"`
	ReadBy     []string   `json:"read_by"`
	ReplyTo    string     `json:"reply_to,omitempty"`
	Reactions  []Reaction `json:"reactions,omitempty"`
	Edited     bool       `json:"edited,omitempty"`
	EditedAt   *Timestamp `json:"edited_at,omitempty"`
}

// MarshalJSON encodes the message in the service wire shape.
func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{
		ID:         m.ID.Value(),
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		ChatType:   string(m.ConversationKind),
		ChatID:     m.ConversationID,
		Content:    m.Content,
		Timestamp:  Timestamp(m.SentAt),
		ReadBy:     m.Readers(),
		ReplyTo:    m.ReplyTo,
		Reactions:  m.Reactions,
		Edited:     m.Edited,
	}
	if m.EditedAt != nil {
		ts := Timestamp(*m.EditedAt)
		w.EditedAt = &ts
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a server record. Every decoded id is a server id.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if strings.TrimSpace(w.ID) == "" {
		return errors.New("message id is required")
	}

	var kind Kind
	if w.ChatType != "" {
		k, err := ParseKind(w.ChatType)
		if err != nil {
			return err
		}
		kind = k
	}

	*m = Message{
		ID:               ServerID(w.ID),
		ConversationKind: kind,
		ConversationID:   w.ChatID,
		SenderID:         w.SenderID,
		SenderName:       w.SenderName,
		Content:          w.Content,
		SentAt:           time.Time(w.Timestamp),
		ReplyTo:          w.ReplyTo,
		Reactions:        w.Reactions,
		Edited:           w.Edited,
		ReadBy:           strset.New(w.ReadBy...),
	}
	if w.EditedAt != nil {
		t := time.Time(*w.EditedAt)
		m.EditedAt = &t
	}
	m.EnsureSenderRead()
	return nil
}

// Timestamp accepts RFC 3339 as well as the zone-less ISO form the
// service emits, which is interpreted as UTC.
type Timestamp time.Time

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// MarshalJSON encodes the timestamp as RFC 3339.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if time.Time(t).IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(time.Time(t).UTC().Format(time.RFC3339Nano))
}

// UnmarshalJSON decodes the timestamp.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = Timestamp{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	if s == "" {
		*t = Timestamp{}
		return nil
	}
	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		*t = Timestamp(parsed)
		return nil
	}
	for _, layout := range naiveLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			*t = Timestamp(parsed)
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", s)
}
