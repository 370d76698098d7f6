// Package model defines data structures for the chat client.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/scylladb/go-set/strset"
)

// Kind is the kind of conversation.
type Kind string

const (
	KindDirect    Kind = "direct"
	KindGroup     Kind = "group"
	KindAssistant Kind = "assistant"
)

// AssistantConversationID is the fixed id of the assistant thread.
const AssistantConversationID = "assistant"

// ParseKind validates a wire conversation kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(s)); k {
	case KindDirect, KindGroup, KindAssistant:
		return k, nil
	}
	return "", fmt.Errorf("unknown conversation kind %q", s)
}

// ConversationKey addresses one conversation thread.
type ConversationKey struct {
	Kind Kind
	ID   string
}

// AssistantKey is the key of the assistant thread.
var AssistantKey = ConversationKey{Kind: KindAssistant, ID: AssistantConversationID}

// IsZero reports whether the key is unset.
func (k ConversationKey) IsZero() bool {
	return k.Kind == "" && k.ID == ""
}

func (k ConversationKey) String() string {
	return string(k.Kind) + "/" + k.ID
}

// ParseConversationKey parses the "kind/id" form produced by String. The
// bare word "assistant" names the assistant thread.
func ParseConversationKey(s string) (ConversationKey, error) {
	if strings.EqualFold(s, AssistantConversationID) {
		return AssistantKey, nil
	}
	kind, id, ok := strings.Cut(s, "/")
	if !ok || id == "" {
		return ConversationKey{}, fmt.Errorf("conversation must be kind/id, got %q", s)
	}
	k, err := ParseKind(kind)
	if err != nil {
		return ConversationKey{}, err
	}
	if k == KindAssistant && id != AssistantConversationID {
		return ConversationKey{}, fmt.Errorf("assistant conversation id must be %q", AssistantConversationID)
	}
	return ConversationKey{Kind: k, ID: id}, nil
}

// Conversation is a directory entry summarizing one thread.
type Conversation struct {
	ID               string
	Kind             Kind
	DisplayName      string
	Description      string
	ParticipantCount int
	Email            string
	LastMessage      *Message
	UnreadCount      int
}

// Key returns the conversation key.
func (c *Conversation) Key() ConversationKey {
	return ConversationKey{Kind: c.Kind, ID: c.ID}
}

// Clone returns a deep copy.
func (c Conversation) Clone() Conversation {
	out := c
	if c.LastMessage != nil {
		msg := c.LastMessage.Clone()
		out.LastMessage = &msg
	}
	return out
}

// NewAssistantConversation builds the synthesized assistant entry.
func NewAssistantConversation() Conversation {
	return Conversation{
		ID:          AssistantConversationID,
		Kind:        KindAssistant,
		DisplayName: "Study Assistant",
	}
}

type wireConversation struct {
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	MembersCount int      `json:"members_count,omitempty"`
	Email        string   `json:"email,omitempty"`
	LastMessage  *Message `json:"last_message"`
	UnreadCount  int      `json:"unread_count"`
}

// MarshalJSON encodes the summary in the service wire shape.
func (c Conversation) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireConversation{
		ID:           c.ID,
		Type:         string(c.Kind),
		Name:         c.DisplayName,
		Description:  c.Description,
		MembersCount: c.ParticipantCount,
		Email:        c.Email,
		LastMessage:  c.LastMessage,
		UnreadCount:  c.UnreadCount,
	})
}

// UnmarshalJSON decodes and validates a service summary.
func (c *Conversation) UnmarshalJSON(data []byte) error {
	var w wireConversation
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.ID == "" {
		return errors.New("conversation id is required")
	}
	kind, err := ParseKind(w.Type)
	if err != nil {
		return err
	}
	if w.UnreadCount < 0 {
		w.UnreadCount = 0
	}

	*c = Conversation{
		ID:               w.ID,
		Kind:             kind,
		DisplayName:      w.Name,
		Description:      w.Description,
		ParticipantCount: w.MembersCount,
		Email:            w.Email,
		LastMessage:      w.LastMessage,
		UnreadCount:      w.UnreadCount,
	}
	if c.LastMessage != nil {
		if c.LastMessage.ConversationKind == "" {
			c.LastMessage.ConversationKind = kind
		}
		if c.LastMessage.ConversationID == "" {
			c.LastMessage.ConversationID = w.ID
		}
	}
	return nil
}

// Participant is a user that can be messaged directly.
type Participant struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// CommandSuggestion is one slash-command autocomplete entry.
type CommandSuggestion struct {
	Command     string `json:"command"`
	Description string `json:"description"`
	Usage       string `json:"usage,omitempty"`
}

func sortedList(s *strset.Set) []string {
	list := s.List()
	sort.Strings(list)
	return list
}
