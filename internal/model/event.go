package model

import (
	"encoding/json"
)

// EventType names a push channel event.
type EventType string

// Inbound events.
const (
	EventNewMessage      EventType = "new_message"
	EventUserTyping      EventType = "user_typing"
	EventMessageRead     EventType = "message_read"
	EventMessagesRead    EventType = "messages_read"
	EventMessageEdited   EventType = "message_edited"
	EventMessageReaction EventType = "message_reaction"
)

// Outbound events.
const (
	EventTypingStart EventType = "typing_start"
	EventTypingStop  EventType = "typing_stop"
	EventJoinGroup   EventType = "join_group"
	EventLeaveGroup  EventType = "leave_group"
)

// MessagePayload carries new_message and message_edited.
type MessagePayload struct {
	ChatType string          `json:"chat_type"`
	ChatID   string          `json:"chat_id"`
	Message  json.RawMessage `json:"message"`
}

// TypingPayload carries user_typing.
type TypingPayload struct {
	ChatType string `json:"chat_type"`
	ChatID   string `json:"chat_id"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	IsTyping bool   `json:"is_typing"`
}

// ReadPayload carries message_read.
type ReadPayload struct {
	MessageID string `json:"message_id"`
	ReaderID  string `json:"reader_id"`
}

// BulkReadPayload carries messages_read.
type BulkReadPayload struct {
	MessageIDs []string `json:"message_ids"`
	ReaderID   string   `json:"reader_id"`
}

// ReactionPayload carries message_reaction.
type ReactionPayload struct {
	MessageID string     `json:"message_id"`
	ChatType  string     `json:"chat_type"`
	ChatID    string     `json:"chat_id"`
	Reactions []Reaction `json:"reactions"`
}

// TypingSignal is the payload of typing_start and typing_stop.
type TypingSignal struct {
	ChatType string `json:"chat_type"`
	ChatID   string `json:"chat_id"`
}

// GroupSignal is the payload of join_group and leave_group.
type GroupSignal struct {
	GroupID string `json:"group_id"`
}
