// Package chat implements the client-side chat session: conversation
// directory, message store, typing presence, command suggestions and the
// send pipeline, all driven from a single event loop.
package chat

import (
	"context"
	"time"

	"github.com/capitalize-ai/chatsync/internal/attachment"
	"github.com/capitalize-ai/chatsync/internal/model"
)

// Service is the external chat service.
type Service interface {
	ListConversations(ctx context.Context) ([]model.Conversation, error)
	FetchHistory(ctx context.Context, key model.ConversationKey, limit int) ([]model.Message, error)
	FetchAssistantHistory(ctx context.Context, limit int) ([]model.Message, error)
	SendMessage(ctx context.Context, req model.SendMessageRequest) (model.Message, error)
	SendAssistantMessage(ctx context.Context, req model.AssistantRequest) (model.AssistantReply, error)
	SuggestCommands(ctx context.Context, partial string) ([]model.CommandSuggestion, error)
	UploadFile(ctx context.Context, req model.UploadRequest) (attachment.Ref, error)
	MarkRead(ctx context.Context, messageID string) error
	MarkConversationRead(ctx context.Context, key model.ConversationKey) error
}

// Timer is a pending callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. It matches time.AfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// ChangeKind says which part of the session state changed.
type ChangeKind int

const (
	ChangeDirectory ChangeKind = iota
	ChangeMessages
	ChangeTyping
	ChangeSuggestions
	ChangePending
	ChangeActive
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeDirectory:
		return "directory"
	case ChangeMessages:
		return "messages"
	case ChangeTyping:
		return "typing"
	case ChangeSuggestions:
		return "suggestions"
	case ChangePending:
		return "pending"
	case ChangeActive:
		return "active"
	}
	return "unknown"
}

// Change is reported to the session observer after every mutation.
type Change struct {
	Kind ChangeKind
	// Key is the affected conversation, zero for session-wide changes.
	Key model.ConversationKey
}
