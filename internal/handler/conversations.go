// Package handler provides the diagnostics HTTP handlers of a running
// chat session.
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/chatsync/internal/attachment"
	"github.com/capitalize-ai/chatsync/internal/auth"
	"github.com/capitalize-ai/chatsync/internal/middleware"
	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/pkg/logger"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 200
)

// SessionView is the read side of a chat session.
type SessionView interface {
	Self() auth.Identity
	Active() model.ConversationKey
	Pending() bool
	Directory() []model.Conversation
	Conversation(key model.ConversationKey) (model.Conversation, bool)
	Messages(key model.ConversationKey) []model.Message
	Typing(key model.ConversationKey) []string
	HistoryError(key model.ConversationKey) error
}

// ConversationHandler serves the session state.
type ConversationHandler struct {
	session SessionView
	logger  *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(session SessionView, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		session: session,
		logger:  log,
	}
}

// SessionStatus is the body of GET /session.
type SessionStatus struct {
	UserID        string `json:"user_id"`
	DisplayName   string `json:"display_name"`
	Active        string `json:"active,omitempty"`
	Pending       bool   `json:"assistant_pending"`
	Conversations int    `json:"conversations"`
	Unread        int    `json:"unread"`
}

// MessageView is one message as shown to a diagnostics client.
type MessageView struct {
	ID          string           `json:"id"`
	SenderID    string           `json:"sender_id"`
	SenderName  string           `json:"sender_name"`
	Content     string           `json:"content"`
	SentAt      time.Time        `json:"sent_at"`
	Delivery    string           `json:"delivery"`
	ReadBy      []string         `json:"read_by"`
	Attachments []attachment.Ref `json:"attachments,omitempty"`
	Edited      bool             `json:"edited,omitempty"`
	System      bool             `json:"system,omitempty"`
}

func newMessageView(m model.Message) MessageView {
	return MessageView{
		ID:          m.ID.String(),
		SenderID:    m.SenderID,
		SenderName:  m.SenderName,
		Content:     m.Content,
		SentAt:      m.SentAt,
		Delivery:    model.DeliveryOf(&m).String(),
		ReadBy:      m.Readers(),
		Attachments: attachment.Refs(m.Content),
		Edited:      m.Edited,
		System:      m.System,
	}
}

// Status handles GET /session
func (h *ConversationHandler) Status(w http.ResponseWriter, r *http.Request) {
	self := h.session.Self()
	convs := h.session.Directory()

	status := SessionStatus{
		UserID:        self.UserID,
		DisplayName:   self.DisplayName,
		Pending:       h.session.Pending(),
		Conversations: len(convs),
	}
	if active := h.session.Active(); !active.IsZero() {
		status.Active = active.String()
	}
	for _, c := range convs {
		status.Unread += c.UnreadCount
	}

	writeJSON(w, http.StatusOK, status)
}

// List handles GET /conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	convs := h.session.Directory()
	writeJSON(w, http.StatusOK, model.ListConversationsResponse{
		Chats: convs,
		Count: len(convs),
	})
}

// Get handles GET /conversations/{kind}/{id}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	key, err := middleware.ValidateConversationKey(chi.URLParam(r, "kind"), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, ok := h.session.Conversation(key)
	if !ok {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversation": conv,
		"typing":       h.session.Typing(key),
		"active":       h.session.Active() == key,
	})
}

// Messages handles GET /conversations/{kind}/{id}/messages
func (h *ConversationHandler) Messages(w http.ResponseWriter, r *http.Request) {
	key, err := middleware.ValidateConversationKey(chi.URLParam(r, "kind"), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := middleware.ParseLimit(r.URL.Query().Get("limit"), defaultMessageLimit, maxMessageLimit)

	msgs := h.session.Messages(key)
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	views := make([]MessageView, len(msgs))
	for i, m := range msgs {
		views[i] = newMessageView(m)
	}

	resp := map[string]any{
		"messages": views,
		"count":    len(views),
	}
	if err := h.session.HistoryError(key); err != nil {
		resp["history_error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}
