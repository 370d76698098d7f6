package chat

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chatsync/internal/attachment"
	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/pkg/metrics"
)

// Notices appended in place of a failed send.
const (
	SendFailedNotice   = "Failed to send message. Please try again."
	UploadFailedNotice = "Failed to upload file. Please try again."
)

var errNoReply = errors.New("assistant response carried no reply")

// SendState is the lifecycle of one send.
type SendState int

const (
	// SendComposing covers work before dispatch, such as an upload.
	SendComposing SendState = iota
	SendSending
	SendConfirmed
	SendFailed
)

func (s SendState) String() string {
	switch s {
	case SendComposing:
		return "composing"
	case SendSending:
		return "sending"
	case SendConfirmed:
		return "confirmed"
	case SendFailed:
		return "failed"
	}
	return "unknown"
}

type sendRecord struct {
	key       model.ConversationKey
	state     SendState
	started   time.Time
	confirmed model.MessageID
}

// Draft is what the user submits.
type Draft struct {
	Text    string
	File    *model.File
	ReplyTo string
}

// Send submits a draft to the active conversation. It returns once the
// optimistic entry is in place, with the provisional id tracking the send.
func (s *Session) Send(ctx context.Context, draft Draft) (model.MessageID, error) {
	if err := ValidateContent(draft.Text, draft.File != nil); err != nil {
		return model.MessageID{}, err
	}

	var (
		id  model.MessageID
		err error
	)
	execErr := s.exec(ctx, func() {
		key := s.active
		if key.IsZero() {
			err = ErrNoActiveConversation
			return
		}

		switch {
		case key.Kind == model.KindAssistant:
			id, err = s.sendAssistant(draft)
		case draft.File != nil:
			id = s.sendWithUpload(key, draft)
		default:
			id = model.NewProvisionalID()
			s.track(id, key)
			s.dispatch(key, id, draft.Text, draft.ReplyTo)
		}
		if err == nil {
			s.composer = ""
			if s.catalog.Close() {
				s.notify(ChangeSuggestions, key)
			}
		}
	})
	if execErr != nil {
		return model.MessageID{}, execErr
	}
	return id, err
}

// SendState returns the state of the send tracked by a provisional id.
func (s *Session) SendState(id model.MessageID) (SendState, bool) {
	var (
		state SendState
		ok    bool
	)
	s.read(func() {
		if rec := s.sends[id]; rec != nil {
			state, ok = rec.state, true
		}
	})
	return state, ok
}

// ConfirmedID returns the server id a provisional id was reconciled to.
func (s *Session) ConfirmedID(id model.MessageID) (model.MessageID, bool) {
	var (
		confirmed model.MessageID
		ok        bool
	)
	s.read(func() {
		if rec := s.sends[id]; rec != nil && !rec.confirmed.IsZero() {
			confirmed, ok = rec.confirmed, true
		}
	})
	return confirmed, ok
}

func (s *Session) track(id model.MessageID, key model.ConversationKey) *sendRecord {
	rec := &sendRecord{key: key, state: SendComposing, started: s.now()}
	s.sends[id] = rec
	return rec
}

func (s *Session) finish(id model.MessageID, state SendState) {
	rec := s.sends[id]
	if rec == nil {
		return
	}
	rec.state = state
	outcome := "confirmed"
	if state == SendFailed {
		outcome = "failed"
	}
	metrics.RecordSend(string(rec.key.Kind), outcome, s.now().Sub(rec.started).Seconds())
}

func (s *Session) optimistic(key model.ConversationKey, id model.MessageID, content, replyTo string) {
	s.store.InsertOptimistic(model.Message{
		ID:               id,
		ConversationKind: key.Kind,
		ConversationID:   key.ID,
		SenderID:         s.self.UserID,
		SenderName:       s.self.DisplayName,
		Content:          content,
		SentAt:           s.now(),
		ReplyTo:          replyTo,
	})
	s.notify(ChangeMessages, key)
}

// dispatch inserts the optimistic entry and sends it to a direct or group
// conversation.
func (s *Session) dispatch(key model.ConversationKey, id model.MessageID, content, replyTo string) {
	s.optimistic(key, id, content, replyTo)
	s.sends[id].state = SendSending

	req := model.SendMessageRequest{
		Content:  content,
		ChatType: key.Kind,
		ChatID:   key.ID,
		ReplyTo:  replyTo,
	}
	s.spawn(func(ctx context.Context) func() {
		confirmed, err := s.svc.SendMessage(ctx, req)
		return func() {
			if err != nil {
				s.logger.Warn("send failed", zap.Stringer("conversation", key), zap.Error(err))
				s.rollback(key, id, SendFailedNotice)
				return
			}
			s.confirm(key, id, confirmed)
			s.typing.Sent(key)
			s.dir.Touch(s.storedOr(key, confirmed))
			s.notify(ChangeDirectory, key)
		}
	})
}

// sendWithUpload uploads the file first and then sends its reference as
// text. The send stays in SendComposing until the upload returns.
func (s *Session) sendWithUpload(key model.ConversationKey, draft Draft) model.MessageID {
	id := model.NewProvisionalID()
	s.track(id, key)

	file := *draft.File
	s.spawn(func(ctx context.Context) func() {
		ref, err := s.svc.UploadFile(ctx, model.UploadRequest{Key: key, File: file})
		return func() {
			if err != nil {
				s.logger.Warn("upload failed", zap.Stringer("conversation", key), zap.String("file", file.Name), zap.Error(err))
				s.rollback(key, id, UploadFailedNotice)
				return
			}
			content, err := attachment.Append(draft.Text, ref)
			if err != nil {
				s.logger.Warn("cannot reference upload", zap.String("file", ref.Filename), zap.Error(err))
				s.rollback(key, id, UploadFailedNotice)
				return
			}
			s.dispatch(key, id, content, draft.ReplyTo)
		}
	})
	return id
}

// sendAssistant sends to the assistant. Only one request may be in flight.
func (s *Session) sendAssistant(draft Draft) (model.MessageID, error) {
	if s.pending {
		return model.MessageID{}, ErrAssistantBusy
	}

	content := draft.Text
	if draft.File != nil {
		var err error
		content, err = attachment.Append(draft.Text, attachment.Ref{Filename: draft.File.Name})
		if err != nil {
			return model.MessageID{}, err
		}
	}

	key := model.AssistantKey
	id := model.NewProvisionalID()
	s.track(id, key)
	s.optimistic(key, id, content, "")
	s.sends[id].state = SendSending
	s.setPending(true)

	req := model.AssistantRequest{
		Text:  draft.Text,
		Scope: s.opts.AssistantScope,
		File:  draft.File,
	}
	s.spawn(func(ctx context.Context) func() {
		reply, err := s.svc.SendAssistantMessage(ctx, req)
		if err == nil && reply.Reply == nil {
			err = errNoReply
		}
		return func() {
			s.setPending(false)
			if err != nil {
				s.logger.Warn("assistant request failed", zap.Error(err))
				s.rollback(key, id, SendFailedNotice)
				return
			}

			if reply.UserMessage != nil {
				s.confirm(key, id, *reply.UserMessage)
			} else {
				s.finish(id, SendConfirmed)
			}
			if reply.CommandExecuted {
				s.logger.Info("assistant executed command", zap.String("text", draft.Text))
			}

			answer := *reply.Reply
			answer.ConversationKind, answer.ConversationID = key.Kind, key.ID
			if s.store.AppendConfirmed(answer) {
				s.notify(ChangeMessages, key)
			}
			s.dir.Touch(answer)
			s.notify(ChangeDirectory, key)
		}
	})
	return id, nil
}

func (s *Session) confirm(key model.ConversationKey, id model.MessageID, confirmed model.Message) {
	confirmed.ConversationKind, confirmed.ConversationID = key.Kind, key.ID
	if !s.store.Reconcile(key, id, confirmed) {
		metrics.ReconcileMissesTotal.Inc()
		s.logger.Debug("provisional message already gone", zap.Stringer("id", id))
	}
	if rec := s.sends[id]; rec != nil {
		rec.confirmed = confirmed.ID
	}
	s.finish(id, SendConfirmed)
	s.notify(ChangeMessages, key)
}

func (s *Session) rollback(key model.ConversationKey, id model.MessageID, text string) {
	notice := model.NewSystemMessage(key, model.NewLocalID(), text, s.now())
	s.store.Rollback(key, id, notice)
	s.finish(id, SendFailed)
	s.notify(ChangeMessages, key)
}

// storedOr returns the stored copy of msg, which carries merged readers,
// falling back to msg itself.
func (s *Session) storedOr(key model.ConversationKey, msg model.Message) model.Message {
	if stored, ok := s.store.Get(key, msg.ID); ok {
		return stored
	}
	msg.ConversationKind, msg.ConversationID = key.Kind, key.ID
	return msg
}

func (s *Session) setPending(pending bool) {
	s.pending = pending
	metrics.SetAssistantPending(pending)
	s.notify(ChangePending, model.AssistantKey)
}
