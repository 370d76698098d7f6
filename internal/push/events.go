package push

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/capitalize-ai/chatsync/internal/model"
)

// ErrUnknownEvent is returned for event names the client does not consume.
var ErrUnknownEvent = errors.New("unknown push event")

// Event is a decoded, validated inbound event. The set of implementations
// is closed: NewMessage, Typing, Read, BulkRead, Edited, Reaction.
type Event interface {
	Type() model.EventType
}

// NewMessage is a message broadcast by the server.
type NewMessage struct {
	// Key is the conversation as addressed by the server.
	Key     model.ConversationKey
	Message model.Message
}

// Typing is a peer's typing presence change.
type Typing struct {
	Key      model.ConversationKey
	UserID   string
	UserName string
	IsTyping bool
}

// Read is a single read receipt.
type Read struct {
	MessageID string
	ReaderID  string
}

// BulkRead marks several messages read by one reader.
type BulkRead struct {
	MessageIDs []string
	ReaderID   string
}

// Edited replaces the content of an existing message.
type Edited struct {
	Key     model.ConversationKey
	Message model.Message
}

// Reaction replaces the reaction list of a message.
type Reaction struct {
	Key       model.ConversationKey
	MessageID string
	Reactions []model.Reaction
}

func (NewMessage) Type() model.EventType { return model.EventNewMessage }
func (Typing) Type() model.EventType     { return model.EventUserTyping }
func (Read) Type() model.EventType       { return model.EventMessageRead }
func (BulkRead) Type() model.EventType   { return model.EventMessagesRead }
func (Edited) Type() model.EventType     { return model.EventMessageEdited }
func (Reaction) Type() model.EventType   { return model.EventMessageReaction }

// InboundEvents lists every event Decode understands.
var InboundEvents = []model.EventType{
	model.EventNewMessage,
	model.EventUserTyping,
	model.EventMessageRead,
	model.EventMessagesRead,
	model.EventMessageEdited,
	model.EventMessageReaction,
}

// Decode turns a raw payload into a typed event.
func Decode(event model.EventType, raw json.RawMessage) (Event, error) {
	switch event {
	case model.EventNewMessage:
		key, msg, err := decodeMessagePayload(raw)
		if err != nil {
			return nil, err
		}
		return NewMessage{Key: key, Message: msg}, nil

	case model.EventMessageEdited:
		key, msg, err := decodeMessagePayload(raw)
		if err != nil {
			return nil, err
		}
		return Edited{Key: key, Message: msg}, nil

	case model.EventUserTyping:
		var p model.TypingPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", event, err)
		}
		key, err := parseKey(p.ChatType, p.ChatID)
		if err != nil {
			return nil, err
		}
		if p.UserID == "" && p.UserName == "" {
			return nil, errors.New("typing event names nobody")
		}
		name := p.UserName
		if name == "" {
			name = p.UserID
		}
		return Typing{Key: key, UserID: p.UserID, UserName: name, IsTyping: p.IsTyping}, nil

	case model.EventMessageRead:
		var p model.ReadPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", event, err)
		}
		if p.MessageID == "" || p.ReaderID == "" {
			return nil, errors.New("read receipt requires message_id and reader_id")
		}
		return Read{MessageID: p.MessageID, ReaderID: p.ReaderID}, nil

	case model.EventMessagesRead:
		var p model.BulkReadPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", event, err)
		}
		if p.ReaderID == "" {
			return nil, errors.New("bulk read receipt requires reader_id")
		}
		ids := make([]string, 0, len(p.MessageIDs))
		for _, id := range p.MessageIDs {
			if id != "" {
				ids = append(ids, id)
			}
		}
		return BulkRead{MessageIDs: ids, ReaderID: p.ReaderID}, nil

	case model.EventMessageReaction:
		var p model.ReactionPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", event, err)
		}
		if p.MessageID == "" {
			return nil, errors.New("reaction event requires message_id")
		}
		key, err := parseKey(p.ChatType, p.ChatID)
		if err != nil {
			return nil, err
		}
		return Reaction{Key: key, MessageID: p.MessageID, Reactions: p.Reactions}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, event)
}

func decodeMessagePayload(raw json.RawMessage) (model.ConversationKey, model.Message, error) {
	var p model.MessagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return model.ConversationKey{}, model.Message{}, fmt.Errorf("invalid message payload: %w", err)
	}
	key, err := parseKey(p.ChatType, p.ChatID)
	if err != nil {
		return model.ConversationKey{}, model.Message{}, err
	}
	if len(p.Message) == 0 {
		return model.ConversationKey{}, model.Message{}, errors.New("message payload has no message")
	}

	var msg model.Message
	if err := json.Unmarshal(p.Message, &msg); err != nil {
		return model.ConversationKey{}, model.Message{}, fmt.Errorf("invalid message: %w", err)
	}
	if msg.SenderID == "" {
		return model.ConversationKey{}, model.Message{}, errors.New("message has no sender")
	}
	msg.ConversationKind = key.Kind
	msg.ConversationID = key.ID
	return key, msg, nil
}

func parseKey(chatType, chatID string) (model.ConversationKey, error) {
	kind, err := model.ParseKind(chatType)
	if err != nil {
		return model.ConversationKey{}, err
	}
	if chatID == "" {
		return model.ConversationKey{}, errors.New("chat_id is required")
	}
	return model.ConversationKey{Kind: kind, ID: chatID}, nil
}
