package chat

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// MaxMessageLength is the longest message, in characters, the service accepts.
const MaxMessageLength = 5000

// Validation errors. Nothing is sent when one is returned.
var (
	ErrEmptyMessage         = errors.New("message is empty")
	ErrMessageTooLong       = errors.New("message exceeds maximum length")
	ErrInvalidEncoding      = errors.New("message must be valid UTF-8")
	ErrAssistantBusy        = errors.New("assistant request already in flight")
	ErrNoActiveConversation = errors.New("no active conversation")
)

// ValidateContent checks outgoing text. An empty text is accepted when a
// file accompanies it.
func ValidateContent(content string, hasFile bool) error {
	if strings.TrimSpace(content) == "" && !hasFile {
		return ErrEmptyMessage
	}
	if !utf8.ValidString(content) {
		return ErrInvalidEncoding
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}
