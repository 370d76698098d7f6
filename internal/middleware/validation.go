package middleware

import (
	"errors"
	"strconv"
	"unicode/utf8"

	"github.com/capitalize-ai/chatsync/internal/model"
)

// ValidateConversationKey parses a conversation key from path segments.
func ValidateConversationKey(kind, id string) (model.ConversationKey, error) {
	k, err := model.ParseKind(kind)
	if err != nil {
		return model.ConversationKey{}, err
	}
	if len(id) == 0 {
		return model.ConversationKey{}, errors.New("conversation ID cannot be empty")
	}
	if len(id) > 128 || !utf8.ValidString(id) {
		return model.ConversationKey{}, errors.New("invalid conversation ID format")
	}
	return model.ConversationKey{Kind: k, ID: id}, nil
}

// ParseLimit reads a positive page size capped at max, falling back to def.
func ParseLimit(raw string, def, max int) int {
	if raw == "" {
		return def
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return def
	}
	if parsed > max {
		return max
	}
	return parsed
}
