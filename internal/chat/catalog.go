package chat

import (
	"strings"

	"github.com/capitalize-ai/chatsync/internal/model"
)

// CommandSentinel starts every assistant slash command.
const CommandSentinel = "/"

// IsCommand reports whether text should be looked up in the command catalog.
func IsCommand(text string) bool {
	return strings.HasPrefix(text, CommandSentinel)
}

// Catalog holds the suggestion panel state. Each lookup gets a sequence
// number; only the answer to the latest lookup is shown.
type Catalog struct {
	seq         uint64
	suggestions []model.CommandSuggestion
	open        bool
}

// Begin starts a lookup and returns its sequence number.
func (c *Catalog) Begin() uint64 {
	c.seq++
	return c.seq
}

// Resolve applies the answer of lookup seq. Stale answers are discarded.
// A failed lookup empties the panel.
func (c *Catalog) Resolve(seq uint64, suggestions []model.CommandSuggestion, err error) bool {
	if seq != c.seq {
		return false
	}
	if err != nil {
		suggestions = nil
	}
	c.suggestions = append([]model.CommandSuggestion(nil), suggestions...)
	c.open = len(c.suggestions) > 0
	return true
}

// Close hides the panel and invalidates any lookup in flight.
func (c *Catalog) Close() bool {
	changed := c.open || len(c.suggestions) > 0
	c.seq++
	c.suggestions = nil
	c.open = false
	return changed
}

// Open reports whether the panel is shown.
func (c *Catalog) Open() bool {
	return c.open
}

// Suggestions returns a copy of the current suggestions.
func (c *Catalog) Suggestions() []model.CommandSuggestion {
	return append([]model.CommandSuggestion(nil), c.suggestions...)
}
