package chat

import (
	"sort"

	"github.com/capitalize-ai/chatsync/internal/model"
)

// Directory is the ordered list of conversation summaries. The assistant
// conversation is always first; the rest are ordered by last message time,
// newest first. It is owned by the session loop and not safe for
// concurrent use.
type Directory struct {
	entries []model.Conversation
}

// NewDirectory returns a directory holding only the assistant conversation.
func NewDirectory() *Directory {
	return &Directory{entries: []model.Conversation{model.NewAssistantConversation()}}
}

// Load replaces the directory with the server list, synthesizing the
// assistant conversation when the server did not provide one.
func (d *Directory) Load(convs []model.Conversation) {
	entries := make([]model.Conversation, 0, len(convs)+1)
	var assistant *model.Conversation
	seen := make(map[model.ConversationKey]bool, len(convs))

	for _, c := range convs {
		if seen[c.Key()] {
			continue
		}
		seen[c.Key()] = true
		if c.Kind == model.KindAssistant {
			if assistant == nil {
				a := c.Clone()
				a.ID = model.AssistantConversationID
				assistant = &a
			}
			continue
		}
		entries = append(entries, c.Clone())
	}
	if assistant == nil {
		a := model.NewAssistantConversation()
		assistant = &a
	}

	d.entries = append([]model.Conversation{*assistant}, entries...)
	d.sort()
}

// ApplyInbound records a message from someone else. The unread counter
// grows unless the conversation is active. Unknown conversations are
// inserted.
func (d *Directory) ApplyInbound(msg model.Message, active bool) {
	i := d.ensure(msg.Key(), msg.SenderName)
	m := msg.Clone()
	d.entries[i].LastMessage = &m
	if !active {
		d.entries[i].UnreadCount++
	}
	d.sort()
}

// Touch records a message that must not count as unread, such as the
// user's own confirmed send or an assistant reply.
func (d *Directory) Touch(msg model.Message) {
	i := d.ensure(msg.Key(), "")
	m := msg.Clone()
	d.entries[i].LastMessage = &m
	d.sort()
}

// ApplyEdit refreshes a last message that was edited.
func (d *Directory) ApplyEdit(msg model.Message) bool {
	i := d.index(msg.Key())
	if i < 0 {
		return false
	}
	last := d.entries[i].LastMessage
	if last == nil || last.ID != msg.ID {
		return false
	}
	last.Content = msg.Content
	last.Edited = msg.Edited
	last.EditedAt = msg.EditedAt
	return true
}

// MarkActive clears the unread counter.
func (d *Directory) MarkActive(key model.ConversationKey) {
	if i := d.index(key); i >= 0 {
		d.entries[i].UnreadCount = 0
	}
}

// UpsertDirect inserts a direct conversation right after the assistant
// entry. It is a no-op when the conversation exists.
func (d *Directory) UpsertDirect(p model.Participant) model.ConversationKey {
	key := model.ConversationKey{Kind: model.KindDirect, ID: p.ID}
	if d.index(key) >= 0 {
		return key
	}
	name := p.Name
	if name == "" {
		name = p.ID
	}
	d.insertAfterAssistant(model.Conversation{
		ID:          p.ID,
		Kind:        model.KindDirect,
		DisplayName: name,
		Email:       p.Email,
	})
	return key
}

// Get returns a copy of one entry.
func (d *Directory) Get(key model.ConversationKey) (model.Conversation, bool) {
	i := d.index(key)
	if i < 0 {
		return model.Conversation{}, false
	}
	return d.entries[i].Clone(), true
}

// List returns a copy of every entry in display order.
func (d *Directory) List() []model.Conversation {
	out := make([]model.Conversation, len(d.entries))
	for i, c := range d.entries {
		out[i] = c.Clone()
	}
	return out
}

func (d *Directory) ensure(key model.ConversationKey, name string) int {
	if i := d.index(key); i >= 0 {
		return i
	}
	if name == "" {
		name = key.ID
	}
	if key.Kind == model.KindGroup {
		name = key.ID
	}
	d.insertAfterAssistant(model.Conversation{ID: key.ID, Kind: key.Kind, DisplayName: name})
	return 1
}

func (d *Directory) insertAfterAssistant(c model.Conversation) {
	d.entries = append(d.entries, model.Conversation{})
	copy(d.entries[2:], d.entries[1:])
	d.entries[1] = c
}

func (d *Directory) index(key model.ConversationKey) int {
	for i := range d.entries {
		if d.entries[i].Key() == key {
			return i
		}
	}
	return -1
}

func (d *Directory) sort() {
	sort.SliceStable(d.entries, func(i, j int) bool {
		a, b := &d.entries[i], &d.entries[j]
		if a.Kind == model.KindAssistant || b.Kind == model.KindAssistant {
			return a.Kind == model.KindAssistant && b.Kind != model.KindAssistant
		}
		if a.LastMessage == nil || b.LastMessage == nil {
			return a.LastMessage != nil && b.LastMessage == nil
		}
		return a.LastMessage.SentAt.After(b.LastMessage.SentAt)
	})
}
