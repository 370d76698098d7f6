package chat

import (
	"github.com/capitalize-ai/chatsync/internal/model"
)

// Store holds per-conversation message lists in arrival order. It is owned
// by the session loop and not safe for concurrent use.
type Store struct {
	lists map[model.ConversationKey][]model.Message
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{lists: make(map[model.ConversationKey][]model.Message)}
}

// LoadHistory replaces the list of key. Provisional entries still awaiting
// confirmation are kept after the fetched page.
func (s *Store) LoadHistory(key model.ConversationKey, msgs []model.Message) {
	s.MergeHistory(key, msgs, s.IDs(key))
}

// IDs returns the ids currently listed for key.
func (s *Store) IDs(key model.ConversationKey) map[model.MessageID]bool {
	ids := make(map[model.MessageID]bool, len(s.lists[key]))
	for _, m := range s.lists[key] {
		ids[m.ID] = true
	}
	return ids
}

// MergeHistory replaces the list of key with the fetched page. Entries
// listed when the fetch began (known) are dropped unless still
// provisional; anything that arrived since is kept after the page in
// arrival order. Ids in the page are never duplicated.
func (s *Store) MergeHistory(key model.ConversationKey, msgs []model.Message, known map[model.MessageID]bool) {
	list := make([]model.Message, 0, len(msgs))
	seen := make(map[model.MessageID]bool, len(msgs))
	for _, m := range msgs {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		m = m.Clone()
		m.ConversationKind, m.ConversationID = key.Kind, key.ID
		m.EnsureSenderRead()
		list = append(list, m)
	}
	for _, m := range s.lists[key] {
		if seen[m.ID] {
			continue
		}
		if m.ID.IsProvisional() || !known[m.ID] {
			seen[m.ID] = true
			list = append(list, m)
		}
	}
	s.lists[key] = list
}

// Clear empties the list of key.
func (s *Store) Clear(key model.ConversationKey) {
	s.lists[key] = nil
}

// AppendConfirmed appends an authoritative message. Messages whose id is
// already present are ignored.
func (s *Store) AppendConfirmed(msg model.Message) bool {
	key := msg.Key()
	if s.find(key, msg.ID) >= 0 {
		return false
	}
	msg = msg.Clone()
	msg.EnsureSenderRead()
	s.lists[key] = append(s.lists[key], msg)
	return true
}

// InsertOptimistic appends a provisional message.
func (s *Store) InsertOptimistic(msg model.Message) {
	msg = msg.Clone()
	msg.ReadBy = nil
	msg.EnsureSenderRead()
	s.lists[msg.Key()] = append(s.lists[msg.Key()], msg)
}

// Reconcile replaces the provisional entry with the confirmed message,
// keeping its position. When the confirmed id is already listed the
// provisional entry is dropped instead. It reports false when the
// provisional entry is gone.
func (s *Store) Reconcile(key model.ConversationKey, provisional model.MessageID, confirmed model.Message) bool {
	i := s.find(key, provisional)
	if i < 0 {
		return false
	}
	list := s.lists[key]
	if s.find(key, confirmed.ID) >= 0 {
		s.lists[key] = append(list[:i], list[i+1:]...)
		return true
	}

	confirmed = confirmed.Clone()
	confirmed.ConversationKind, confirmed.ConversationID = key.Kind, key.ID
	confirmed.EnsureSenderRead()
	for _, r := range list[i].Readers() {
		confirmed.MarkRead(r)
	}
	list[i] = confirmed
	return true
}

// Rollback removes the provisional entry and appends notice in its place.
// The notice is appended even when the entry is already gone.
func (s *Store) Rollback(key model.ConversationKey, provisional model.MessageID, notice model.Message) bool {
	removed := false
	if i := s.find(key, provisional); i >= 0 {
		list := s.lists[key]
		s.lists[key] = append(list[:i], list[i+1:]...)
		removed = true
	}
	s.lists[key] = append(s.lists[key], notice)
	return removed
}

// AppendSystem appends a client-authored notice.
func (s *Store) AppendSystem(notice model.Message) {
	s.lists[notice.Key()] = append(s.lists[notice.Key()], notice)
}

// ApplyReadReceipt adds reader to the readers of every listed message with
// the given server id. It returns the affected conversations.
func (s *Store) ApplyReadReceipt(messageID, readerID string) []model.ConversationKey {
	id := model.ServerID(messageID)
	var changed []model.ConversationKey
	for key, list := range s.lists {
		for i := range list {
			if list[i].ID == id && list[i].MarkRead(readerID) {
				changed = append(changed, key)
			}
		}
	}
	return changed
}

// ApplyBulkReadReceipt applies ApplyReadReceipt for every id.
func (s *Store) ApplyBulkReadReceipt(messageIDs []string, readerID string) []model.ConversationKey {
	seen := make(map[model.ConversationKey]bool)
	var changed []model.ConversationKey
	for _, id := range messageIDs {
		for _, key := range s.ApplyReadReceipt(id, readerID) {
			if !seen[key] {
				seen[key] = true
				changed = append(changed, key)
			}
		}
	}
	return changed
}

// ApplyEdit replaces content and edit markers in place. Readers are merged
// so the set never shrinks.
func (s *Store) ApplyEdit(msg model.Message) bool {
	key := msg.Key()
	i := s.find(key, msg.ID)
	if i < 0 {
		return false
	}
	cur := &s.lists[key][i]
	cur.Content = msg.Content
	cur.Edited = msg.Edited
	cur.EditedAt = msg.EditedAt
	for _, r := range msg.Readers() {
		cur.MarkRead(r)
	}
	return true
}

// ApplyReactions replaces the reaction list of a message.
func (s *Store) ApplyReactions(key model.ConversationKey, messageID string, reactions []model.Reaction) bool {
	i := s.find(key, model.ServerID(messageID))
	if i < 0 {
		return false
	}
	s.lists[key][i].Reactions = append([]model.Reaction(nil), reactions...)
	return true
}

// Get returns a copy of one message.
func (s *Store) Get(key model.ConversationKey, id model.MessageID) (model.Message, bool) {
	i := s.find(key, id)
	if i < 0 {
		return model.Message{}, false
	}
	return s.lists[key][i].Clone(), true
}

// Messages returns a copy of the list of key.
func (s *Store) Messages(key model.ConversationKey) []model.Message {
	list := s.lists[key]
	out := make([]model.Message, len(list))
	for i, m := range list {
		out[i] = m.Clone()
	}
	return out
}

func (s *Store) find(key model.ConversationKey, id model.MessageID) int {
	for i := range s.lists[key] {
		if s.lists[key][i].ID == id {
			return i
		}
	}
	return -1
}
