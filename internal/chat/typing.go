package chat

import (
	"sort"
	"time"

	"github.com/capitalize-ai/chatsync/internal/model"
)

// Tracker keeps who is typing in each conversation and debounces the
// user's own typing broadcasts. It is owned by the session loop.
type Tracker struct {
	idle time.Duration
	ttl  time.Duration
	now  func() time.Time
	// schedule arms a timer whose callback runs on the session loop.
	schedule func(d time.Duration, f func()) Timer
	// emit sends typing_start or typing_stop for a conversation.
	emit func(event model.EventType, key model.ConversationKey)

	localKey    model.ConversationKey
	localTyping bool
	idleTimer   Timer
	idleGen     uint64

	inbound map[model.ConversationKey]map[string]time.Time
}

// NewTracker creates a tracker.
func NewTracker(idle, ttl time.Duration, now func() time.Time,
	schedule func(time.Duration, func()) Timer,
	emit func(model.EventType, model.ConversationKey),
) *Tracker {
	return &Tracker{
		idle:     idle,
		ttl:      ttl,
		now:      now,
		schedule: schedule,
		emit:     emit,
		inbound:  make(map[model.ConversationKey]map[string]time.Time),
	}
}

// Keystroke records local typing in key. The first keystroke broadcasts
// typing_start; every keystroke re-arms the idle timer.
func (t *Tracker) Keystroke(key model.ConversationKey) {
	if key.Kind == model.KindAssistant || key.IsZero() {
		return
	}
	if t.localTyping && t.localKey != key {
		t.Stop()
	}
	if !t.localTyping {
		t.localTyping = true
		t.localKey = key
		t.emit(model.EventTypingStart, key)
	}

	t.cancelIdle()
	gen := t.idleGen
	t.idleTimer = t.schedule(t.idle, func() {
		if gen == t.idleGen {
			t.Stop()
		}
	})
}

// Stop ends local typing, broadcasting typing_stop when it was active.
func (t *Tracker) Stop() {
	t.cancelIdle()
	if !t.localTyping {
		return
	}
	key := t.localKey
	t.localTyping = false
	t.localKey = model.ConversationKey{}
	t.emit(model.EventTypingStop, key)
}

// Sent handles a confirmed send in key: typing_stop is emitted right away
// and the idle timer cancelled.
func (t *Tracker) Sent(key model.ConversationKey) {
	if key.Kind == model.KindAssistant {
		return
	}
	if t.localTyping && t.localKey == key {
		t.Stop()
		return
	}
	t.emit(model.EventTypingStop, key)
}

// LocalTyping reports whether the user is flagged as typing, and where.
func (t *Tracker) LocalTyping() (model.ConversationKey, bool) {
	return t.localKey, t.localTyping
}

// SetTyping applies an inbound typing event. It reports whether the set of
// names changed.
func (t *Tracker) SetTyping(key model.ConversationKey, who string, typing bool) bool {
	if who == "" {
		return false
	}
	names := t.inbound[key]
	if !typing {
		if _, ok := names[who]; !ok {
			return false
		}
		delete(names, who)
		if len(names) == 0 {
			delete(t.inbound, key)
		}
		return true
	}

	if names == nil {
		names = make(map[string]time.Time)
		t.inbound[key] = names
	}
	_, existed := names[who]
	names[who] = t.now().Add(t.ttl)
	return !existed
}

// Sweep drops inbound entries whose stop event never arrived and returns
// the conversations that changed.
func (t *Tracker) Sweep() []model.ConversationKey {
	now := t.now()
	var changed []model.ConversationKey
	for key, names := range t.inbound {
		before := len(names)
		for who, expires := range names {
			if !now.Before(expires) {
				delete(names, who)
			}
		}
		if len(names) != before {
			changed = append(changed, key)
		}
		if len(names) == 0 {
			delete(t.inbound, key)
		}
	}
	return changed
}

// Clear forgets every inbound entry of key.
func (t *Tracker) Clear(key model.ConversationKey) bool {
	if len(t.inbound[key]) == 0 {
		return false
	}
	delete(t.inbound, key)
	return true
}

// Typing returns the sorted names typing in key.
func (t *Tracker) Typing(key model.ConversationKey) []string {
	names := t.inbound[key]
	if len(names) == 0 {
		return nil
	}
	out := make([]string, 0, len(names))
	for who := range names {
		out = append(out, who)
	}
	sort.Strings(out)
	return out
}

// Close cancels the idle timer without broadcasting.
func (t *Tracker) Close() {
	t.cancelIdle()
}

func (t *Tracker) cancelIdle() {
	t.idleGen++
	if t.idleTimer != nil {
		t.idleTimer.Stop()
		t.idleTimer = nil
	}
}
