package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/capitalize-ai/chatsync/internal/model"
)

type emitted struct {
	event model.EventType
	key   model.ConversationKey
}

func newTestTracker(clock *fakeClock) (*Tracker, *[]emitted) {
	var out []emitted
	tr := NewTracker(2*time.Second, 6*time.Second, clock.Now,
		func(d time.Duration, f func()) Timer { return clock.AfterFunc(d, f) },
		func(event model.EventType, key model.ConversationKey) {
			out = append(out, emitted{event, key})
		},
	)
	return tr, &out
}

func TestTrackerKeystrokeDebounce(t *testing.T) {
	clock := newFakeClock()
	tr, out := newTestTracker(clock)

	tr.Keystroke(groupKey)
	clock.Advance(time.Second)
	tr.Keystroke(groupKey)
	clock.Advance(1500 * time.Millisecond)

	assert.Equal(t, []emitted{{model.EventTypingStart, groupKey}}, *out)
	_, typing := tr.LocalTyping()
	assert.True(t, typing)

	clock.Advance(time.Second)
	assert.Equal(t, []emitted{
		{model.EventTypingStart, groupKey},
		{model.EventTypingStop, groupKey},
	}, *out)
	_, typing = tr.LocalTyping()
	assert.False(t, typing)
}

func TestTrackerIgnoresAssistant(t *testing.T) {
	tr, out := newTestTracker(newFakeClock())

	tr.Keystroke(model.AssistantKey)
	tr.Sent(model.AssistantKey)

	assert.Empty(t, *out)
}

func TestTrackerSwitchingConversationStopsOld(t *testing.T) {
	tr, out := newTestTracker(newFakeClock())
	other := model.ConversationKey{Kind: model.KindDirect, ID: "u2"}

	tr.Keystroke(groupKey)
	tr.Keystroke(other)

	assert.Equal(t, []emitted{
		{model.EventTypingStart, groupKey},
		{model.EventTypingStop, groupKey},
		{model.EventTypingStart, other},
	}, *out)
}

func TestTrackerSentStopsImmediately(t *testing.T) {
	clock := newFakeClock()
	tr, out := newTestTracker(clock)

	tr.Keystroke(groupKey)
	tr.Sent(groupKey)
	clock.Advance(5 * time.Second)

	assert.Equal(t, []emitted{
		{model.EventTypingStart, groupKey},
		{model.EventTypingStop, groupKey},
	}, *out)
}

func TestTrackerInboundTTL(t *testing.T) {
	clock := newFakeClock()
	tr, _ := newTestTracker(clock)

	assert.True(t, tr.SetTyping(groupKey, "Bo", true))
	assert.False(t, tr.SetTyping(groupKey, "Bo", true))
	assert.True(t, tr.SetTyping(groupKey, "Al", true))
	assert.Equal(t, []string{"Al", "Bo"}, tr.Typing(groupKey))

	clock.Advance(4 * time.Second)
	tr.SetTyping(groupKey, "Al", true)
	clock.Advance(3 * time.Second)

	assert.Equal(t, []model.ConversationKey{groupKey}, tr.Sweep())
	assert.Equal(t, []string{"Al"}, tr.Typing(groupKey))
	assert.Empty(t, tr.Sweep())
}

func TestTrackerStopAndClear(t *testing.T) {
	tr, _ := newTestTracker(newFakeClock())

	assert.False(t, tr.SetTyping(groupKey, "Bo", false))
	tr.SetTyping(groupKey, "Bo", true)
	assert.True(t, tr.SetTyping(groupKey, "Bo", false))
	assert.Nil(t, tr.Typing(groupKey))

	tr.SetTyping(groupKey, "Bo", true)
	assert.True(t, tr.Clear(groupKey))
	assert.False(t, tr.Clear(groupKey))
	assert.False(t, tr.SetTyping(groupKey, "", true))
}
