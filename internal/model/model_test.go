package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/scylladb/go-set/strset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageIDNamespaces(t *testing.T) {
	p := ProvisionalID("m-99")
	s := ServerID("m-99")

	assert.NotEqual(t, p, s)
	assert.True(t, p.IsProvisional())
	assert.False(t, p.IsServer())
	assert.True(t, s.IsServer())
	assert.Equal(t, p.Value(), s.Value())
	assert.True(t, MessageID{}.IsZero())

	a, b := NewProvisionalID(), NewProvisionalID()
	assert.NotEqual(t, a, b)

	local := NewLocalID()
	assert.True(t, local.IsLocal())
	assert.False(t, local.IsProvisional())
	assert.False(t, local.IsServer())
}

func TestDeliveryOf(t *testing.T) {
	tests := []struct {
		name   string
		id     MessageID
		readBy []string
		want   Delivery
	}{
		{"provisional", ProvisionalID("x"), []string{"me"}, DeliverySent},
		{"provisional read by many", ProvisionalID("x"), []string{"me", "you"}, DeliverySent},
		{"server only sender", ServerID("m1"), []string{"me"}, DeliveryDelivered},
		{"server nobody", ServerID("m1"), nil, DeliveryDelivered},
		{"server read", ServerID("m1"), []string{"me", "you"}, DeliveryRead},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &Message{ID: tt.id, ReadBy: strset.New(tt.readBy...)}
			assert.Equal(t, tt.want, DeliveryOf(msg))
		})
	}
}

func TestMarkReadIdempotent(t *testing.T) {
	msg := &Message{ID: ServerID("m1"), SenderID: "me"}
	msg.EnsureSenderRead()

	assert.True(t, msg.MarkRead("you"))
	assert.False(t, msg.MarkRead("you"))
	assert.False(t, msg.MarkRead(""))
	assert.Equal(t, []string{"me", "you"}, msg.Readers())
}

func TestMessageUnmarshal(t *testing.T) {
	raw := `{
		"id": "m-1",
		"sender_id": "u1",
		"sender_name": "Ada",
		"chat_type": "group",
		"chat_id": "g1",
		"content": "hi",
		"timestamp": "2024-03-01T10:15:30.123456",
		"read_by": ["u2"],
		"reactions": [{"user_id": "u2", "user_name": "Bo", "emoji": "👍"}]
	}`

	var msg Message
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))

	assert.Equal(t, ServerID("m-1"), msg.ID)
	assert.Equal(t, KindGroup, msg.ConversationKind)
	assert.Equal(t, ConversationKey{Kind: KindGroup, ID: "g1"}, msg.Key())
	assert.Equal(t, time.Date(2024, 3, 1, 10, 15, 30, 123456000, time.UTC), msg.SentAt)
	assert.Equal(t, []string{"u1", "u2"}, msg.Readers(), "sender must always be a reader")
	require.Len(t, msg.Reactions, 1)
}

func TestMessageUnmarshalRejectsBadShape(t *testing.T) {
	cases := map[string]string{
		"missing id":   `{"sender_id":"u1","content":"x","timestamp":"2024-03-01T10:15:30Z"}`,
		"bad kind":     `{"id":"m","chat_type":"channel","timestamp":"2024-03-01T10:15:30Z"}`,
		"bad time":     `{"id":"m","timestamp":"yesterday"}`,
		"numeric time": `{"id":"m","timestamp":12}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			var msg Message
			require.Error(t, json.Unmarshal([]byte(raw), &msg))
		})
	}
}

func TestMessageJSONRoundTripKeepsReaders(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	msg := Message{
		ID:               ServerID("m-7"),
		ConversationKind: KindDirect,
		ConversationID:   "u2",
		SenderID:         "u1",
		Content:          "hello",
		SentAt:           at,
		ReadBy:           strset.New("u1", "u2"),
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var back Message
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, msg.ID, back.ID)
	assert.Equal(t, at, back.SentAt)
	assert.Equal(t, []string{"u1", "u2"}, back.Readers())
}

func TestCloneIsDeep(t *testing.T) {
	msg := Message{ID: ServerID("m"), SenderID: "a", ReadBy: strset.New("a")}
	cp := msg.Clone()
	cp.ReadBy.Add("b")

	assert.Equal(t, 1, msg.ReadBy.Size())
	assert.Equal(t, 2, cp.ReadBy.Size())
}

func TestConversationUnmarshal(t *testing.T) {
	raw := `{
		"id": "g1", "type": "group", "name": "Physics", "members_count": 4,
		"unread_count": -3,
		"last_message": {"id": "m1", "sender_id": "u1", "content": "x", "timestamp": "2024-03-01T10:00:00Z"}
	}`

	var conv Conversation
	require.NoError(t, json.Unmarshal([]byte(raw), &conv))

	assert.Equal(t, KindGroup, conv.Kind)
	assert.Equal(t, 4, conv.ParticipantCount)
	assert.Equal(t, 0, conv.UnreadCount)
	require.NotNil(t, conv.LastMessage)
	assert.Equal(t, conv.Key(), conv.LastMessage.Key())
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("DIRECT")
	require.NoError(t, err)
	assert.Equal(t, KindDirect, k)

	_, err = ParseKind("room")
	require.Error(t, err)
}

func TestParseConversationKey(t *testing.T) {
	key, err := ParseConversationKey("group/g1")
	require.NoError(t, err)
	assert.Equal(t, ConversationKey{Kind: KindGroup, ID: "g1"}, key)

	key, err = ParseConversationKey("assistant")
	require.NoError(t, err)
	assert.Equal(t, AssistantKey, key)

	key, err = ParseConversationKey(AssistantKey.String())
	require.NoError(t, err)
	assert.Equal(t, AssistantKey, key)

	for _, bad := range []string{"", "g1", "group/", "channel/x", "assistant/other"} {
		_, err := ParseConversationKey(bad)
		assert.Error(t, err, bad)
	}
}
