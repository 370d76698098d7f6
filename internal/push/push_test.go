package push

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/pkg/logger"
)

func TestRegistryUnsubscribe(t *testing.T) {
	var r Registry
	calls := 0
	unsub := r.Subscribe(model.EventNewMessage, func(json.RawMessage) { calls++ })
	r.Subscribe(model.EventUserTyping, func(json.RawMessage) {})

	assert.True(t, r.Dispatch(model.EventNewMessage, nil))
	assert.Equal(t, 2, r.Len())

	unsub()
	unsub()
	assert.False(t, r.Dispatch(model.EventNewMessage, nil))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, r.Len())
}

func TestLocalRecordsAndDelivers(t *testing.T) {
	ch := NewLocal()

	var got model.ReadPayload
	ch.Subscribe(model.EventMessageRead, func(p json.RawMessage) {
		require.NoError(t, json.Unmarshal(p, &got))
	})
	require.NoError(t, ch.Deliver(model.EventMessageRead, model.ReadPayload{MessageID: "m1", ReaderID: "u2"}))
	assert.Equal(t, "m1", got.MessageID)

	require.NoError(t, ch.Send(context.Background(), model.EventJoinGroup, model.GroupSignal{GroupID: "g1"}))
	sent := ch.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, model.EventJoinGroup, sent[0].Event)
	assert.JSONEq(t, `{"group_id":"g1"}`, string(sent[0].Payload))

	ch.SendErr = errors.New("offline")
	assert.EqualError(t, ch.Send(context.Background(), model.EventLeaveGroup, nil), "offline")

	assert.True(t, ch.Connected())
	require.NoError(t, ch.Close())
	assert.False(t, ch.Connected())
	assert.ErrorIs(t, ch.Send(context.Background(), model.EventLeaveGroup, nil), ErrClosed)
}

func TestDecodeNewMessage(t *testing.T) {
	raw := json.RawMessage(`{
		"chat_type": "direct",
		"chat_id": "me",
		"message": {"id": "m1", "sender_id": "u2", "sender_name": "Bo", "content": "hey", "timestamp": "2024-03-01T10:00:00"}
	}`)

	ev, err := Decode(model.EventNewMessage, raw)
	require.NoError(t, err)

	nm, ok := ev.(NewMessage)
	require.True(t, ok)
	assert.Equal(t, model.ConversationKey{Kind: model.KindDirect, ID: "me"}, nm.Key)
	assert.Equal(t, model.ServerID("m1"), nm.Message.ID)
	assert.Equal(t, nm.Key, nm.Message.Key())
	assert.Equal(t, []string{"u2"}, nm.Message.Readers())
}

func TestDecodeTypingFallsBackToUserID(t *testing.T) {
	ev, err := Decode(model.EventUserTyping, json.RawMessage(`{"chat_type":"group","chat_id":"g1","user_id":"u3","is_typing":true}`))
	require.NoError(t, err)
	assert.Equal(t, Typing{
		Key:      model.ConversationKey{Kind: model.KindGroup, ID: "g1"},
		UserID:   "u3",
		UserName: "u3",
		IsTyping: true,
	}, ev)
}

func TestDecodeBulkReadDropsEmptyIDs(t *testing.T) {
	ev, err := Decode(model.EventMessagesRead, json.RawMessage(`{"message_ids":["a","","b"],"reader_id":"u2"}`))
	require.NoError(t, err)
	assert.Equal(t, BulkRead{MessageIDs: []string{"a", "b"}, ReaderID: "u2"}, ev)
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name  string
		event model.EventType
		raw   string
	}{
		{"not json", model.EventNewMessage, `{`},
		{"unknown kind", model.EventNewMessage, `{"chat_type":"room","chat_id":"x","message":{"id":"m","sender_id":"u"}}`},
		{"missing message", model.EventNewMessage, `{"chat_type":"group","chat_id":"g"}`},
		{"message without sender", model.EventMessageEdited, `{"chat_type":"group","chat_id":"g","message":{"id":"m"}}`},
		{"anonymous typing", model.EventUserTyping, `{"chat_type":"group","chat_id":"g"}`},
		{"read without reader", model.EventMessageRead, `{"message_id":"m"}`},
		{"bulk without reader", model.EventMessagesRead, `{"message_ids":["m"]}`},
		{"reaction without id", model.EventMessageReaction, `{"chat_type":"group","chat_id":"g"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.event, json.RawMessage(tt.raw))
			require.Error(t, err)
		})
	}

	_, err := Decode("message_deleted", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestWebSocketRoundTrip(t *testing.T) {
	received := make(chan Envelope, 1)
	var authHeader string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var env Envelope
		if json.Unmarshal(data, &env) == nil {
			received <- env
		}

		frame, _ := json.Marshal(Envelope{
			Type:    model.EventMessageRead,
			Payload: json.RawMessage(`{"message_id":"m1","reader_id":"u2"}`),
		})
		if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
			return
		}
		_, _, _ = conn.Read(ctx)
	}))
	defer srv.Close()

	got := make(chan json.RawMessage, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, err := DialWebSocket(ctx, url, "tok", logger.NewNop())
	require.NoError(t, err)
	ws.Subscribe(model.EventMessageRead, func(p json.RawMessage) { got <- p })

	require.NoError(t, ws.Send(ctx, model.EventTypingStart, model.TypingSignal{ChatType: "group", ChatID: "g1"}))
	select {
	case env := <-received:
		assert.Equal(t, model.EventTypingStart, env.Type)
		assert.JSONEq(t, `{"chat_type":"group","chat_id":"g1"}`, string(env.Payload))
	case <-ctx.Done():
		t.Fatal("server got nothing")
	}

	select {
	case p := <-got:
		assert.JSONEq(t, `{"message_id":"m1","reader_id":"u2"}`, string(p))
	case <-ctx.Done():
		t.Fatal("no inbound event")
	}

	assert.Equal(t, "Bearer tok", authHeader)
	assert.True(t, ws.Connected())
	_ = ws.Close()
	assert.False(t, ws.Connected())
	assert.ErrorIs(t, ws.Send(ctx, model.EventTypingStop, nil), ErrClosed)
}
