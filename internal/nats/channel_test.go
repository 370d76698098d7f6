package nats

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/internal/push"
	"github.com/capitalize-ai/chatsync/pkg/logger"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	mu        sync.Mutex
	subject   string
	handler   nats.MsgHandler
	published []published
}

func (f *fakeConn) Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subject = subj
	f.handler = cb
	return nil, nil
}

func (f *fakeConn) Publish(subj string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{subject: subj, data: data})
	return nil
}

func (f *fakeConn) IsConnected() bool {
	return true
}

func TestSubjects(t *testing.T) {
	s := Subjects{UserID: "u1"}

	assert.Equal(t, "chat.u1.new_message", s.Inbound(model.EventNewMessage))
	assert.Equal(t, "chat.u1.*", s.InboundWildcard())
	assert.Equal(t, "chat.out.u1.typing_start", s.Outbound(model.EventTypingStart))

	ev, ok := s.EventOf("chat.u1.user_typing")
	require.True(t, ok)
	assert.Equal(t, model.EventUserTyping, ev)

	for _, bad := range []string{"chat.u2.user_typing", "chat.u1.", "chat.u1.a.b", "other.u1.x"} {
		_, ok := s.EventOf(bad)
		assert.False(t, ok, bad)
	}

	custom := Subjects{Prefix: "campus", UserID: "u1"}
	assert.Equal(t, "campus.out.u1.join_group", custom.Outbound(model.EventJoinGroup))
}

func TestChannelDispatchesAndPublishes(t *testing.T) {
	fc := &fakeConn{}
	ch, err := newChannel(fc, Subjects{Prefix: "chat", UserID: "u1"}, logger.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "chat.u1.*", fc.subject)

	var got json.RawMessage
	ch.Subscribe(model.EventMessageRead, func(p json.RawMessage) { got = p })

	fc.handler(&nats.Msg{Subject: "chat.u1.message_read", Data: []byte(`{"message_id":"m1","reader_id":"u2"}`)})
	assert.JSONEq(t, `{"message_id":"m1","reader_id":"u2"}`, string(got))

	require.NoError(t, ch.Send(context.Background(), model.EventJoinGroup, model.GroupSignal{GroupID: "g1"}))
	require.Len(t, fc.published, 1)
	assert.Equal(t, "chat.out.u1.join_group", fc.published[0].subject)
	assert.JSONEq(t, `{"group_id":"g1"}`, string(fc.published[0].data))

	assert.True(t, ch.Connected())
	require.NoError(t, ch.Close())
	assert.False(t, ch.Connected())
	assert.ErrorIs(t, ch.Send(context.Background(), model.EventLeaveGroup, nil), push.ErrClosed)
}

func TestNewChannelRequiresUser(t *testing.T) {
	_, err := newChannel(&fakeConn{}, Subjects{}, logger.NewNop())
	require.Error(t, err)
}

// testConnect connects to NATS or skips the test if NATS_URL is not set.
func testConnect(t *testing.T) *Client {
	t.Helper()

	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	c, err := Connect(Config{URL: url, Name: "chatsync-test"}, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestChannelOverServer(t *testing.T) {
	c := testConnect(t)
	subjects := Subjects{Prefix: "chatsync-test", UserID: t.Name()}

	ch, err := NewChannel(c, subjects, logger.NewNop())
	require.NoError(t, err)
	defer ch.Close()

	got := make(chan json.RawMessage, 1)
	ch.Subscribe(model.EventNewMessage, func(p json.RawMessage) { got <- p })

	require.NoError(t, c.Conn().Publish(subjects.Inbound(model.EventNewMessage), []byte(`{"chat_type":"group"}`)))
	require.NoError(t, c.Conn().Flush())

	select {
	case p := <-got:
		assert.JSONEq(t, `{"chat_type":"group"}`, string(p))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	assert.True(t, c.IsConnected())
}

func TestTLSConfig(t *testing.T) {
	cfg, err := tlsConfigFor(Config{URL: "nats://localhost:4222"})
	require.NoError(t, err)
	assert.Nil(t, cfg)

	_, err = tlsConfigFor(Config{CertFile: "client.pem"})
	assert.ErrorContains(t, err, "must be set together")

	_, err = tlsConfigFor(Config{CAFile: filepath.Join(t.TempDir(), "missing.pem")})
	assert.ErrorContains(t, err, "failed to read CA file")

	empty := filepath.Join(t.TempDir(), "empty.pem")
	require.NoError(t, os.WriteFile(empty, []byte("not a cert"), 0o600))
	_, err = tlsConfigFor(Config{CAFile: empty})
	assert.ErrorContains(t, err, "no certificates found")
}
