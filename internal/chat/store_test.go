package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chatsync/internal/model"
)

var groupKey = model.ConversationKey{Kind: model.KindGroup, ID: "g1"}

func ids(msgs []model.Message) []model.MessageID {
	out := make([]model.MessageID, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func provisional(id model.MessageID, key model.ConversationKey, content string) model.Message {
	return model.Message{
		ID:               id,
		ConversationKind: key.Kind,
		ConversationID:   key.ID,
		SenderID:         "me",
		Content:          content,
		SentAt:           t0,
	}
}

func TestStoreReconcilePreservesPosition(t *testing.T) {
	s := NewStore()
	p := model.ProvisionalID("p1")

	s.AppendConfirmed(serverMessage("m1", groupKey, "u2", "a", t0))
	s.InsertOptimistic(provisional(p, groupKey, "b"))
	s.AppendConfirmed(serverMessage("m2", groupKey, "u3", "c", t0))

	require.True(t, s.Reconcile(groupKey, p, serverMessage("m9", groupKey, "me", "b", t0)))

	assert.Equal(t, []model.MessageID{model.ServerID("m1"), model.ServerID("m9"), model.ServerID("m2")}, ids(s.Messages(groupKey)))
	_, ok := s.Get(groupKey, p)
	assert.False(t, ok)
}

func TestStoreReconcileAfterEcho(t *testing.T) {
	s := NewStore()
	p := model.ProvisionalID("p1")

	s.InsertOptimistic(provisional(p, groupKey, "hello"))
	s.AppendConfirmed(serverMessage("m9", groupKey, "me", "hello", t0))

	require.True(t, s.Reconcile(groupKey, p, serverMessage("m9", groupKey, "me", "hello", t0)))
	assert.Equal(t, []model.MessageID{model.ServerID("m9")}, ids(s.Messages(groupKey)))
}

func TestStoreReconcileMissingIsNoop(t *testing.T) {
	s := NewStore()
	s.AppendConfirmed(serverMessage("m1", groupKey, "u2", "a", t0))

	assert.False(t, s.Reconcile(groupKey, model.ProvisionalID("gone"), serverMessage("m2", groupKey, "me", "b", t0)))
	assert.Len(t, s.Messages(groupKey), 1)
}

func TestStoreRollback(t *testing.T) {
	s := NewStore()
	p := model.ProvisionalID("p1")
	s.InsertOptimistic(provisional(p, groupKey, "hello"))

	notice := model.NewSystemMessage(groupKey, model.NewLocalID(), SendFailedNotice, t0)
	require.True(t, s.Rollback(groupKey, p, notice))

	msgs := s.Messages(groupKey)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].System)
	assert.Equal(t, SendFailedNotice, msgs[0].Content)
}

func TestStoreInsertOptimisticReadBySender(t *testing.T) {
	s := NewStore()
	p := model.ProvisionalID("p1")
	s.InsertOptimistic(provisional(p, groupKey, "hello"))

	msg, ok := s.Get(groupKey, p)
	require.True(t, ok)
	assert.Equal(t, []string{"me"}, msg.Readers())
	assert.Equal(t, model.DeliverySent, model.DeliveryOf(&msg))
}

func TestStoreReadReceiptsAreIdempotent(t *testing.T) {
	s := NewStore()
	s.AppendConfirmed(serverMessage("m1", groupKey, "me", "a", t0))
	s.AppendConfirmed(serverMessage("m2", groupKey, "me", "b", t0))

	assert.Equal(t, []model.ConversationKey{groupKey}, s.ApplyReadReceipt("m1", "u2"))
	assert.Empty(t, s.ApplyReadReceipt("m1", "u2"))
	assert.Empty(t, s.ApplyReadReceipt("unknown", "u2"))

	assert.Equal(t, []model.ConversationKey{groupKey}, s.ApplyBulkReadReceipt([]string{"m1", "m2"}, "u3"))

	m1, _ := s.Get(groupKey, model.ServerID("m1"))
	m2, _ := s.Get(groupKey, model.ServerID("m2"))
	assert.Equal(t, []string{"me", "u2", "u3"}, m1.Readers())
	assert.Equal(t, []string{"me", "u3"}, m2.Readers())
	assert.Equal(t, model.DeliveryRead, model.DeliveryOf(&m1))
}

func TestStoreReceiptsCommute(t *testing.T) {
	a, b := NewStore(), NewStore()
	for _, s := range []*Store{a, b} {
		s.AppendConfirmed(serverMessage("m1", groupKey, "me", "a", t0))
	}

	a.ApplyReadReceipt("m1", "u2")
	a.ApplyBulkReadReceipt([]string{"m1"}, "u3")
	b.ApplyBulkReadReceipt([]string{"m1"}, "u3")
	b.ApplyReadReceipt("m1", "u2")
	b.ApplyReadReceipt("m1", "u2")

	assert.Equal(t, a.Messages(groupKey)[0].Readers(), b.Messages(groupKey)[0].Readers())
}

func TestStoreLoadHistoryKeepsPendingSends(t *testing.T) {
	s := NewStore()
	p := model.ProvisionalID("p1")
	s.AppendConfirmed(serverMessage("stale", groupKey, "u2", "old", t0))
	s.InsertOptimistic(provisional(p, groupKey, "in flight"))

	s.LoadHistory(groupKey, []model.Message{
		serverMessage("m1", groupKey, "u2", "a", t0),
		serverMessage("m1", groupKey, "u2", "a", t0),
		{ID: model.ServerID("m2"), SenderID: "u3", Content: "b", SentAt: t0.Add(time.Second)},
	})

	msgs := s.Messages(groupKey)
	assert.Equal(t, []model.MessageID{model.ServerID("m1"), model.ServerID("m2"), p}, ids(msgs))
	assert.Equal(t, groupKey, msgs[1].Key())
	assert.Equal(t, []string{"u3"}, msgs[1].Readers())

	s.LoadHistory(groupKey, nil)
	assert.Equal(t, []model.MessageID{p}, ids(s.Messages(groupKey)))
}

func TestStoreAppendConfirmedDeduplicates(t *testing.T) {
	s := NewStore()
	assert.True(t, s.AppendConfirmed(serverMessage("m1", groupKey, "u2", "a", t0)))
	assert.False(t, s.AppendConfirmed(serverMessage("m1", groupKey, "u2", "a", t0)))
	assert.Len(t, s.Messages(groupKey), 1)
}

func TestStoreApplyEditMergesReaders(t *testing.T) {
	s := NewStore()
	s.AppendConfirmed(serverMessage("m1", groupKey, "u2", "a", t0))
	s.ApplyReadReceipt("m1", "me")

	edited := serverMessage("m1", groupKey, "u2", "a (fixed)", t0)
	edited.Edited = true
	require.True(t, s.ApplyEdit(edited))

	msg, _ := s.Get(groupKey, model.ServerID("m1"))
	assert.Equal(t, "a (fixed)", msg.Content)
	assert.True(t, msg.Edited)
	assert.Equal(t, []string{"me", "u2"}, msg.Readers())
}

func TestStoreApplyReactions(t *testing.T) {
	s := NewStore()
	s.AppendConfirmed(serverMessage("m1", groupKey, "u2", "a", t0))

	reactions := []model.Reaction{{UserID: "u3", UserName: "Cy", Emoji: "🎉"}}
	require.True(t, s.ApplyReactions(groupKey, "m1", reactions))
	require.True(t, s.ApplyReactions(groupKey, "m1", reactions))
	assert.False(t, s.ApplyReactions(groupKey, "nope", reactions))

	msg, _ := s.Get(groupKey, model.ServerID("m1"))
	assert.Equal(t, reactions, msg.Reactions)
}

func TestStoreMergeHistoryKeepsLateArrivals(t *testing.T) {
	s := NewStore()
	s.AppendConfirmed(serverMessage("m0", groupKey, "u2", "before", t0))
	known := s.IDs(groupKey)

	p := model.ProvisionalID("p1")
	s.InsertOptimistic(provisional(p, groupKey, "hello"))
	require.True(t, s.Reconcile(groupKey, p, serverMessage("99", groupKey, "me", "hello", t0)))
	s.AppendConfirmed(serverMessage("m5", groupKey, "u2", "hi", t0))

	s.MergeHistory(groupKey, []model.Message{
		serverMessage("m1", groupKey, "u2", "a", t0),
		serverMessage("99", groupKey, "me", "hello", t0),
	}, known)

	assert.Equal(t, []model.MessageID{
		model.ServerID("m1"),
		model.ServerID("99"),
		model.ServerID("m5"),
	}, ids(s.Messages(groupKey)))
}
