package chat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chatsync/internal/attachment"
	"github.com/capitalize-ai/chatsync/internal/auth"
	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/internal/push"
)

var errUnavailable = errors.New("service unavailable")

type fakeService struct {
	mu sync.Mutex

	convs      []model.Conversation
	convErr    error
	history    map[model.ConversationKey][]model.Message
	historyErr error
	// historyGate, when set, holds history responses until closed.
	historyGate chan struct{}
	convCalls   int

	sendFn      func(model.SendMessageRequest) (model.Message, error)
	assistantFn func(model.AssistantRequest) (model.AssistantReply, error)
	suggestFn   func(string) ([]model.CommandSuggestion, error)
	uploadFn    func(model.UploadRequest) (attachment.Ref, error)

	sent          []model.SendMessageRequest
	markedRead    []string
	markedConvs   []model.ConversationKey
	historyCalls  []model.ConversationKey
	assistantReqs []model.AssistantRequest
}

func newFakeService() *fakeService {
	return &fakeService{history: make(map[model.ConversationKey][]model.Message)}
}

func (f *fakeService) ListConversations(context.Context) ([]model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.convCalls++
	return f.convs, f.convErr
}

func (f *fakeService) FetchHistory(_ context.Context, key model.ConversationKey, _ int) ([]model.Message, error) {
	f.mu.Lock()
	f.historyCalls = append(f.historyCalls, key)
	msgs, err, gate := f.history[key], f.historyErr, f.historyGate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return msgs, err
}

func (f *fakeService) FetchAssistantHistory(context.Context, int) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.historyCalls = append(f.historyCalls, model.AssistantKey)
	return f.history[model.AssistantKey], f.historyErr
}

func (f *fakeService) SendMessage(_ context.Context, req model.SendMessageRequest) (model.Message, error) {
	f.mu.Lock()
	f.sent = append(f.sent, req)
	fn := f.sendFn
	f.mu.Unlock()

	if fn == nil {
		return model.Message{}, errUnavailable
	}
	return fn(req)
}

func (f *fakeService) SendAssistantMessage(_ context.Context, req model.AssistantRequest) (model.AssistantReply, error) {
	f.mu.Lock()
	f.assistantReqs = append(f.assistantReqs, req)
	fn := f.assistantFn
	f.mu.Unlock()

	if fn == nil {
		return model.AssistantReply{}, errUnavailable
	}
	return fn(req)
}

func (f *fakeService) SuggestCommands(_ context.Context, partial string) ([]model.CommandSuggestion, error) {
	f.mu.Lock()
	fn := f.suggestFn
	f.mu.Unlock()

	if fn == nil {
		return nil, errUnavailable
	}
	return fn(partial)
}

func (f *fakeService) UploadFile(_ context.Context, req model.UploadRequest) (attachment.Ref, error) {
	f.mu.Lock()
	fn := f.uploadFn
	f.mu.Unlock()

	if fn == nil {
		return attachment.Ref{}, errUnavailable
	}
	return fn(req)
}

func (f *fakeService) MarkRead(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markedRead = append(f.markedRead, id)
	return nil
}

func (f *fakeService) MarkConversationRead(_ context.Context, key model.ConversationKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markedConvs = append(f.markedConvs, key)
	return nil
}

func (f *fakeService) set(fn func(f *fakeService)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeService) sentRequests() []model.SendMessageRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.SendMessageRequest(nil), f.sent...)
}

// fakeClock fires timers only when advanced.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	at   time.Time
	f    func()
	done bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return &fakeTimerHandle{c: c, t: t}
}

type fakeTimerHandle struct {
	c *fakeClock
	t *fakeTimer
}

func (h *fakeTimerHandle) Stop() bool {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	was := !h.t.done
	h.t.done = true
	return was
}

// Advance moves the clock and fires every timer that came due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.done && !t.at.After(c.now) {
			t.done = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

type harness struct {
	t     *testing.T
	svc   *fakeService
	ch    *push.Local
	clock *fakeClock
	s     *Session

	mu      sync.Mutex
	changes []Change
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		t:     t,
		svc:   newFakeService(),
		ch:    push.NewLocal(),
		clock: newFakeClock(),
	}
	s, err := New(Options{
		Service:   h.svc,
		Push:      h.ch,
		Identity:  auth.Identity{UserID: "me", DisplayName: "Me"},
		Now:       h.clock.Now,
		AfterFunc: h.clock.AfterFunc,
		OnChange: func(c Change) {
			h.mu.Lock()
			h.changes = append(h.changes, c)
			h.mu.Unlock()
		},
	})
	require.NoError(t, err)
	h.s = s

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) settle() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(h.t, h.s.Settle(ctx))
}

func (h *harness) activate(key model.ConversationKey) {
	h.t.Helper()
	require.NoError(h.t, h.s.Activate(context.Background(), key))
	h.settle()
}

func (h *harness) deliver(event model.EventType, payload any) {
	h.t.Helper()
	require.NoError(h.t, h.ch.Deliver(event, payload))
	h.settle()
}

// sentEvents returns the names of outbound push events so far.
func (h *harness) sentEvents() []model.EventType {
	var out []model.EventType
	for _, s := range h.ch.Sent() {
		out = append(out, s.Event)
	}
	return out
}

func (h *harness) sawChange(kind ChangeKind, key model.ConversationKey) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.changes {
		if c.Kind == kind && c.Key == key {
			return true
		}
	}
	return false
}

func serverMessage(id string, key model.ConversationKey, sender, content string, at time.Time) model.Message {
	msg := model.Message{
		ID:               model.ServerID(id),
		ConversationKind: key.Kind,
		ConversationID:   key.ID,
		SenderID:         sender,
		SenderName:       sender,
		Content:          content,
		SentAt:           at,
	}
	msg.EnsureSenderRead()
	return msg
}

func messagePayload(key model.ConversationKey, msg model.Message) model.MessagePayload {
	raw, err := msg.MarshalJSON()
	if err != nil {
		panic(err)
	}
	return model.MessagePayload{ChatType: string(key.Kind), ChatID: key.ID, Message: raw}
}
