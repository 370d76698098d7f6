package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chatsync/internal/auth"
	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/internal/push"
	"github.com/capitalize-ai/chatsync/pkg/logger"
	"github.com/capitalize-ai/chatsync/pkg/metrics"
)

// ErrSessionClosed is returned by calls made after the loop stopped.
var ErrSessionClosed = errors.New("chat session closed")

const (
	queueSize    = 256
	outboundSize = 64
)

// Defaults for Options left zero.
const (
	DefaultHistoryLimit   = 50
	MaxHistoryLimit       = 100
	DefaultTypingIdle     = 2 * time.Second
	DefaultTypingTTL      = 6 * time.Second
	DefaultSweepInterval  = time.Second
	DefaultAssistantScope = "all"
)

// Options configures a Session.
type Options struct {
	Service  Service
	Push     push.Channel
	Identity auth.Identity
	Logger   *logger.Logger

	HistoryLimit   int
	AssistantScope string
	RequestTimeout time.Duration

	TypingIdle    time.Duration
	TypingTTL     time.Duration
	SweepInterval time.Duration

	// Now and AfterFunc replace the wall clock in tests.
	Now       func() time.Time
	AfterFunc AfterFunc

	// OnChange is called on the session loop after every mutation.
	OnChange func(Change)
}

type outboundEvent struct {
	event   model.EventType
	payload any
}

// Session is one user's chat session. Every state mutation runs on a
// single loop started by Run; network calls run on their own goroutines
// and post their completion back to the loop.
type Session struct {
	svc      Service
	ch       push.Channel
	self     auth.Identity
	logger   *logger.Logger
	opts     Options
	now      func() time.Time
	after    AfterFunc
	onChange func(Change)

	dir     *Directory
	store   *Store
	typing  *Tracker
	catalog *Catalog
	sends   map[model.MessageID]*sendRecord

	active     model.ConversationKey
	composer   string
	pending    bool
	historyErr map[model.ConversationKey]error

	ctx        context.Context
	inflight   int
	waiters    []chan struct{}
	sweepTimer Timer

	queue    chan func()
	outbound chan outboundEvent
	stopped  chan struct{}
	unsubs   []func()
}

// New creates a session and subscribes it to the push channel. Inbound
// events are queued until Run starts the loop.
func New(opts Options) (*Session, error) {
	if opts.Service == nil {
		return nil, errors.New("chat session requires a service")
	}
	if opts.Push == nil {
		return nil, errors.New("chat session requires a push channel")
	}
	if opts.Identity.UserID == "" {
		return nil, errors.New("chat session requires a user id")
	}

	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.HistoryLimit > MaxHistoryLimit {
		opts.HistoryLimit = MaxHistoryLimit
	}
	if opts.AssistantScope == "" {
		opts.AssistantScope = DefaultAssistantScope
	}
	if opts.TypingIdle <= 0 {
		opts.TypingIdle = DefaultTypingIdle
	}
	if opts.TypingTTL <= 0 {
		opts.TypingTTL = DefaultTypingTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = realAfterFunc
	}
	if opts.Identity.DisplayName == "" {
		opts.Identity.DisplayName = opts.Identity.UserID
	}

	s := &Session{
		svc:        opts.Service,
		ch:         opts.Push,
		self:       opts.Identity,
		logger:     opts.Logger.Named("chat").WithSession(opts.Identity.UserID, opts.Identity.DisplayName),
		opts:       opts,
		now:        opts.Now,
		after:      opts.AfterFunc,
		onChange:   opts.OnChange,
		dir:        NewDirectory(),
		store:      NewStore(),
		catalog:    &Catalog{},
		sends:      make(map[model.MessageID]*sendRecord),
		historyErr: make(map[model.ConversationKey]error),
		ctx:        context.Background(),
		queue:      make(chan func(), queueSize),
		outbound:   make(chan outboundEvent, outboundSize),
		stopped:    make(chan struct{}),
	}
	s.typing = NewTracker(opts.TypingIdle, opts.TypingTTL, opts.Now, s.schedule, s.emitTyping)

	for _, event := range push.InboundEvents {
		s.unsubs = append(s.unsubs, s.ch.Subscribe(event, s.handlePush(event)))
	}
	return s, nil
}

// Run executes the session loop until ctx is cancelled. Push
// subscriptions are removed when it returns.
func (s *Session) Run(ctx context.Context) error {
	s.ctx = ctx
	defer s.shutdown()

	go s.sendOutbound(ctx)
	s.armSweep()

	s.logger.Info("chat session started")
	for {
		select {
		case fn := <-s.queue:
			fn()
		case <-ctx.Done():
			s.logger.Info("chat session stopped")
			return nil
		}
	}
}

func (s *Session) shutdown() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
	s.typing.Close()
	if s.sweepTimer != nil {
		s.sweepTimer.Stop()
	}
	close(s.stopped)
}

// Settle blocks until no network call or outbound signal is in flight.
func (s *Session) Settle(ctx context.Context) error {
	idle := make(chan struct{})
	err := s.exec(ctx, func() {
		if s.inflight == 0 {
			close(idle)
			return
		}
		s.waiters = append(s.waiters, idle)
	})
	if err != nil {
		return err
	}

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return ErrSessionClosed
	}
}

// post queues fn on the loop.
func (s *Session) post(fn func()) bool {
	select {
	case s.queue <- fn:
		return true
	case <-s.stopped:
		return false
	}
}

// exec runs fn on the loop and waits for it.
func (s *Session) exec(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}

	select {
	case s.queue <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return ErrSessionClosed
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		select {
		case <-done:
			return nil
		default:
			return ErrSessionClosed
		}
	}
}

// read runs fn on the loop for accessors; a stopped session yields zero
// values.
func (s *Session) read(fn func()) {
	_ = s.exec(context.Background(), fn)
}

// spawn runs call off the loop. The returned completion, if any, runs on
// the loop afterwards. Must be called on the loop.
func (s *Session) spawn(call func(ctx context.Context) func()) {
	s.inflight++
	ctx := s.ctx
	timeout := s.opts.RequestTimeout

	go func() {
		callCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		complete := call(callCtx)
		s.post(func() {
			if complete != nil {
				complete()
			}
			s.settled()
		})
	}()
}

func (s *Session) settled() {
	s.inflight--
	if s.inflight > 0 {
		return
	}
	for _, w := range s.waiters {
		close(w)
	}
	s.waiters = nil
}

// schedule arms a timer whose callback runs on the loop.
func (s *Session) schedule(d time.Duration, f func()) Timer {
	return s.after(d, func() { s.post(f) })
}

func (s *Session) armSweep() {
	s.sweepTimer = s.schedule(s.opts.SweepInterval, func() {
		for _, key := range s.typing.Sweep() {
			s.notify(ChangeTyping, key)
		}
		s.armSweep()
	})
}

func (s *Session) notify(kind ChangeKind, key model.ConversationKey) {
	if s.onChange != nil {
		s.onChange(Change{Kind: kind, Key: key})
	}
}

// emit queues an outbound push event. Must be called on the loop.
func (s *Session) emit(event model.EventType, payload any) {
	s.inflight++
	select {
	case s.outbound <- outboundEvent{event: event, payload: payload}:
	default:
		s.logger.Warn("outbound queue full, dropping event", zap.String("event", string(event)))
		metrics.RecordBestEffortFailure(string(event))
		s.settled()
	}
}

func (s *Session) emitTyping(event model.EventType, key model.ConversationKey) {
	metrics.TypingBroadcastsTotal.WithLabelValues(string(event)).Inc()
	s.emit(event, model.TypingSignal{ChatType: string(key.Kind), ChatID: key.ID})
}

// sendOutbound writes outbound events in order.
func (s *Session) sendOutbound(ctx context.Context) {
	for {
		select {
		case ev := <-s.outbound:
			if err := s.ch.Send(ctx, ev.event, ev.payload); err != nil {
				s.logger.Warn("failed to send push event", zap.String("event", string(ev.event)), zap.Error(err))
				metrics.RecordBestEffortFailure(string(ev.event))
			}
			s.post(s.settled)
		case <-ctx.Done():
			return
		}
	}
}

// bestEffort runs a non-critical call whose failure is only logged.
func (s *Session) bestEffort(operation string, call func(ctx context.Context) error) {
	s.spawn(func(ctx context.Context) func() {
		if err := call(ctx); err != nil {
			s.logger.Warn("best-effort call failed", zap.String("operation", operation), zap.Error(err))
			metrics.RecordBestEffortFailure(operation)
		}
		return nil
	})
}

// LoadDirectory fetches the conversation list. A failure leaves the
// directory as it was.
func (s *Session) LoadDirectory(ctx context.Context) error {
	return s.exec(ctx, func() {
		s.spawn(func(ctx context.Context) func() {
			convs, err := s.svc.ListConversations(ctx)
			return func() {
				if err != nil {
					s.logger.Warn("failed to load conversations", zap.Error(err))
					metrics.RecordBestEffortFailure("list_conversations")
					return
				}
				s.dir.Load(convs)
				if !s.active.IsZero() {
					s.dir.MarkActive(s.active)
				}
				s.notify(ChangeDirectory, model.ConversationKey{})
			}
		})
	})
}

// Activate makes key the active conversation and fetches its history.
func (s *Session) Activate(ctx context.Context, key model.ConversationKey) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return s.exec(ctx, func() {
		s.activate(key)
	})
}

// StartDirect opens a direct conversation with p, adding it to the
// directory when new.
func (s *Session) StartDirect(ctx context.Context, p model.Participant) (model.ConversationKey, error) {
	if p.ID == "" {
		return model.ConversationKey{}, errors.New("participant id is required")
	}
	if p.ID == s.self.UserID {
		return model.ConversationKey{}, errors.New("cannot start a conversation with yourself")
	}

	var key model.ConversationKey
	err := s.exec(ctx, func() {
		key = s.dir.UpsertDirect(p)
		s.notify(ChangeDirectory, key)
		s.activate(key)
	})
	return key, err
}

func (s *Session) activate(key model.ConversationKey) {
	prev := s.active
	if prev == key {
		return
	}

	if !prev.IsZero() {
		if s.typing.Clear(prev) {
			s.notify(ChangeTyping, prev)
		}
		if local, typing := s.typing.LocalTyping(); typing && local == prev {
			s.typing.Stop()
		}
		if prev.Kind == model.KindGroup {
			s.emit(model.EventLeaveGroup, model.GroupSignal{GroupID: prev.ID})
		}
	}

	s.active = key
	s.composer = ""
	if s.catalog.Close() {
		s.notify(ChangeSuggestions, key)
	}
	s.dir.MarkActive(key)
	s.notify(ChangeActive, key)
	s.notify(ChangeDirectory, key)

	if key.Kind == model.KindGroup {
		s.emit(model.EventJoinGroup, model.GroupSignal{GroupID: key.ID})
	}

	known := s.store.IDs(key)
	s.spawn(func(ctx context.Context) func() {
		var (
			msgs []model.Message
			err  error
		)
		if key.Kind == model.KindAssistant {
			msgs, err = s.svc.FetchAssistantHistory(ctx, s.opts.HistoryLimit)
		} else {
			msgs, err = s.svc.FetchHistory(ctx, key, s.opts.HistoryLimit)
		}
		return func() {
			if err != nil {
				s.logger.Warn("failed to load history", zap.Stringer("conversation", key), zap.Error(err))
				s.historyErr[key] = err
				s.store.MergeHistory(key, nil, known)
			} else {
				delete(s.historyErr, key)
				s.store.MergeHistory(key, msgs, known)
			}
			s.notify(ChangeMessages, key)
		}
	})

	if key.Kind != model.KindAssistant {
		s.bestEffort("mark_conversation_read", func(ctx context.Context) error {
			return s.svc.MarkConversationRead(ctx, key)
		})
	}
}

// ComposeChanged updates the compose buffer. In direct and group
// conversations it counts as a keystroke; in the assistant conversation
// text starting with the command sentinel looks up suggestions.
func (s *Session) ComposeChanged(ctx context.Context, text string) error {
	var err error
	execErr := s.exec(ctx, func() {
		key := s.active
		if key.IsZero() {
			err = ErrNoActiveConversation
			return
		}
		s.composer = text

		if key.Kind != model.KindAssistant {
			if text != "" {
				s.typing.Keystroke(key)
			}
			return
		}

		if !IsCommand(text) {
			if s.catalog.Close() {
				s.notify(ChangeSuggestions, key)
			}
			return
		}
		seq := s.catalog.Begin()
		s.spawn(func(ctx context.Context) func() {
			suggestions, err := s.svc.SuggestCommands(ctx, text)
			return func() {
				if err != nil {
					s.logger.Debug("command suggestions failed", zap.Error(err))
					metrics.RecordBestEffortFailure("suggest_commands")
				}
				if s.catalog.Resolve(seq, suggestions, err) {
					s.notify(ChangeSuggestions, key)
				}
			}
		})
	})
	if execErr != nil {
		return execErr
	}
	return err
}

// ApplySuggestion fills the compose buffer with the command followed by a
// space and closes the suggestion panel.
func (s *Session) ApplySuggestion(ctx context.Context, suggestion model.CommandSuggestion) error {
	return s.exec(ctx, func() {
		s.composer = suggestion.Command + " "
		s.catalog.Close()
		s.notify(ChangeSuggestions, s.active)
	})
}

func (s *Session) handlePush(event model.EventType) push.Handler {
	return func(raw json.RawMessage) {
		ev, err := push.Decode(event, raw)
		if err != nil {
			metrics.RecordPushEvent(string(event), "invalid")
			s.logger.Debug("dropping push event", zap.String("event", string(event)), zap.Error(err))
			return
		}
		metrics.RecordPushEvent(string(event), "accepted")
		s.post(func() { s.apply(ev) })
	}
}

func (s *Session) apply(ev push.Event) {
	switch e := ev.(type) {
	case push.NewMessage:
		s.applyNewMessage(e)

	case push.Typing:
		if e.UserID == s.self.UserID {
			return
		}
		key := s.normalize(e.Key, e.UserID)
		if s.typing.SetTyping(key, e.UserName, e.IsTyping) {
			s.notify(ChangeTyping, key)
		}

	case push.Read:
		for _, key := range s.store.ApplyReadReceipt(e.MessageID, e.ReaderID) {
			s.notify(ChangeMessages, key)
		}

	case push.BulkRead:
		for _, key := range s.store.ApplyBulkReadReceipt(e.MessageIDs, e.ReaderID) {
			s.notify(ChangeMessages, key)
		}

	case push.Edited:
		key := s.normalize(e.Key, e.Message.SenderID)
		msg := e.Message
		msg.ConversationKind, msg.ConversationID = key.Kind, key.ID
		if s.store.ApplyEdit(msg) {
			s.notify(ChangeMessages, key)
		}
		if s.dir.ApplyEdit(msg) {
			s.notify(ChangeDirectory, key)
		}

	case push.Reaction:
		key := e.Key
		if key.Kind == model.KindDirect && key.ID == s.self.UserID {
			key = s.directKeyOf(e.MessageID, key)
		}
		if s.store.ApplyReactions(key, e.MessageID, e.Reactions) {
			s.notify(ChangeMessages, key)
		}

	default:
		s.logger.Debug("unhandled push event", zap.String("event", string(ev.Type())))
	}
}

func (s *Session) applyNewMessage(e push.NewMessage) {
	key := s.normalize(e.Key, e.Message.SenderID)
	msg := e.Message
	msg.ConversationKind, msg.ConversationID = key.Kind, key.ID
	own := msg.SenderID == s.self.UserID

	if key == s.active {
		if s.store.AppendConfirmed(msg) {
			s.notify(ChangeMessages, key)
		}
		if !own {
			id := msg.ID.Value()
			s.bestEffort("mark_read", func(ctx context.Context) error {
				return s.svc.MarkRead(ctx, id)
			})
		}
	}

	if own {
		s.dir.Touch(msg)
	} else {
		s.dir.ApplyInbound(msg, key == s.active)
	}
	s.notify(ChangeDirectory, key)
}

// normalize keys a direct event addressed to the user by the other
// participant.
func (s *Session) normalize(key model.ConversationKey, senderID string) model.ConversationKey {
	if key.Kind == model.KindDirect && key.ID == s.self.UserID && senderID != "" {
		return model.ConversationKey{Kind: model.KindDirect, ID: senderID}
	}
	return key
}

// directKeyOf finds the direct conversation holding a message when the
// event only names the user.
func (s *Session) directKeyOf(messageID string, fallback model.ConversationKey) model.ConversationKey {
	id := model.ServerID(messageID)
	if !s.active.IsZero() {
		if _, ok := s.store.Get(s.active, id); ok {
			return s.active
		}
	}
	return fallback
}

// Active returns the active conversation.
func (s *Session) Active() model.ConversationKey {
	var key model.ConversationKey
	s.read(func() { key = s.active })
	return key
}

// Messages returns the message list of key.
func (s *Session) Messages(key model.ConversationKey) []model.Message {
	var out []model.Message
	s.read(func() { out = s.store.Messages(key) })
	return out
}

// HistoryError returns the error of the last failed history fetch of key.
func (s *Session) HistoryError(key model.ConversationKey) error {
	var err error
	s.read(func() { err = s.historyErr[key] })
	return err
}

// Directory returns the conversation list in display order.
func (s *Session) Directory() []model.Conversation {
	var out []model.Conversation
	s.read(func() { out = s.dir.List() })
	return out
}

// Conversation returns one directory entry.
func (s *Session) Conversation(key model.ConversationKey) (model.Conversation, bool) {
	var (
		conv model.Conversation
		ok   bool
	)
	s.read(func() { conv, ok = s.dir.Get(key) })
	return conv, ok
}

// Typing returns the names typing in key.
func (s *Session) Typing(key model.ConversationKey) []string {
	var out []string
	s.read(func() { out = s.typing.Typing(key) })
	return out
}

// LocalTyping reports whether the user is flagged as typing.
func (s *Session) LocalTyping() bool {
	var typing bool
	s.read(func() { _, typing = s.typing.LocalTyping() })
	return typing
}

// Suggestions returns the suggestion panel contents and whether it is open.
func (s *Session) Suggestions() ([]model.CommandSuggestion, bool) {
	var (
		out  []model.CommandSuggestion
		open bool
	)
	s.read(func() { out, open = s.catalog.Suggestions(), s.catalog.Open() })
	return out, open
}

// Composer returns the compose buffer.
func (s *Session) Composer() string {
	var text string
	s.read(func() { text = s.composer })
	return text
}

// Pending reports whether an assistant request is in flight.
func (s *Session) Pending() bool {
	var pending bool
	s.read(func() { pending = s.pending })
	return pending
}

// Self returns the session identity.
func (s *Session) Self() auth.Identity {
	return s.self
}

func validateKey(key model.ConversationKey) error {
	if key.ID == "" {
		return fmt.Errorf("conversation id is required")
	}
	switch key.Kind {
	case model.KindDirect, model.KindGroup:
		return nil
	case model.KindAssistant:
		if key.ID != model.AssistantConversationID {
			return fmt.Errorf("assistant conversation id must be %q", model.AssistantConversationID)
		}
		return nil
	}
	return fmt.Errorf("unknown conversation kind %q", key.Kind)
}
