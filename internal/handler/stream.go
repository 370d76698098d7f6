package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chatsync/internal/chat"
	"github.com/capitalize-ai/chatsync/pkg/logger"
	"github.com/capitalize-ai/chatsync/pkg/metrics"
)

const (
	feedBuffer        = 64
	heartbeatInterval = 30 * time.Second
)

// Feed fans session changes out to stream subscribers. Publish never
// blocks; a subscriber that falls behind misses changes.
type Feed struct {
	mu   sync.Mutex
	next int
	subs map[int]chan chat.Change
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[int]chan chat.Change)}
}

// Publish hands c to every subscriber. It is safe to use as a
// chat.Options.OnChange callback.
func (f *Feed) Publish(c chat.Change) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

// Subscribe returns a channel of changes and a function to stop.
func (f *Feed) Subscribe() (<-chan chat.Change, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.next
	f.next++
	ch := make(chan chat.Change, feedBuffer)
	f.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.subs, id)
		})
	}
}

// ChangeEvent is the data of one "change" stream event.
type ChangeEvent struct {
	Kind         string `json:"kind"`
	Conversation string `json:"conversation,omitempty"`
}

// HeartbeatEvent keeps idle streams open through proxies.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// StreamHandler streams session changes over server-sent events.
type StreamHandler struct {
	feed      *Feed
	logger    *logger.Logger
	heartbeat time.Duration
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(feed *Feed, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		feed:      feed,
		logger:    log,
		heartbeat: heartbeatInterval,
	}
}

// Stream handles GET /events
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	changes, stop := h.feed.Subscribe()
	defer stop()

	metrics.DiagnosticsStreamsActive.Inc()
	defer metrics.DiagnosticsStreamsActive.Dec()

	if err := sendSSEEvent(w, flusher, "connected", map[string]bool{"ok": true}); err != nil {
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("stream client disconnected")
			return

		case c := <-changes:
			ev := ChangeEvent{Kind: c.Kind.String()}
			if !c.Key.IsZero() {
				ev.Conversation = c.Key.String()
			}
			if err := sendSSEEvent(w, flusher, "change", ev); err != nil {
				h.logger.Debug("stream write failed", zap.Error(err))
				return
			}

		case <-heartbeat.C:
			if err := sendSSEEvent(w, flusher, "heartbeat", HeartbeatEvent{Timestamp: time.Now()}); err != nil {
				return
			}
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()

	return nil
}
