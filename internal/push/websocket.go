package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/pkg/logger"
	"github.com/capitalize-ai/chatsync/pkg/metrics"
)

const maxFrameBytes = 1 << 20

// WebSocket is a Channel over a single WebSocket connection carrying
// Envelope frames.
type WebSocket struct {
	Registry

	conn      *websocket.Conn
	logger    *logger.Logger
	cancel    context.CancelFunc
	done      chan struct{}
	connected atomic.Bool
	closeOnce sync.Once
}

// DialWebSocket connects to url, authenticating with the bearer token.
func DialWebSocket(ctx context.Context, url, token string, log *logger.Logger) (*WebSocket, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("failed to dial push channel: %w", err)
	}
	conn.SetReadLimit(maxFrameBytes)

	readCtx, cancel := context.WithCancel(context.Background())
	ws := &WebSocket{
		conn:   conn,
		logger: log.Named("push.ws"),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	ws.connected.Store(true)
	metrics.IncrementPushConnections()

	go ws.readLoop(readCtx)

	ws.logger.Info("push channel connected", zap.String("url", url))
	return ws, nil
}

func (w *WebSocket) readLoop(ctx context.Context) {
	defer close(w.done)
	defer func() {
		w.connected.Store(false)
		metrics.DecrementPushConnections()
	}()

	for {
		_, data, err := w.conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				w.logger.Warn("push channel read failed", zap.Error(err))
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			metrics.RecordPushEvent("unknown", "malformed")
			w.logger.Debug("dropping malformed frame", zap.Int("bytes", len(data)))
			continue
		}
		if !w.Dispatch(env.Type, env.Payload) {
			metrics.RecordPushEvent(string(env.Type), "unhandled")
		}
	}
}

// Send writes one envelope frame.
func (w *WebSocket) Send(ctx context.Context, event model.EventType, payload any) error {
	if !w.connected.Load() {
		return ErrClosed
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}
	data, err := json.Marshal(Envelope{Type: event, Payload: raw})
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	if err := w.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to send %s: %w", event, err)
	}
	return nil
}

// Connected reports whether the read loop is still running.
func (w *WebSocket) Connected() bool {
	return w.connected.Load()
}

// Close closes the connection and waits for the read loop to exit.
func (w *WebSocket) Close() error {
	var err error
	w.closeOnce.Do(func() {
		wasConnected := w.connected.Load()
		err = w.conn.Close(websocket.StatusNormalClosure, "session closed")
		w.cancel()
		<-w.done
		if !wasConnected {
			err = nil
		}
		w.logger.Info("push channel closed")
	})
	return err
}
