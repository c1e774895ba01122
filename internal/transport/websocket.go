package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jwebster45206/story-console/internal/logger"
	"github.com/jwebster45206/story-console/pkg/protocol"
)

const (
	// Time allowed to write a message to the server.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong or message from the server.
	pongWait = 60 * time.Second
	// Send pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Images arrive inline as base64.
	maxMessageSize = 16 << 20
	outboxSize     = 16
)

// WebSocket is a Transport over a gorilla websocket at <server>/ws/<session>.
type WebSocket struct {
	url            string
	reconnectDelay time.Duration
	dialer         *websocket.Dialer
	listener       Listener
	logger         *slog.Logger

	mu     sync.Mutex
	outbox chan []byte
}

func NewWebSocket(serverURL, sessionID string, reconnectDelay time.Duration, listener Listener, logger *slog.Logger) *WebSocket {
	if reconnectDelay <= 0 {
		reconnectDelay = DefaultReconnectDelay
	}
	return &WebSocket{
		url:            fmt.Sprintf("%s/ws/%s", serverURL, sessionID),
		reconnectDelay: reconnectDelay,
		dialer:         websocket.DefaultDialer,
		listener:       listener,
		logger:         logger.With("transport", "websocket"),
	}
}

func (w *WebSocket) URL() string { return w.url }

// Run connects and keeps reconnecting until ctx is done.
func (w *WebSocket) Run(ctx context.Context) error {
	for {
		err := w.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.WithError(w.logger, err).Warn("Connection lost, reconnecting", "delay", w.reconnectDelay)
		w.listener.Disconnected(err)
		if err := wait(ctx, w.reconnectDelay); err != nil {
			return err
		}
	}
}

// SendSelection queues a selection for the write pump.
func (w *WebSocket) SendSelection(ctx context.Context, sel protocol.Selection) error {
	if err := sel.Validate(); err != nil {
		return fmt.Errorf("invalid selection: %w", err)
	}
	data, err := json.Marshal(sel)
	if err != nil {
		return fmt.Errorf("failed to marshal selection: %w", err)
	}

	w.mu.Lock()
	outbox := w.outbox
	w.mu.Unlock()
	if outbox == nil {
		return ErrNotConnected
	}

	select {
	case outbox <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrOutboxFull
	}
}

func (w *WebSocket) session(ctx context.Context) error {
	conn, _, err := w.dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", w.url, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	outbox := make(chan []byte, outboxSize)
	done := make(chan struct{})
	w.setOutbox(outbox)
	defer w.setOutbox(nil)

	w.logger.Info("Connected to storyteller", "url", w.url)
	w.listener.Connected()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.writePump(conn, outbox, done)
	}()

	err = w.readPump(conn)
	close(done)
	_ = conn.Close()
	wg.Wait()
	return err
}

func (w *WebSocket) setOutbox(outbox chan []byte) {
	w.mu.Lock()
	w.outbox = outbox
	w.mu.Unlock()
}

// readPump decodes frames until the connection fails. Malformed frames are dropped.
func (w *WebSocket) readPump(conn *websocket.Conn) error {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				w.logger.Warn("WebSocket read error", "error", err)
			}
			return fmt.Errorf("read failed: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := protocol.Decode(data)
		if err != nil {
			w.logger.Warn("Dropping malformed message", "error", err, "size", len(data))
			continue
		}
		w.listener.Message(msg)
	}
}

// writePump is the only writer on conn.
func (w *WebSocket) writePump(conn *websocket.Conn, outbox <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case data := <-outbox:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				w.logger.Error("Failed to write selection", "error", err)
				_ = conn.Close()
				return
			}
			w.logger.Debug("Selection sent", "size", len(data))
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				w.logger.Warn("Ping failed", "error", err)
				_ = conn.Close()
				return
			}
		}
	}
}
