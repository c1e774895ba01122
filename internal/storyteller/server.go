package storyteller

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jwebster45206/story-console/pkg/protocol"
)

const (
	// Time allowed to write a message to the client.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the client.
	pongWait = 60 * time.Second
	// Send pings to the client with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum size of a selection from the client.
	maxMessageSize = 4096
)

// Server plays one Session per websocket connection on /ws/{session}.
type Server struct {
	story    Story
	opts     Options
	logger   *slog.Logger
	upgrader websocket.Upgrader
	started  time.Time
	health   *HealthHandler

	active atomic.Int64
	wg     sync.WaitGroup
}

func NewServer(story Story, opts Options, logger *slog.Logger) *Server {
	s := &Server{
		story:  story,
		opts:   opts,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		started: time.Now(),
	}
	s.health = NewHealthHandler(s, logger)
	return s
}

// Health is the /health handler; dependencies register with Check.
func (s *Server) Health() *HealthHandler {
	return s.health
}

// Routes returns the server's handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/{session}", s.ServeWS)
	mux.Handle("GET /health", s.health)
	return mux
}

// ActiveSessions is the number of connected players.
func (s *Server) ActiveSessions() int {
	return int(s.active.Load())
}

// Wait blocks until every connection has finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", "error", err, "session_id", sessionID)
		return
	}

	logger := s.logger.With("session_id", sessionID)
	logger.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)

	s.active.Add(1)
	s.wg.Add(1)
	defer func() {
		s.active.Add(-1)
		s.wg.Done()
	}()

	c := &client{
		conn:    conn,
		session: NewSession(s.story, s.opts, logger),
		send:    make(chan Frame, 1024),
		logger:  logger,
	}
	c.run(r.Context())
}

type client struct {
	conn    *websocket.Conn
	session *Session
	send    chan Frame
	logger  *slog.Logger
}

func (c *client) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames, err := c.session.Start()
	if err != nil {
		c.logger.Error("Failed to start story", "error", err)
		_ = c.conn.Close()
		return
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writePump(ctx)
		// unblocks readPump when the writer gives up first
		_ = c.conn.Close()
	}()

	for _, f := range frames {
		select {
		case c.send <- f:
		case <-ctx.Done():
		}
	}

	c.readPump()
	cancel()
	wg.Wait()
	_ = c.conn.Close()
	c.logger.Info("WebSocket connection closed", "turn_id", c.session.Turn())
}

// readPump turns selections into queued frames.
func (c *client) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("WebSocket read error", "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		sel, err := protocol.DecodeSelection(data)
		if err != nil {
			c.logger.Warn("Ignoring malformed selection", "error", err)
			continue
		}
		frames, err := c.session.Respond(sel)
		if err != nil {
			c.logger.Warn("Selection rejected", "error", err, "turn_id", sel.TurnID, "choice", sel.Choice)
			if !errors.Is(err, ErrStoryOver) {
				c.queueError(sel.TurnID, "Server error processing response.")
			}
			continue
		}
		for _, f := range frames {
			select {
			case c.send <- f:
			default:
				c.logger.Error("Send queue full, dropping frame")
			}
		}
	}
}

func (c *client) queueError(turnID int, message string) {
	data, err := protocol.Encode(protocol.KindError, message, turnID)
	if err != nil {
		return
	}
	select {
	case c.send <- Frame{Data: data}:
	default:
	}
}

// writePump is the only writer on the connection.
func (c *client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case f := <-c.send:
			if f.Delay > 0 {
				timer := time.NewTimer(f.Delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, f.Data); err != nil {
				c.logger.Error("Failed to write message", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
