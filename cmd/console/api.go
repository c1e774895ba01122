package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jwebster45206/story-console/internal/config"
	"github.com/jwebster45206/story-console/internal/transport"
	"github.com/jwebster45206/story-console/pkg/protocol"
	"github.com/redis/go-redis/v9"
)

// Messages posted into the tea program from other goroutines.
type (
	connectedMsg    struct{}
	disconnectedMsg struct{ err error }
	serverMsg       struct{ msg protocol.Message }
	// runMsg carries a scheduled callback onto the program's goroutine.
	runMsg struct{ fn func() }
)

// programPoster implements sched.Poster by sending runMsgs into the program.
type programPoster struct {
	send func(tea.Msg)
}

func (p *programPoster) Post(fn func()) {
	if p.send != nil {
		p.send(runMsg{fn: fn})
	}
}

// newListener forwards transport callbacks into the program.
func newListener(send func(tea.Msg)) transport.Listener {
	return transport.ListenerFuncs{
		OnConnected:    func() { send(connectedMsg{}) },
		OnMessage:      func(msg protocol.Message) { send(serverMsg{msg: msg}) },
		OnDisconnected: func(err error) { send(disconnectedMsg{err: err}) },
	}
}

// newTransport builds the configured storyteller link. The returned cleanup
// releases anything the transport owns.
func newTransport(ctx context.Context, cfg *config.Config, listener transport.Listener, log *slog.Logger) (transport.Transport, func(), error) {
	switch cfg.Transport {
	case config.TransportRedis:
		rdb, err := transport.NewRedisClient(ctx, cfg.RedisURL, log)
		if err != nil {
			return nil, nil, err
		}
		cleanup := func() {
			if err := rdb.Close(); err != nil && err != redis.ErrClosed {
				log.Error("Error closing redis connection", "error", err)
			}
		}
		return transport.NewRedis(rdb, cfg.SessionID, cfg.ReconnectDelay, listener, log), cleanup, nil
	case config.TransportWebSocket:
		return transport.NewWebSocket(cfg.ServerURL, cfg.SessionID, cfg.ReconnectDelay, listener, log), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}

// healthURL maps a ws:// server url to its http health endpoint.
func healthURL(serverURL string) string {
	switch {
	case strings.HasPrefix(serverURL, "wss://"):
		return "https://" + strings.TrimPrefix(serverURL, "wss://") + "/health"
	case strings.HasPrefix(serverURL, "ws://"):
		return "http://" + strings.TrimPrefix(serverURL, "ws://") + "/health"
	default:
		return serverURL + "/health"
	}
}

func testConnection(client *http.Client, serverURL string) bool {
	resp, err := client.Get(healthURL(serverURL))
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close() // Ignore error in defer
	}()
	return resp.StatusCode == http.StatusOK
}
