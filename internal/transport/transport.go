// Package transport connects the console to a storyteller and reconnects when
// the link drops.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/jwebster45206/story-console/pkg/protocol"
)

const (
	// DefaultReconnectDelay is the pause between a dropped connection and the next attempt.
	DefaultReconnectDelay = 3 * time.Second
)

var (
	ErrNotConnected = errors.New("not connected to storyteller")
	ErrOutboxFull   = errors.New("outbound queue is full")
)

// Listener receives connection events and decoded messages. Transports call it
// from their own goroutine; every Connected starts a new session.
type Listener interface {
	Connected()
	Message(msg protocol.Message)
	// Disconnected follows every failed or ended connection attempt.
	Disconnected(err error)
}

// Transport is a storyteller link.
type Transport interface {
	Run(ctx context.Context) error
	SendSelection(ctx context.Context, sel protocol.Selection) error
}

// ListenerFuncs adapts plain functions to Listener. Nil funcs are skipped.
type ListenerFuncs struct {
	OnConnected    func()
	OnMessage      func(protocol.Message)
	OnDisconnected func(error)
}

func (l ListenerFuncs) Connected() {
	if l.OnConnected != nil {
		l.OnConnected()
	}
}

func (l ListenerFuncs) Message(msg protocol.Message) {
	if l.OnMessage != nil {
		l.OnMessage(msg)
	}
}

func (l ListenerFuncs) Disconnected(err error) {
	if l.OnDisconnected != nil {
		l.OnDisconnected(err)
	}
}

// wait sleeps for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
