package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jwebster45206/story-console/internal/logger"
	"github.com/jwebster45206/story-console/pkg/protocol"
	"github.com/redis/go-redis/v9"
)

// EventsChannel is the pub/sub channel a storyteller publishes a session's messages to.
func EventsChannel(sessionID string) string {
	return fmt.Sprintf("story-events:%s", sessionID)
}

// SelectionsKey is the list selections are pushed onto, oldest first.
func SelectionsKey(sessionID string) string {
	return fmt.Sprintf("story-selections:%s", sessionID)
}

// NewRedisClient parses a redis URL and checks the connection.
func NewRedisClient(ctx context.Context, redisURL string, logger *slog.Logger) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Connected to Redis", "addr", opt.Addr)
	return rdb, nil
}

// Redis is a Transport over redis pub/sub for inbound messages and a list for
// selections.
type Redis struct {
	rdb            *redis.Client
	sessionID      string
	reconnectDelay time.Duration
	listener       Listener
	logger         *slog.Logger

	subscribed atomic.Bool
}

func NewRedis(rdb *redis.Client, sessionID string, reconnectDelay time.Duration, listener Listener, logger *slog.Logger) *Redis {
	if reconnectDelay <= 0 {
		reconnectDelay = DefaultReconnectDelay
	}
	return &Redis{
		rdb:            rdb,
		sessionID:      sessionID,
		reconnectDelay: reconnectDelay,
		listener:       listener,
		logger:         logger.With("transport", "redis"),
	}
}

// Run subscribes and resubscribes until ctx is done.
func (r *Redis) Run(ctx context.Context) error {
	for {
		err := r.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.WithError(r.logger, err).Warn("Subscription lost, resubscribing", "delay", r.reconnectDelay)
		r.listener.Disconnected(err)
		if err := wait(ctx, r.reconnectDelay); err != nil {
			return err
		}
	}
}

// SendSelection pushes a selection for the storyteller.
func (r *Redis) SendSelection(ctx context.Context, sel protocol.Selection) error {
	if !r.subscribed.Load() {
		return ErrNotConnected
	}
	if err := sel.Validate(); err != nil {
		return fmt.Errorf("invalid selection: %w", err)
	}
	data, err := json.Marshal(sel)
	if err != nil {
		return fmt.Errorf("failed to marshal selection: %w", err)
	}
	if err := r.rdb.RPush(ctx, SelectionsKey(r.sessionID), data).Err(); err != nil {
		return fmt.Errorf("failed to push selection: %w", err)
	}
	r.logger.Debug("Selection pushed", "turn_id", sel.TurnID)
	return nil
}

func (r *Redis) session(ctx context.Context) error {
	channel := EventsChannel(r.sessionID)
	pubsub := r.rdb.Subscribe(ctx, channel)
	defer func() {
		if err := pubsub.Close(); err != nil {
			r.logger.Debug("Failed to close pubsub", "error", err)
		}
	}()

	// Wait for the subscription to be confirmed before reporting a connection.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}
	r.subscribed.Store(true)
	defer r.subscribed.Store(false)

	r.logger.Info("Subscribed to storyteller", "channel", channel)
	r.listener.Connected()

	msgChan := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-msgChan:
			if !ok {
				return errors.New("subscription closed")
			}
			msg, err := protocol.Decode([]byte(m.Payload))
			if err != nil {
				r.logger.Warn("Dropping malformed message", "error", err, "channel", m.Channel)
				continue
			}
			r.listener.Message(msg)
		}
	}
}
