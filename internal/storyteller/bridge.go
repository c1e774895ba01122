package storyteller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jwebster45206/story-console/internal/transport"
	"github.com/jwebster45206/story-console/pkg/protocol"
	"github.com/redis/go-redis/v9"
)

// Bridge plays one Session over redis: frames are published to the session's
// events channel and selections are popped from its list.
type Bridge struct {
	rdb       *redis.Client
	sessionID string
	session   *Session
	logger    *slog.Logger

	pollTimeout time.Duration
}

func NewBridge(rdb *redis.Client, sessionID string, story Story, opts Options, logger *slog.Logger) *Bridge {
	logger = logger.With("session_id", sessionID, "bridge", "redis")
	return &Bridge{
		rdb:         rdb,
		sessionID:   sessionID,
		session:     NewSession(story, opts, logger),
		logger:      logger,
		pollTimeout: time.Second,
	}
}

func (b *Bridge) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

// Run waits for a subscriber, plays the intro, then answers selections until
// the story ends or ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	channel := transport.EventsChannel(b.sessionID)
	if err := b.awaitSubscriber(ctx, channel); err != nil {
		return err
	}

	frames, err := b.session.Start()
	if err != nil {
		return fmt.Errorf("failed to start story: %w", err)
	}
	if err := b.publish(ctx, channel, frames); err != nil {
		return err
	}

	key := transport.SelectionsKey(b.sessionID)
	for !b.session.Ended() {
		res, err := b.rdb.BLPop(ctx, b.pollTimeout, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to pop selection: %w", err)
		}

		sel, err := protocol.DecodeSelection([]byte(res[1]))
		if err != nil {
			b.logger.Warn("Ignoring malformed selection", "error", err)
			continue
		}
		frames, err := b.session.Respond(sel)
		if err != nil {
			b.logger.Warn("Selection rejected", "error", err, "turn_id", sel.TurnID)
			continue
		}
		if err := b.publish(ctx, channel, frames); err != nil {
			return err
		}
	}
	b.logger.Info("Story finished", "turn_id", b.session.Turn())
	return nil
}

// awaitSubscriber polls until someone listens on channel; pub/sub does not buffer.
func (b *Bridge) awaitSubscriber(ctx context.Context, channel string) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		counts, err := b.rdb.PubSubNumSub(ctx, channel).Result()
		if err != nil {
			return fmt.Errorf("failed to count subscribers: %w", err)
		}
		if counts[channel] > 0 {
			b.logger.Debug("Subscriber present", "channel", channel)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (b *Bridge) publish(ctx context.Context, channel string, frames []Frame) error {
	for _, f := range frames {
		if f.Delay > 0 {
			timer := time.NewTimer(f.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		if err := b.rdb.Publish(ctx, channel, f.Data).Err(); err != nil {
			return fmt.Errorf("failed to publish message: %w", err)
		}
	}
	return nil
}
