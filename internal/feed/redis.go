package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rickgao/marketstream/internal/config"
	"github.com/rickgao/marketstream/internal/metrics"
)

// RedisFeed subscribes to Redis pub/sub channels.
type RedisFeed struct {
	client   *redis.Client
	channels []string
	logger   *slog.Logger
}

// NewRedisFeed creates a feed for cfg.Channels. No connection is made
// until Run.
func NewRedisFeed(cfg config.RedisConfig, logger *slog.Logger) *RedisFeed {
	if logger == nil {
		logger = slog.Default()
	}

	return &RedisFeed{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		channels: cfg.Channels,
		logger:   logger,
	}
}

// Run subscribes and forwards every message payload to out.
func (f *RedisFeed) Run(ctx context.Context, out *Buffer[RawMessage]) error {
	ps := f.client.Subscribe(ctx, f.channels...)
	defer ps.Close()

	// Wait for the subscription confirmation so failures surface here.
	if _, err := ps.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %v: %w", f.channels, err)
	}

	f.logger.Info("redis feed subscribed", "channels", f.channels)

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return ErrFeedClosed
			}
			metrics.FeedMessages.WithLabelValues("received").Inc()
			out.Send(RawMessage{
				Origin:     "redis:" + msg.Channel,
				Data:       []byte(msg.Payload),
				ReceivedAt: time.Now(),
			})
		}
	}
}

// Publish sends one payload to a channel. Used by tooling to inject
// events.
func (f *RedisFeed) Publish(ctx context.Context, channel string, payload []byte) error {
	return f.client.Publish(ctx, channel, payload).Err()
}

// Ping checks the Redis connection.
func (f *RedisFeed) Ping(ctx context.Context) error {
	return f.client.Ping(ctx).Err()
}

// Close releases the Redis client.
func (f *RedisFeed) Close() error {
	return f.client.Close()
}
