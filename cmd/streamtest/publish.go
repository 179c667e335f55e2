package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"github.com/rickgao/marketstream/internal/config"
	"github.com/rickgao/marketstream/internal/feed"
	"github.com/rickgao/marketstream/internal/model"
	"github.com/rickgao/marketstream/internal/router"
)

// publisher sends one encoded envelope upstream.
type publisher interface {
	Publish(ctx context.Context, target string, payload []byte) error
	Close() error
}

func publish(c *cli.Context) error {
	spec, err := parseInstrument(c.String("instrument"))
	if err != nil {
		return err
	}

	var (
		pub    publisher
		target string
	)
	switch c.String("backend") {
	case config.FeedBackendRedis:
		pub = feed.NewRedisFeed(config.RedisConfig{Addr: c.String("redis-addr")}, nil)
		target = c.String("channel")
	case config.FeedBackendKafka:
		pub = feed.NewKafkaPublisher(c.StringSlice("broker"), c.String("topic"))
		target = spec.String()
	default:
		return fmt.Errorf("unknown backend %q", c.String("backend"))
	}
	defer pub.Close()

	ctx := c.Context
	send := func(typ string, data any) error {
		payload, err := router.Encode(typ, data)
		if err != nil {
			return err
		}
		return pub.Publish(ctx, target, payload)
	}

	if err := send(router.TypeNotification, model.Notification{
		Message:   "streamtest publishing " + spec.String(),
		Level:     model.LevelInfo,
		Timestamp: time.Now(),
	}); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}

	last := decimal.NewFromInt(42000)
	for i := 0; i < c.Int("count"); i++ {
		step := decimal.NewFromFloat(rand.Float64()*20 - 10).Round(2)
		last = last.Add(step)

		ev := model.TickerEvent{
			Instrument: spec,
			Ticker: model.TickerData{
				Bid:       last.Sub(decimal.NewFromFloat(0.5)),
				Ask:       last.Add(decimal.NewFromFloat(0.5)),
				Last:      last,
				Timestamp: time.Now(),
			},
		}
		if err := send(router.TypeTicker, ev); err != nil {
			return fmt.Errorf("publish ticker: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.Duration("interval")):
		}
	}

	slog.Info("published", "tickers", c.Int("count"), "instrument", spec.String())
	return nil
}
