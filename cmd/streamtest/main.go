// streamtest is a manual test client for the stream server.
//
//	go run ./cmd/streamtest subscribe --ticker kraken/BTC/USD --type TICKER --type ORDERBOOK
//	go run ./cmd/streamtest publish --backend redis --channel marketdata --instrument kraken/BTC/USD
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/rickgao/marketstream/internal/model"
)

func main() {
	app := &cli.App{
		Name:  "streamtest",
		Usage: "exercise a stream server from the client or feed side",
		Commands: []*cli.Command{
			subscribeCommand,
			publishCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("streamtest failed", "error", err)
		os.Exit(1)
	}
}

var subscribeCommand = &cli.Command{
	Name:  "subscribe",
	Usage: "connect, subscribe and print frames",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "url", Value: "ws://localhost:8080/ws", Usage: "server websocket URL"},
		&cli.StringSliceFlag{Name: "ticker", Usage: "instrument as exchange/BASE/COUNTER (repeatable)"},
		&cli.StringSliceFlag{Name: "type", Value: cli.NewStringSlice(string(model.Ticker)), Usage: "data type to subscribe (repeatable)"},
		&cli.DurationFlag{Name: "ready-interval", Value: 2 * time.Second, Usage: "READY period, 0 never sends READY"},
		&cli.DurationFlag{Name: "duration", Usage: "stop after this long, 0 runs until interrupted"},
		&cli.BoolFlag{Name: "verbose", Usage: "print full frame JSON"},
	},
	Action: subscribe,
}

var publishCommand = &cli.Command{
	Name:  "publish",
	Usage: "push sample events into the upstream feed",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "backend", Value: "redis", Usage: "redis or kafka"},
		&cli.StringFlag{Name: "redis-addr", Value: "localhost:6379"},
		&cli.StringFlag{Name: "channel", Value: "marketdata", Usage: "redis channel"},
		&cli.StringSliceFlag{Name: "broker", Value: cli.NewStringSlice("localhost:9092"), Usage: "kafka broker (repeatable)"},
		&cli.StringFlag{Name: "topic", Value: "marketdata", Usage: "kafka topic"},
		&cli.StringFlag{Name: "instrument", Value: "kraken/BTC/USD"},
		&cli.IntFlag{Name: "count", Value: 20, Usage: "ticker events to publish"},
		&cli.DurationFlag{Name: "interval", Value: 100 * time.Millisecond},
	},
	Action: publish,
}

// parseInstrument parses "exchange/BASE/COUNTER".
func parseInstrument(s string) (model.InstrumentSpec, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return model.InstrumentSpec{}, fmt.Errorf("instrument %q: want exchange/BASE/COUNTER", s)
	}
	spec := model.InstrumentSpec{Exchange: parts[0], Base: parts[1], Counter: parts[2]}
	if err := spec.Validate(); err != nil {
		return model.InstrumentSpec{}, fmt.Errorf("instrument %q: %w", s, err)
	}
	return spec, nil
}
