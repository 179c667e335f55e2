package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/urfave/cli/v2"

	"github.com/rickgao/marketstream/internal/model"
	"github.com/rickgao/marketstream/internal/protocol"
)

// changeTypes maps a --type value to its data type.
var changeTypes = map[string]model.DataType{
	string(model.Ticker):           model.Ticker,
	string(model.OrderBook):        model.OrderBook,
	string(model.OpenOrders):       model.OpenOrders,
	string(model.Trades):           model.Trades,
	string(model.UserTradeHistory): model.UserTradeHistory,
	string(model.Balance):          model.Balance,
}

func subscribe(c *cli.Context) error {
	var instruments []model.InstrumentSpec
	for _, s := range c.StringSlice("ticker") {
		spec, err := parseInstrument(s)
		if err != nil {
			return err
		}
		instruments = append(instruments, spec)
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if d := c.Duration("duration"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, c.String("url"), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.String("url"), err)
	}
	defer ws.Close()

	for _, name := range c.StringSlice("type") {
		t, ok := changeTypes[name]
		if !ok {
			return fmt.Errorf("unknown data type %q", name)
		}
		if err := writeCommand(ws, protocol.ChangeSubscriptions{Type: t, Instruments: instruments}); err != nil {
			return err
		}
	}
	if err := writeCommand(ws, protocol.UpdateSubscriptions{}); err != nil {
		return err
	}
	slog.Info("subscribed", "types", c.StringSlice("type"), "instruments", len(instruments))

	frames := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			frames <- data
		}
	}()

	var readyC <-chan time.Time
	if iv := c.Duration("ready-interval"); iv > 0 {
		ticker := time.NewTicker(iv)
		defer ticker.Stop()
		readyC = ticker.C
	}

	counts := make(map[protocol.Nature]int)
	defer func() {
		for n, count := range counts {
			fmt.Printf("%-20s %d\n", n, count)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
			return nil
		case err := <-readErr:
			return fmt.Errorf("read: %w", err)
		case <-readyC:
			if err := writeCommand(ws, protocol.Ready{}); err != nil {
				return err
			}
		case data := <-frames:
			nature, body, err := protocol.DecodeFrame(data)
			if err != nil {
				slog.Warn("bad frame", "error", err)
				continue
			}
			counts[nature]++
			if c.Bool("verbose") {
				fmt.Printf("%s %s\n", nature, body)
			} else {
				fmt.Printf("%s %s (%d bytes)\n", time.Now().Format("15:04:05.000"), nature, len(body))
			}
		}
	}
}

func writeCommand(ws *websocket.Conn, cmd protocol.Command) error {
	data, err := protocol.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write command: %w", err)
	}
	return nil
}
