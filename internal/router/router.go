package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rickgao/marketstream/internal/feed"
	"github.com/rickgao/marketstream/internal/metrics"
	"github.com/rickgao/marketstream/internal/model"
)

// ErrUnknownType is returned by Decode for an envelope type it does not know.
var ErrUnknownType = errors.New("router: unknown message type")

// Router decodes raw feed messages and publishes them into the registry.
type Router struct {
	logger *slog.Logger
	input  *feed.Buffer[feed.RawMessage]
	out    Publisher

	// Lifecycle
	wg      sync.WaitGroup
	started bool

	mu              sync.RWMutex
	received        int64
	routed          int64
	parseErrors     int64
	unknownMessages int64
}

// NewRouter creates a router draining input into out.
func NewRouter(input *feed.Buffer[feed.RawMessage], out Publisher, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}

	return &Router{
		logger: logger,
		input:  input,
		out:    out,
	}
}

// Start begins routing messages.
func (r *Router) Start(ctx context.Context) error {
	r.started = true
	r.wg.Add(1)
	go r.routeLoop()

	r.logger.Info("message router started")
	return nil
}

// Stop closes the input buffer, lets the router drain what is queued and
// waits for it to finish or ctx to expire.
func (r *Router) Stop(ctx context.Context) error {
	r.logger.Info("stopping message router")

	r.input.Close()
	if !r.started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("message router stopped")
	case <-ctx.Done():
		r.logger.Warn("message router stop timed out")
	}

	return nil
}

// Stats returns current statistics.
func (r *Router) Stats() RouterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return RouterStats{
		MessagesReceived: r.received,
		MessagesRouted:   r.routed,
		ParseErrors:      r.parseErrors,
		UnknownMessages:  r.unknownMessages,
	}
}

func (r *Router) routeLoop() {
	defer r.wg.Done()

	for {
		raw, ok := r.input.Receive()
		if !ok {
			r.logger.Info("input buffer closed")
			return
		}
		r.route(raw)
	}
}

// route decodes and publishes a single message.
func (r *Router) route(raw feed.RawMessage) {
	r.mu.Lock()
	r.received++
	r.mu.Unlock()

	typ, ev, err := Decode(raw.Data)
	switch {
	case errors.Is(err, ErrUnknownType):
		r.logger.Debug("skipping message type", "origin", raw.Origin, "error", err)
		r.mu.Lock()
		r.unknownMessages++
		r.mu.Unlock()
		metrics.FeedMessages.WithLabelValues("unknown").Inc()
		return
	case err != nil:
		r.logger.Warn("failed to decode feed message", "origin", raw.Origin, "error", err)
		r.mu.Lock()
		r.parseErrors++
		r.mu.Unlock()
		metrics.FeedMessages.WithLabelValues("parse_error").Inc()
		return
	}

	if dt, ok := dataTypeOf(typ); ok {
		r.out.Publish(dt, ev)
	} else {
		r.out.PublishControl(ev)
	}

	r.mu.Lock()
	r.routed++
	r.mu.Unlock()
	metrics.FeedMessages.WithLabelValues("routed").Inc()
}

// Decode parses one feed envelope into its envelope type and event.
func Decode(data []byte) (string, model.Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("envelope: %w", err)
	}

	ev, err := decodeData(env.Type, env.Data)
	if err != nil {
		return env.Type, nil, err
	}
	if spec, ok := instrumentOf(ev); ok {
		if err := spec.Validate(); err != nil {
			return env.Type, nil, fmt.Errorf("%s: %w", env.Type, err)
		}
	}
	return env.Type, ev, nil
}

func decodeData(typ string, data json.RawMessage) (model.Event, error) {
	switch typ {
	case TypeTicker:
		return unmarshal[model.TickerEvent](typ, data)
	case TypeOrderBook:
		return unmarshal[model.OrderBookEvent](typ, data)
	case TypeOpenOrders:
		return unmarshal[model.OpenOrdersEvent](typ, data)
	case TypeBalance:
		ev, err := unmarshal[model.BalanceEvent](typ, data)
		if err == nil && (ev.Exchange == "" || ev.Currency == "") {
			return nil, fmt.Errorf("%s: exchange and currency are required", typ)
		}
		return ev, err
	case TypeNotification:
		return unmarshal[model.Notification](typ, data)
	case TypeStatusUpdate:
		return unmarshal[model.StatusUpdate](typ, data)
	case TypeTrade:
		w, err := unmarshal[singleTradeWire](typ, data)
		if err != nil {
			return nil, err
		}
		return model.TradeEvent{Instrument: w.Instrument, Trade: w.Trade.native()}, nil
	case TypeUserTrade:
		w, err := unmarshal[singleTradeWire](typ, data)
		if err != nil {
			return nil, err
		}
		return model.UserTradeEvent{Instrument: w.Instrument, Trade: w.Trade.native()}, nil
	case TypeTradeHistory:
		w, err := unmarshal[tradeHistoryWire](typ, data)
		if err != nil {
			return nil, err
		}
		trades := make([]model.NativeTrade, 0, len(w.Trades))
		for _, t := range w.Trades {
			trades = append(trades, t.native())
		}
		return model.TradeHistoryEvent{Instrument: w.Instrument, Trades: trades}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
}

func unmarshal[T any](typ string, data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 {
		return v, fmt.Errorf("%s: missing data", typ)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%s: %w", typ, err)
	}
	return v, nil
}

// dataTypeOf maps an envelope type to its registry data type. Control
// types report false.
func dataTypeOf(typ string) (model.DataType, bool) {
	switch typ {
	case TypeTicker:
		return model.Ticker, true
	case TypeOrderBook:
		return model.OrderBook, true
	case TypeOpenOrders:
		return model.OpenOrders, true
	case TypeTrade:
		return model.Trades, true
	case TypeTradeHistory:
		return model.UserTradeHistory, true
	case TypeUserTrade:
		return model.UserTrade, true
	case TypeBalance:
		return model.Balance, true
	}
	return "", false
}

func instrumentOf(ev model.Event) (model.InstrumentSpec, bool) {
	switch e := ev.(type) {
	case model.TickerEvent:
		return e.Instrument, true
	case model.OrderBookEvent:
		return e.Instrument, true
	case model.OpenOrdersEvent:
		return e.Instrument, true
	case model.TradeEvent:
		return e.Instrument, true
	case model.TradeHistoryEvent:
		return e.Instrument, true
	case model.UserTradeEvent:
		return e.Instrument, true
	}
	return model.InstrumentSpec{}, false
}
