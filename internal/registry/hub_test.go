package registry

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/marketstream/internal/model"
	"github.com/rickgao/marketstream/internal/subscription"
)

var (
	btcUSD = model.InstrumentSpec{Exchange: "kraken", Base: "BTC", Counter: "USD"}
	ethUSD = model.InstrumentSpec{Exchange: "kraken", Base: "ETH", Counter: "USD"}
	btcEUR = model.InstrumentSpec{Exchange: "bitstamp", Base: "BTC", Counter: "EUR"}
)

func ticker(spec model.InstrumentSpec, last string) model.TickerEvent {
	return model.TickerEvent{
		Instrument: spec,
		Ticker:     model.TickerData{Last: decimal.RequireFromString(last)},
	}
}

func newRegisteredHub(t *testing.T, cfg HubConfig, subs ...model.MarketDataSubscription) *Hub {
	t.Helper()
	h := NewHub(cfg, nil)
	require.NoError(t, h.RegisterClient("c1"))
	require.NoError(t, h.ChangeSubscriptions("c1", subscription.Of(subs...)))
	return h
}

func receive(t *testing.T, hd Handle) model.Event {
	t.Helper()
	select {
	case ev, ok := <-hd.Events():
		require.True(t, ok, "handle closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func assertNoEvent(t *testing.T, hd Handle) {
	t.Helper()
	select {
	case ev, ok := <-hd.Events():
		if ok {
			t.Fatalf("unexpected event %#v", ev)
		}
	default:
	}
}

func assertClosed(t *testing.T, hd Handle) {
	t.Helper()
	select {
	case _, ok := <-hd.Events():
		assert.False(t, ok, "expected closed handle")
	case <-time.After(time.Second):
		t.Fatal("handle not closed")
	}
}

func TestHub_RegisterTwice(t *testing.T) {
	h := NewHub(DefaultHubConfig(), nil)
	require.NoError(t, h.RegisterClient("c1"))
	assert.ErrorIs(t, h.RegisterClient("c1"), ErrClientExists)
}

func TestHub_UnknownClient(t *testing.T) {
	h := NewHub(DefaultHubConfig(), nil)

	assert.ErrorIs(t, h.UnregisterClient("nope"), ErrUnknownClient)
	assert.ErrorIs(t, h.ChangeSubscriptions("nope", subscription.Empty()), ErrUnknownClient)

	_, err := h.Stream("nope", model.Ticker)
	assert.ErrorIs(t, err, ErrUnknownClient)
	_, err = h.StreamSplit("nope", model.Ticker)
	assert.ErrorIs(t, err, ErrUnknownClient)
	_, err = h.Control("nope")
	assert.ErrorIs(t, err, ErrUnknownClient)
}

func TestHub_PublishRoutesBySubscription(t *testing.T) {
	h := newRegisteredHub(t, DefaultHubConfig(), model.NewSubscription(btcUSD, model.Ticker))

	hd, err := h.Stream("c1", model.Ticker)
	require.NoError(t, err)
	assert.Equal(t, "TICKER", hd.Key())

	h.Publish(model.Ticker, ticker(ethUSD, "3000"))
	h.Publish(model.Ticker, ticker(btcUSD, "42000"))

	ev := receive(t, hd)
	assert.Equal(t, btcUSD, ev.(model.TickerEvent).Instrument)
	assertNoEvent(t, hd)
}

func TestHub_PublishIgnoresOtherTypes(t *testing.T) {
	h := newRegisteredHub(t, DefaultHubConfig(),
		model.NewSubscription(btcUSD, model.Ticker),
		model.NewSubscription(btcUSD, model.OrderBook),
	)

	tickers, err := h.Stream("c1", model.Ticker)
	require.NoError(t, err)

	h.Publish(model.OrderBook, model.OrderBookEvent{Instrument: btcUSD})
	assertNoEvent(t, tickers)
}

func TestHub_StreamSplit(t *testing.T) {
	h := newRegisteredHub(t, DefaultHubConfig(),
		model.NewSubscription(btcUSD, model.Ticker),
		model.NewSubscription(ethUSD, model.Ticker),
	)

	handles, err := h.StreamSplit("c1", model.Ticker)
	require.NoError(t, err)
	require.Len(t, handles, 2)

	// Instruments() order: kraken/BTC/USD before kraken/ETH/USD
	assert.Equal(t, "TICKER:kraken/BTC/USD", handles[0].Key())
	assert.Equal(t, "TICKER:kraken/ETH/USD", handles[1].Key())

	h.Publish(model.Ticker, ticker(ethUSD, "3000"))
	assertNoEvent(t, handles[0])
	assert.Equal(t, ethUSD, receive(t, handles[1]).(model.TickerEvent).Instrument)
}

func TestHub_StreamSplitUserTrade(t *testing.T) {
	h := newRegisteredHub(t, DefaultHubConfig(),
		model.NewSubscription(btcUSD, model.UserTradeHistory),
		model.NewSubscription(ethUSD, model.UserTradeHistory),
	)

	handles, err := h.StreamSplit("c1", model.UserTrade)
	require.NoError(t, err)
	require.Len(t, handles, 2)
	assert.Equal(t, "USER_TRADE:kraken/BTC/USD", handles[0].Key())
	assert.Equal(t, "USER_TRADE:kraken/ETH/USD", handles[1].Key())

	h.Publish(model.UserTrade, model.UserTradeEvent{Instrument: ethUSD})
	assertNoEvent(t, handles[0])
	assert.Equal(t, ethUSD, receive(t, handles[1]).(model.UserTradeEvent).Instrument)
}

func TestHub_StreamSplitNothingSubscribed(t *testing.T) {
	h := newRegisteredHub(t, DefaultHubConfig())

	handles, err := h.StreamSplit("c1", model.Ticker)
	require.NoError(t, err)
	assert.Empty(t, handles)
}

func TestHub_BalanceMatching(t *testing.T) {
	h := newRegisteredHub(t, DefaultHubConfig(), model.NewSubscription(btcUSD, model.Balance))

	hd, err := h.Stream("c1", model.Balance)
	require.NoError(t, err)

	tests := []struct {
		name     string
		exchange string
		currency string
		want     bool
	}{
		{"base currency", "kraken", "BTC", true},
		{"counter currency", "kraken", "USD", true},
		{"other currency", "kraken", "ETH", false},
		{"other exchange", "bitstamp", "BTC", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h.Publish(model.Balance, model.BalanceEvent{Exchange: tt.exchange, Currency: tt.currency})
			if tt.want {
				ev := receive(t, hd).(model.BalanceEvent)
				assert.Equal(t, tt.currency, ev.Currency)
			} else {
				assertNoEvent(t, hd)
			}
		})
	}
}

func TestHub_UserTradeRoutedByHistorySubscription(t *testing.T) {
	h := newRegisteredHub(t, DefaultHubConfig(), model.NewSubscription(btcUSD, model.UserTradeHistory))

	hd, err := h.Stream("c1", model.UserTrade)
	require.NoError(t, err)

	h.Publish(model.UserTrade, model.UserTradeEvent{Instrument: btcEUR})
	h.Publish(model.UserTrade, model.UserTradeEvent{Instrument: btcUSD})

	assert.Equal(t, btcUSD, receive(t, hd).(model.UserTradeEvent).Instrument)
	assertNoEvent(t, hd)
}

func TestHub_ChangeSubscriptionsClosesMarketHandles(t *testing.T) {
	h := newRegisteredHub(t, DefaultHubConfig(), model.NewSubscription(btcUSD, model.Ticker))

	market, err := h.Stream("c1", model.Ticker)
	require.NoError(t, err)
	control, err := h.Control("c1")
	require.NoError(t, err)

	require.NoError(t, h.ChangeSubscriptions("c1", subscription.Empty()))
	assertClosed(t, market)

	h.PublishControl(model.Notification{Message: "still here", Level: model.LevelInfo})
	assert.Equal(t, "still here", receive(t, control).(model.Notification).Message)

	assert.Equal(t, 1, h.Stats().Handles)
}

func TestHub_UnregisterClosesAllHandles(t *testing.T) {
	h := newRegisteredHub(t, DefaultHubConfig(), model.NewSubscription(btcUSD, model.Ticker))

	market, err := h.Stream("c1", model.Ticker)
	require.NoError(t, err)
	control, err := h.Control("c1")
	require.NoError(t, err)

	require.NoError(t, h.UnregisterClient("c1"))
	assertClosed(t, market)
	assertClosed(t, control)

	stats := h.Stats()
	assert.Equal(t, 0, stats.Clients)
	assert.Equal(t, 0, stats.Handles)

	// Cancel after unregister must not panic on the closed channel.
	market.Cancel()
	control.Cancel()
}

func TestHub_CancelIdempotent(t *testing.T) {
	h := newRegisteredHub(t, DefaultHubConfig(), model.NewSubscription(btcUSD, model.Ticker))

	hd, err := h.Stream("c1", model.Ticker)
	require.NoError(t, err)

	hd.Cancel()
	hd.Cancel()
	assertClosed(t, hd)

	// Publishing after cancel reaches nobody.
	h.Publish(model.Ticker, ticker(btcUSD, "1"))
	assert.Equal(t, int64(0), h.Stats().Delivered)
}

func TestHub_PublishControlBroadcasts(t *testing.T) {
	h := NewHub(DefaultHubConfig(), nil)
	require.NoError(t, h.RegisterClient("a"))
	require.NoError(t, h.RegisterClient("b"))

	ca, err := h.Control("a")
	require.NoError(t, err)
	cb, err := h.Control("b")
	require.NoError(t, err)

	h.PublishControl(model.StatusUpdate{RequestID: "r1", Status: model.StatusRunning})

	assert.Equal(t, "r1", receive(t, ca).(model.StatusUpdate).RequestID)
	assert.Equal(t, "r1", receive(t, cb).(model.StatusUpdate).RequestID)
}

func TestHub_FullMailboxDropsOldest(t *testing.T) {
	h := newRegisteredHub(t, HubConfig{MailboxSize: 2}, model.NewSubscription(btcUSD, model.Ticker))

	hd, err := h.Stream("c1", model.Ticker)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, last := range []string{"1", "2", "3", "4"} {
			h.Publish(model.Ticker, ticker(btcUSD, last))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full mailbox")
	}

	assert.Equal(t, "3", receive(t, hd).(model.TickerEvent).Ticker.Last.String())
	assert.Equal(t, "4", receive(t, hd).(model.TickerEvent).Ticker.Last.String())
	assertNoEvent(t, hd)

	stats := h.Stats()
	assert.Equal(t, int64(4), stats.Published)
	assert.Equal(t, int64(2), stats.Dropped)
}
