package session

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/marketstream/internal/model"
	"github.com/rickgao/marketstream/internal/protocol"
	"github.com/rickgao/marketstream/internal/registry"
	"github.com/rickgao/marketstream/internal/stream"
)

const testWindow = 50 * time.Millisecond

var btcUSD = model.InstrumentSpec{Exchange: "kraken", Base: "BTC", Counter: "USD"}

// fakeTransport records every attempted write.
type fakeTransport struct {
	mu       sync.Mutex
	open     bool
	frames   [][]byte
	writeErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{open: true}
}

func (f *fakeTransport) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeTransport) WriteText(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, append([]byte(nil), data...))
	return f.writeErr
}

func (f *fakeTransport) setOpen(open bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = open
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

type frame struct {
	Nature protocol.Nature
	Data   json.RawMessage
}

func (f *fakeTransport) decoded(t *testing.T) []frame {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]frame, 0, len(f.frames))
	for _, raw := range f.frames {
		nature, data, err := protocol.DecodeFrame(raw)
		require.NoError(t, err)
		out = append(out, frame{Nature: nature, Data: data})
	}
	return out
}

func (f *fakeTransport) byNature(t *testing.T, nature protocol.Nature) []frame {
	t.Helper()
	var out []frame
	for _, fr := range f.decoded(t) {
		if fr.Nature == nature {
			out = append(out, fr)
		}
	}
	return out
}

// countingSource counts UnregisterClient calls on top of a Hub.
type countingSource struct {
	*registry.Hub

	mu           sync.Mutex
	unregistered int
}

func (c *countingSource) UnregisterClient(clientID string) error {
	c.mu.Lock()
	c.unregistered++
	c.mu.Unlock()
	return c.Hub.UnregisterClient(clientID)
}

func (c *countingSource) unregisterCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unregistered
}

// closingSource calls before ahead of every registration.
type closingSource struct {
	*countingSource
	before func()
}

func (c *closingSource) RegisterClient(clientID string) error {
	if c.before != nil {
		c.before()
	}
	return c.Hub.RegisterClient(clientID)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	hub       *registry.Hub
	source    *countingSource
	transport *fakeTransport
	session   *Session
	clock     *fakeClock
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	clock := &fakeClock{now: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)}
	if cfg.Now == nil {
		cfg.Now = clock.Now
	}

	hub := registry.NewHub(registry.DefaultHubConfig(), nil)
	source := &countingSource{Hub: hub}
	policies := stream.DefaultPolicies().
		With(protocol.NatureTicker, stream.Policy{Window: testWindow, PerInstrument: true, Gated: true})
	binder := stream.NewBinder(source, policies, stream.BinderConfig{}, nil)
	tr := newFakeTransport()

	s := New(tr, source, binder, cfg, nil)
	require.NoError(t, s.Open())
	t.Cleanup(func() { s.Close("test cleanup") })

	return &harness{hub: hub, source: source, transport: tr, session: s, clock: clock}
}

func (h *harness) send(t *testing.T, cmd protocol.Command) {
	t.Helper()
	data, err := protocol.EncodeCommand(cmd)
	require.NoError(t, err)
	h.session.OnMessage(data)
}

func (h *harness) subscribe(t *testing.T, dt model.DataType, specs ...model.InstrumentSpec) {
	t.Helper()
	h.send(t, protocol.ChangeSubscriptions{Type: dt, Instruments: specs})
	h.send(t, protocol.UpdateSubscriptions{})
}

func waitForFrames(t *testing.T, tr *fakeTransport, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return tr.count() >= n }, time.Second, 5*time.Millisecond)
}

func noLimitConfig() Config {
	cfg := DefaultConfig()
	cfg.CommandRate = 0
	return cfg
}

func TestSession_Open(t *testing.T) {
	h := newHarness(t, noLimitConfig())

	assert.Equal(t, StateActive, h.session.State())
	assert.True(t, strings.HasPrefix(h.session.ID(), ClientIDPrefix))
	assert.True(t, h.session.Subscriptions().IsEmpty())

	stats := h.hub.Stats()
	assert.Equal(t, 1, stats.Clients)
	assert.Equal(t, 1, stats.Handles, "only the control stream is bound")

	assert.ErrorIs(t, h.session.Open(), ErrAlreadyOpened)
}

func TestSession_UniqueIDs(t *testing.T) {
	hub := registry.NewHub(registry.DefaultHubConfig(), nil)
	binder := stream.NewBinder(hub, nil, stream.BinderConfig{}, nil)

	a := New(newFakeTransport(), hub, binder, DefaultConfig(), nil)
	b := New(newFakeTransport(), hub, binder, DefaultConfig(), nil)
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestSession_ChangeDoesNotRebind(t *testing.T) {
	h := newHarness(t, noLimitConfig())

	h.send(t, protocol.ChangeSubscriptions{Type: model.Balance, Instruments: []model.InstrumentSpec{btcUSD}})

	assert.True(t, h.session.Subscriptions().Contains(model.NewSubscription(btcUSD, model.Balance)))
	assert.Equal(t, 1, h.hub.Stats().Handles)

	h.hub.Publish(model.Balance, model.BalanceEvent{Exchange: "kraken", Currency: "BTC"})
	time.Sleep(2 * testWindow)
	assert.Equal(t, 0, h.transport.count())
}

func TestSession_TickerThrottledScenario(t *testing.T) {
	h := newHarness(t, noLimitConfig())
	h.subscribe(t, model.Ticker, btcUSD)

	for _, last := range []string{"42000", "42001", "42002"} {
		h.hub.Publish(model.Ticker, model.TickerEvent{
			Instrument: btcUSD,
			Ticker:     model.TickerData{Last: decimal.RequireFromString(last)},
		})
	}

	waitForFrames(t, h.transport, 1)
	time.Sleep(3 * testWindow)

	frames := h.transport.byNature(t, protocol.NatureTicker)
	require.Len(t, frames, 1)

	var got model.TickerEvent
	require.NoError(t, json.Unmarshal(frames[0].Data, &got))
	assert.Equal(t, btcUSD, got.Instrument)
	assert.Equal(t, "42002", got.Ticker.Last.String())
}

func TestSession_BalanceNotReadyScenario(t *testing.T) {
	h := newHarness(t, noLimitConfig())
	h.subscribe(t, model.Balance, btcUSD)

	h.clock.Advance(5100 * time.Millisecond)
	h.hub.Publish(model.Balance, model.BalanceEvent{Exchange: "kraken", Currency: "BTC"})
	h.hub.PublishControl(model.Notification{Message: "still delivered", Level: model.LevelInfo})

	waitForFrames(t, h.transport, 1)
	time.Sleep(2 * testWindow)
	assert.Empty(t, h.transport.byNature(t, protocol.NatureBalance))
	assert.Len(t, h.transport.byNature(t, protocol.NatureNotification), 1)

	h.send(t, protocol.Ready{})
	h.hub.Publish(model.Balance, model.BalanceEvent{Exchange: "kraken", Currency: "USD"})

	waitForFrames(t, h.transport, 2)
	balances := h.transport.byNature(t, protocol.NatureBalance)
	require.Len(t, balances, 1)
	assert.Contains(t, string(balances[0].Data), `"currency":"USD"`)
}

func TestSession_ReadyWithinTimeout(t *testing.T) {
	h := newHarness(t, noLimitConfig())
	h.subscribe(t, model.Balance, btcUSD)

	h.clock.Advance(4900 * time.Millisecond)
	h.hub.Publish(model.Balance, model.BalanceEvent{Exchange: "kraken", Currency: "BTC"})
	h.hub.PublishControl(model.Notification{Message: "also delivered", Level: model.LevelInfo})

	waitForFrames(t, h.transport, 2)
	assert.Len(t, h.transport.byNature(t, protocol.NatureBalance), 1)

	notes := h.transport.byNature(t, protocol.NatureNotification)
	require.Len(t, notes, 1)
	assert.Contains(t, string(notes[0].Data), "also delivered")
}

func TestSession_TradesSerialized(t *testing.T) {
	h := newHarness(t, noLimitConfig())
	h.subscribe(t, model.Trades, btcUSD)

	h.hub.Publish(model.Trades, model.TradeEvent{
		Instrument: btcUSD,
		Trade: model.NewNativeTrade(model.TradeParams{
			ID:     "t-9",
			Side:   model.Ask,
			Price:  decimal.RequireFromString("42000"),
			Amount: decimal.RequireFromString("1"),
		}),
	})

	waitForFrames(t, h.transport, 1)
	frames := h.transport.byNature(t, protocol.NatureTrade)
	require.Len(t, frames, 1)

	var got protocol.SerializedTrade
	require.NoError(t, json.Unmarshal(frames[0].Data, &got))
	assert.Equal(t, btcUSD, got.Instrument)
	assert.Equal(t, "t-9", got.Trade.ID)
	assert.Equal(t, model.Ask, got.Trade.Side)
}

func TestSession_ProtocolErrors(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"not json", `{nope`},
		{"missing command", `{"tickers":[]}`},
		{"unknown command", `{"command":"CHANGE_EVERYTHING"}`},
		{"invalid instrument", `{"command":"CHANGE_TICKERS","tickers":[{"exchange":"kraken","base":"","counter":"USD"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, noLimitConfig())

			h.session.OnMessage([]byte(tt.frame))

			frames := h.transport.decoded(t)
			require.Len(t, frames, 1)
			assert.Equal(t, protocol.NatureError, frames[0].Nature)
			assert.JSONEq(t, `"Error processing message"`, string(frames[0].Data))
			assert.Equal(t, StateActive, h.session.State())
			assert.True(t, h.session.Subscriptions().IsEmpty())
		})
	}
}

func TestSession_CommandRateLimited(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CommandRate = 0.001
	cfg.CommandBurst = 1
	h := newHarness(t, cfg)

	h.send(t, protocol.Ready{})
	assert.Equal(t, 0, h.transport.count())

	h.send(t, protocol.Ready{})
	frames := h.transport.decoded(t)
	require.Len(t, frames, 1)
	assert.Equal(t, protocol.NatureError, frames[0].Nature)
	assert.Equal(t, StateActive, h.session.State())
}

func TestSession_RebindTwiceNoDuplicates(t *testing.T) {
	h := newHarness(t, noLimitConfig())

	h.send(t, protocol.ChangeSubscriptions{Type: model.Balance, Instruments: []model.InstrumentSpec{btcUSD}})
	h.send(t, protocol.UpdateSubscriptions{})
	h.send(t, protocol.UpdateSubscriptions{})

	// control + one balance stream
	assert.Equal(t, 2, h.hub.Stats().Handles)

	h.hub.Publish(model.Balance, model.BalanceEvent{Exchange: "kraken", Currency: "BTC"})
	waitForFrames(t, h.transport, 1)
	time.Sleep(2 * testWindow)
	assert.Len(t, h.transport.byNature(t, protocol.NatureBalance), 1)
}

func TestSession_RebindReplacesTypes(t *testing.T) {
	h := newHarness(t, noLimitConfig())
	h.subscribe(t, model.Balance, btcUSD)

	h.send(t, protocol.ChangeSubscriptions{Type: model.Balance})
	h.send(t, protocol.ChangeSubscriptions{Type: model.Trades, Instruments: []model.InstrumentSpec{btcUSD}})
	h.send(t, protocol.UpdateSubscriptions{})

	h.hub.Publish(model.Balance, model.BalanceEvent{Exchange: "kraken", Currency: "BTC"})
	h.hub.Publish(model.Trades, model.TradeEvent{
		Instrument: btcUSD,
		Trade:      model.NewNativeTrade(model.TradeParams{ID: "t-1"}),
	})

	waitForFrames(t, h.transport, 1)
	time.Sleep(2 * testWindow)
	assert.Empty(t, h.transport.byNature(t, protocol.NatureBalance))
	assert.Len(t, h.transport.byNature(t, protocol.NatureTrade), 1)
}

func TestSession_CloseIdempotent(t *testing.T) {
	h := newHarness(t, noLimitConfig())
	h.subscribe(t, model.Balance, btcUSD)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.session.Close("concurrent")
		}()
	}
	wg.Wait()
	h.session.Close("again")

	assert.Equal(t, StateClosed, h.session.State())
	assert.Equal(t, 1, h.source.unregisterCalls())
	assert.True(t, h.session.Subscriptions().IsEmpty())

	stats := h.hub.Stats()
	assert.Equal(t, 0, stats.Clients)
	assert.Equal(t, 0, stats.Handles)
}

func TestSession_CloseDuringOpen(t *testing.T) {
	hub := registry.NewHub(registry.DefaultHubConfig(), nil)
	source := &closingSource{countingSource: &countingSource{Hub: hub}}
	binder := stream.NewBinder(hub, nil, stream.BinderConfig{}, nil)
	s := New(newFakeTransport(), source, binder, noLimitConfig(), nil)
	source.before = func() { s.Close("closed while opening") }

	require.NoError(t, s.Open())

	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 2, source.unregisterCalls())
	stats := hub.Stats()
	assert.Equal(t, 0, stats.Clients, "registration must not outlive the session")
	assert.Equal(t, 0, stats.Handles)
}

func TestSession_CloseMidStream(t *testing.T) {
	h := newHarness(t, noLimitConfig())
	h.subscribe(t, model.Balance, btcUSD)

	h.hub.Publish(model.Balance, model.BalanceEvent{Exchange: "kraken", Currency: "BTC"})
	waitForFrames(t, h.transport, 1)

	h.transport.setOpen(false)
	h.session.Close("client went away")
	written := h.transport.count()

	h.hub.Publish(model.Balance, model.BalanceEvent{Exchange: "kraken", Currency: "BTC"})
	h.hub.PublishControl(model.Notification{Message: "late"})
	h.session.OnMessage([]byte(`{nope`))
	time.Sleep(2 * testWindow)

	assert.Equal(t, written, h.transport.count())
	assert.Equal(t, 1, h.source.unregisterCalls())
}

func TestSession_CloseFromInsideWrite(t *testing.T) {
	h := newHarness(t, noLimitConfig())
	h.subscribe(t, model.Balance, btcUSD)

	closing := &closingTransport{fakeTransport: h.transport, session: h.session}
	h.session.transport = closing

	h.hub.Publish(model.Balance, model.BalanceEvent{Exchange: "kraken", Currency: "BTC"})

	require.Eventually(t, func() bool { return h.session.State() == StateClosed }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.source.unregisterCalls())
}

// closingTransport closes the session from within WriteText.
type closingTransport struct {
	*fakeTransport
	session *Session
}

func (c *closingTransport) WriteText(data []byte) error {
	c.session.Close("write path")
	return c.fakeTransport.WriteText(data)
}

func TestSession_WriteFailureSwallowed(t *testing.T) {
	h := newHarness(t, noLimitConfig())
	h.subscribe(t, model.Balance, btcUSD)
	h.transport.writeErr = errors.New("broken pipe")

	h.hub.Publish(model.Balance, model.BalanceEvent{Exchange: "kraken", Currency: "BTC"})
	h.hub.Publish(model.Balance, model.BalanceEvent{Exchange: "kraken", Currency: "USD"})

	waitForFrames(t, h.transport, 2)
	assert.Equal(t, StateActive, h.session.State())
}

func TestSession_TransportNotOpen(t *testing.T) {
	h := newHarness(t, noLimitConfig())
	h.transport.setOpen(false)

	h.session.OnMessage([]byte(`{nope`))
	assert.Equal(t, 0, h.transport.count())
	assert.Equal(t, StateActive, h.session.State())
}

func TestSession_OnTransportErrorKeepsSession(t *testing.T) {
	h := newHarness(t, noLimitConfig())

	h.session.OnTransportError(errors.New("reset by peer"))
	assert.Equal(t, StateActive, h.session.State())
}

func TestSession_MessageBeforeOpenIgnored(t *testing.T) {
	hub := registry.NewHub(registry.DefaultHubConfig(), nil)
	binder := stream.NewBinder(hub, nil, stream.BinderConfig{}, nil)
	tr := newFakeTransport()
	s := New(tr, hub, binder, DefaultConfig(), nil)

	s.OnMessage([]byte(`{nope`))
	assert.Equal(t, StateOpening, s.State())
	assert.Equal(t, 0, tr.count())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "OPENING", StateOpening.String())
	assert.Equal(t, "ACTIVE", StateActive.String())
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "State(7)", State(7).String())
}
