package registry

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rickgao/marketstream/internal/metrics"
	"github.com/rickgao/marketstream/internal/model"
	"github.com/rickgao/marketstream/internal/subscription"
)

const controlKey = "CONTROL"

// HubConfig holds configuration for the in-memory Hub.
type HubConfig struct {
	MailboxSize int // Per-handle buffered events. Default: 256
}

// DefaultHubConfig returns default configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		MailboxSize: 256,
	}
}

// HubStats contains runtime statistics.
type HubStats struct {
	Clients   int
	Handles   int
	Published int64
	Delivered int64
	Dropped   int64
}

// Hub is an in-memory Source that producers publish into.
type Hub struct {
	cfg    HubConfig
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]*client
	nextID  int64

	published atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
}

type client struct {
	subs    subscription.Set
	handles map[int64]*handle
}

var _ Source = (*Hub)(nil)

// NewHub creates an empty Hub.
func NewHub(cfg HubConfig, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = DefaultHubConfig().MailboxSize
	}

	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[string]*client),
	}
}

// RegisterClient adds a client with an empty subscription set.
func (h *Hub) RegisterClient(clientID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[clientID]; ok {
		return fmt.Errorf("%w: %s", ErrClientExists, clientID)
	}
	h.clients[clientID] = &client{handles: make(map[int64]*handle)}

	h.logger.Debug("client registered", "client_id", clientID)
	return nil
}

// UnregisterClient removes the client and closes every handle it owns.
func (h *Hub) UnregisterClient(clientID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[clientID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownClient, clientID)
	}
	for id, hd := range c.handles {
		hd.closeLocked()
		delete(c.handles, id)
	}
	delete(h.clients, clientID)

	h.logger.Debug("client unregistered", "client_id", clientID)
	return nil
}

// ChangeSubscriptions replaces the client's set and closes its market
// handles. Control handles are kept.
func (h *Hub) ChangeSubscriptions(clientID string, set subscription.Set) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[clientID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownClient, clientID)
	}
	for id, hd := range c.handles {
		if hd.control {
			continue
		}
		hd.closeLocked()
		delete(c.handles, id)
	}
	c.subs = set

	h.logger.Debug("subscriptions replaced", "client_id", clientID, "subscriptions", set.Len())
	return nil
}

// Stream opens a handle receiving every event of type t that matches the
// client's subscriptions.
func (h *Hub) Stream(clientID string, t model.DataType) (Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[clientID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClient, clientID)
	}
	return h.openLocked(c, clientID, t, nil, false), nil
}

// StreamSplit opens one handle per instrument subscribed under t.
// USER_TRADE splits over the USER_TRADE_HISTORY instruments.
func (h *Hub) StreamSplit(clientID string, t model.DataType) ([]Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[clientID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClient, clientID)
	}

	listed := t
	if t == model.UserTrade {
		listed = model.UserTradeHistory
	}
	specs := c.subs.Instruments(listed)
	handles := make([]Handle, 0, len(specs))
	for i := range specs {
		spec := specs[i]
		handles = append(handles, h.openLocked(c, clientID, t, &spec, false))
	}
	return handles, nil
}

// Control opens a handle receiving every control event.
func (h *Hub) Control(clientID string) (Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[clientID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClient, clientID)
	}
	return h.openLocked(c, clientID, "", nil, true), nil
}

func (h *Hub) openLocked(c *client, clientID string, t model.DataType, spec *model.InstrumentSpec, control bool) *handle {
	h.nextID++

	key := string(t)
	switch {
	case control:
		key = controlKey
	case spec != nil:
		key = string(t) + ":" + spec.String()
	}

	hd := &handle{
		id:         h.nextID,
		hub:        h,
		clientID:   clientID,
		dataType:   t,
		instrument: spec,
		control:    control,
		key:        key,
		ch:         make(chan model.Event, h.cfg.MailboxSize),
	}
	c.handles[hd.id] = hd
	return hd
}

// Publish delivers ev to every open handle of type t whose client is
// subscribed to it. It never blocks.
func (h *Hub) Publish(t model.DataType, ev model.Event) {
	h.published.Add(1)
	metrics.EventsPublished.WithLabelValues(string(t)).Inc()

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		for _, hd := range c.handles {
			if hd.control || hd.dataType != t {
				continue
			}
			if !matches(c.subs, hd, ev) {
				continue
			}
			hd.push(ev)
		}
	}
}

// PublishControl broadcasts a notification or status update to every
// registered client's control handles.
func (h *Hub) PublishControl(ev model.Event) {
	h.published.Add(1)
	metrics.EventsPublished.WithLabelValues(controlKey).Inc()

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		for _, hd := range c.handles {
			if hd.control {
				hd.push(ev)
			}
		}
	}
}

// Stats returns current statistics.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	handles := 0
	for _, c := range h.clients {
		handles += len(c.handles)
	}

	return HubStats{
		Clients:   len(h.clients),
		Handles:   handles,
		Published: h.published.Load(),
		Delivered: h.delivered.Load(),
		Dropped:   h.dropped.Load(),
	}
}

// matches reports whether ev belongs on hd given the client's set.
func matches(subs subscription.Set, hd *handle, ev model.Event) bool {
	switch e := ev.(type) {
	case model.BalanceEvent:
		for _, spec := range subs.Instruments(model.Balance) {
			if spec.Exchange == e.Exchange && (spec.Base == e.Currency || spec.Counter == e.Currency) {
				return true
			}
		}
		return false

	case model.UserTradeEvent:
		if hd.instrument != nil && *hd.instrument != e.Instrument {
			return false
		}
		return subs.Contains(model.NewSubscription(e.Instrument, model.UserTradeHistory))
	}

	spec, ok := instrumentOf(ev)
	if !ok {
		return false
	}
	if hd.instrument != nil && *hd.instrument != spec {
		return false
	}
	return subs.Contains(model.NewSubscription(spec, hd.dataType))
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
