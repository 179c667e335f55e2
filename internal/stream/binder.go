package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rickgao/marketstream/internal/model"
	"github.com/rickgao/marketstream/internal/protocol"
	"github.com/rickgao/marketstream/internal/registry"
	"github.com/rickgao/marketstream/internal/subscription"
)

// DefaultDeliveryBuffer is the capacity of a binding's merged channel.
const DefaultDeliveryBuffer = 64

// Delivery is one outbound frame body ready to be written.
type Delivery struct {
	Nature  protocol.Nature
	Payload any
}

// BinderConfig holds configuration for a Binder.
type BinderConfig struct {
	DeliveryBuffer int // Merged channel capacity. Default: 64
}

// Request describes a market binding.
type Request struct {
	ClientID string
	Set      subscription.Set
	Gate     *Gate

	// Live returns the client's current subscription set. USER_TRADE
	// events are only delivered for instruments it holds under
	// USER_TRADE_HISTORY. Nil uses Set.
	Live func() subscription.Set
}

// Binder binds subscription sets to a registry source.
type Binder struct {
	source   registry.Source
	policies Policies
	cfg      BinderConfig
	logger   *slog.Logger
}

// NewBinder creates a Binder. Nil policies use DefaultPolicies.
func NewBinder(source registry.Source, policies Policies, cfg BinderConfig, logger *slog.Logger) *Binder {
	if logger == nil {
		logger = slog.Default()
	}
	if policies == nil {
		policies = DefaultPolicies()
	}
	if cfg.DeliveryBuffer <= 0 {
		cfg.DeliveryBuffer = DefaultDeliveryBuffer
	}

	return &Binder{
		source:   source,
		policies: policies,
		cfg:      cfg,
		logger:   logger,
	}
}

// Policies returns the binder's delivery table.
func (b *Binder) Policies() Policies {
	return b.policies
}

// Bind registers req.Set with the source wholesale and starts one pump per
// opened stream. An empty set yields a binding with no pumps whose channel
// is already closed.
func (b *Binder) Bind(req Request) (*Binding, error) {
	if err := b.source.ChangeSubscriptions(req.ClientID, req.Set); err != nil {
		return nil, fmt.Errorf("change subscriptions: %w", err)
	}

	bd := b.newBinding(req.ClientID, req.Gate)

	for _, t := range req.Set.Types() {
		if err := b.open(bd, req.ClientID, t, nil); err != nil {
			bd.Cancel()
			return nil, err
		}
	}

	if req.Set.HasType(model.UserTradeHistory) {
		live := req.Live
		if live == nil {
			set := req.Set
			live = func() subscription.Set { return set }
		}
		filter := func(ev model.Event) bool {
			ut, ok := ev.(model.UserTradeEvent)
			if !ok {
				return false
			}
			return live().Contains(model.NewSubscription(ut.Instrument, model.UserTradeHistory))
		}
		if err := b.open(bd, req.ClientID, model.UserTrade, filter); err != nil {
			bd.Cancel()
			return nil, err
		}
	}

	bd.start()

	b.logger.Debug("binding started",
		"client_id", req.ClientID,
		"subscriptions", req.Set.Len(),
		"pumps", len(bd.pumps),
	)
	return bd, nil
}

// BindControl binds the client's notification and status update stream.
// Control events are never throttled; gating follows each nature's policy.
func (b *Binder) BindControl(clientID string, gate *Gate) (*Binding, error) {
	hd, err := b.source.Control(clientID)
	if err != nil {
		return nil, fmt.Errorf("open control stream: %w", err)
	}

	bd := b.newBinding(clientID, gate)
	bd.add(pump{handle: hd})
	bd.start()
	return bd, nil
}

func (b *Binder) open(bd *Binding, clientID string, t model.DataType, filter func(model.Event) bool) error {
	nature := protocol.NatureOf(t)
	policy := b.policies.For(nature)

	// A balance matches every instrument carrying its currency, so split
	// handles would deliver it more than once.
	if policy.PerInstrument && t != model.Balance {
		handles, err := b.source.StreamSplit(clientID, t)
		if err != nil {
			return fmt.Errorf("open %s streams: %w", t, err)
		}
		for _, hd := range handles {
			bd.add(pump{handle: hd, nature: nature, policy: policy, filter: filter})
		}
		return nil
	}

	hd, err := b.source.Stream(clientID, t)
	if err != nil {
		return fmt.Errorf("open %s stream: %w", t, err)
	}
	bd.add(pump{handle: hd, nature: nature, policy: policy, filter: filter})
	return nil
}

func (b *Binder) newBinding(clientID string, gate *Gate) *Binding {
	if gate == nil {
		gate = NewGate(DefaultReadyTimeout, nil)
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Binding{
		clientID: clientID,
		gate:     gate,
		policies: b.policies,
		logger:   b.logger.With("client_id", clientID),
		out:      make(chan Delivery, b.cfg.DeliveryBuffer),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Binding is a running set of pumps feeding one delivery channel.
type Binding struct {
	clientID string
	gate     *Gate
	policies Policies
	logger   *slog.Logger

	pumps []pump
	out   chan Delivery

	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	done       chan struct{}
	cancelOnce sync.Once
}

func (bd *Binding) add(p pump) {
	bd.pumps = append(bd.pumps, p)
}

func (bd *Binding) start() {
	for i := range bd.pumps {
		bd.wg.Add(1)
		go bd.run(bd.pumps[i])
	}

	go func() {
		bd.wg.Wait()
		close(bd.out)
		close(bd.done)
	}()
}

// Deliveries returns the merged channel. It is closed once every pump
// has exited.
func (bd *Binding) Deliveries() <-chan Delivery {
	return bd.out
}

// Done is closed when the binding is cancelled.
func (bd *Binding) Done() <-chan struct{} {
	return bd.ctx.Done()
}

// Keys lists the registry handle keys the binding pumps from.
func (bd *Binding) Keys() []string {
	keys := make([]string, 0, len(bd.pumps))
	for _, p := range bd.pumps {
		keys = append(keys, p.handle.Key())
	}
	return keys
}

// Cancel stops every pump and releases the registry handles. It does not
// wait for the pumps or the channel consumer. Idempotent.
func (bd *Binding) Cancel() {
	bd.cancelOnce.Do(func() {
		bd.cancel()
		for _, p := range bd.pumps {
			p.handle.Cancel()
		}
	})
}

// Wait blocks until every pump has exited and the channel is closed.
// Only meaningful after Cancel or once every upstream handle has ended.
func (bd *Binding) Wait() {
	<-bd.done
}
