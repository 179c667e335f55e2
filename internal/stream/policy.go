package stream

import (
	"time"

	"github.com/rickgao/marketstream/internal/protocol"
)

// Policy controls how one outbound nature is delivered.
type Policy struct {
	Window        time.Duration // Zero: every event is forwarded
	PerInstrument bool          // Throttle each instrument independently
	Gated         bool          // Drop while the client is not ready
	Serialize     bool          // Convert native trades before delivery
}

// Throttled reports whether the policy coalesces events.
func (p Policy) Throttled() bool {
	return p.Window > 0
}

// Policies maps each outbound nature to its delivery policy.
type Policies map[protocol.Nature]Policy

// DefaultPolicies returns the standard per-nature delivery table.
func DefaultPolicies() Policies {
	return Policies{
		protocol.NatureTicker:           {Window: time.Second, PerInstrument: true, Gated: true},
		protocol.NatureOrderBook:        {Window: 2 * time.Second, PerInstrument: true, Gated: true},
		protocol.NatureOpenOrders:       {Window: time.Second, Gated: true},
		protocol.NatureBalance:          {Gated: true},
		protocol.NatureTrade:            {Gated: true, Serialize: true},
		protocol.NatureUserTradeHistory: {Window: 5 * time.Second, PerInstrument: true, Gated: true, Serialize: true},
		protocol.NatureUserTrade:        {Gated: true, Serialize: true},
		protocol.NatureNotification:     {},
		protocol.NatureStatusUpdate:     {},
	}
}

// Unthrottled returns policies that forward every event ungated. Trade
// natures still serialize since native trades have no wire form.
func Unthrottled() Policies {
	p := make(Policies, len(protocol.Natures))
	for _, n := range protocol.Natures {
		p[n] = Policy{}
	}
	for _, n := range []protocol.Nature{protocol.NatureTrade, protocol.NatureUserTrade, protocol.NatureUserTradeHistory} {
		p[n] = Policy{Serialize: true}
	}
	return p
}

// For returns the policy for a nature. Unknown natures are unthrottled
// and ungated.
func (p Policies) For(n protocol.Nature) Policy {
	return p[n]
}

// With returns a copy with one nature's policy replaced.
func (p Policies) With(n protocol.Nature, policy Policy) Policies {
	out := make(Policies, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	out[n] = policy
	return out
}
