package stream

import (
	"time"

	"github.com/rickgao/marketstream/internal/metrics"
	"github.com/rickgao/marketstream/internal/model"
	"github.com/rickgao/marketstream/internal/protocol"
	"github.com/rickgao/marketstream/internal/registry"
)

// pump moves events from one registry handle to the binding channel.
// An empty nature means the handle carries control events and the nature
// is resolved per event.
type pump struct {
	handle registry.Handle
	nature protocol.Nature
	policy Policy
	filter func(model.Event) bool
}

func (bd *Binding) run(p pump) {
	defer bd.wg.Done()

	if p.policy.Throttled() {
		bd.runThrottled(p)
		return
	}

	events := p.handle.Events()
	for {
		select {
		case <-bd.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				bd.ended(p)
				return
			}
			nature, policy, ok := bd.resolve(p, ev)
			if !ok || !bd.admit(nature, policy, p.filter, ev) {
				continue
			}
			select {
			case bd.out <- bd.delivery(nature, policy, ev):
			case <-bd.ctx.Done():
				return
			}
		}
	}
}

// runThrottled forwards at most one event per window. The window opens on
// the first admitted event after an emission; when it closes the latest
// event is offered to the channel. Newer events replace the pending one
// until it is taken.
func (bd *Binding) runThrottled(p pump) {
	events := p.handle.Events()

	var (
		pending model.Event
		timer   *time.Timer
		timerC  <-chan time.Time
		sendC   chan<- Delivery
		out     Delivery
	)

	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-bd.ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				bd.ended(p)
				return
			}
			if !bd.admit(p.nature, p.policy, p.filter, ev) {
				continue
			}
			if pending != nil {
				metrics.EventsDropped.WithLabelValues(string(p.nature), metrics.ReasonThrottled).Inc()
			}
			pending = ev

			switch {
			case sendC != nil:
				out = bd.delivery(p.nature, p.policy, pending)
			case timerC == nil:
				timer = time.NewTimer(p.policy.Window)
				timerC = timer.C
			}

		case <-timerC:
			timer, timerC = nil, nil
			out = bd.delivery(p.nature, p.policy, pending)
			sendC = bd.out

		case sendC <- out:
			pending, sendC, out = nil, nil, Delivery{}
		}
	}
}

func (bd *Binding) resolve(p pump, ev model.Event) (protocol.Nature, Policy, bool) {
	if p.nature != "" {
		return p.nature, p.policy, true
	}

	nature, ok := protocol.ControlNature(ev)
	if !ok {
		bd.logger.Warn("unexpected event on control stream", "key", p.handle.Key())
		return "", Policy{}, false
	}
	return nature, bd.policies.For(nature), true
}

// admit applies the readiness gate and the stream filter.
func (bd *Binding) admit(nature protocol.Nature, policy Policy, filter func(model.Event) bool, ev model.Event) bool {
	if policy.Gated && !bd.gate.IsReady() {
		bd.logger.Debug("client not ready, dropping event", "nature", nature)
		metrics.EventsDropped.WithLabelValues(string(nature), metrics.ReasonNotReady).Inc()
		return false
	}
	if filter != nil && !filter(ev) {
		metrics.EventsDropped.WithLabelValues(string(nature), metrics.ReasonFiltered).Inc()
		return false
	}
	return true
}

func (bd *Binding) delivery(nature protocol.Nature, policy Policy, ev model.Event) Delivery {
	if policy.Serialize {
		return Delivery{Nature: nature, Payload: protocol.Serialize(ev)}
	}
	return Delivery{Nature: nature, Payload: ev}
}

func (bd *Binding) ended(p pump) {
	select {
	case <-bd.ctx.Done():
		return
	default:
	}
	bd.logger.Info("upstream stream ended", "key", p.handle.Key())
}
