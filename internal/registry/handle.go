package registry

import (
	"github.com/rickgao/marketstream/internal/metrics"
	"github.com/rickgao/marketstream/internal/model"
)

// handle is the Hub's Handle. closed and channel closure are guarded by
// hub.mu (write lock); push runs under the read lock.
type handle struct {
	id         int64
	hub        *Hub
	clientID   string
	dataType   model.DataType
	instrument *model.InstrumentSpec // nil: every subscribed instrument
	control    bool
	key        string

	ch     chan model.Event
	closed bool
}

func (hd *handle) Key() string { return hd.key }

func (hd *handle) Events() <-chan model.Event { return hd.ch }

// Cancel removes the handle from its client and closes the channel.
func (hd *handle) Cancel() {
	hd.hub.mu.Lock()
	defer hd.hub.mu.Unlock()

	if hd.closed {
		return
	}
	if c, ok := hd.hub.clients[hd.clientID]; ok {
		delete(c.handles, hd.id)
	}
	hd.closeLocked()
}

func (hd *handle) closeLocked() {
	if hd.closed {
		return
	}
	hd.closed = true
	close(hd.ch)
}

// push enqueues ev, evicting the oldest buffered events until it fits.
func (hd *handle) push(ev model.Event) {
	for {
		select {
		case hd.ch <- ev:
			hd.hub.delivered.Add(1)
			return
		default:
		}

		select {
		case <-hd.ch:
			hd.hub.dropped.Add(1)
			metrics.MailboxDropped.WithLabelValues(hd.metricType()).Inc()
		default:
		}
	}
}

func (hd *handle) metricType() string {
	if hd.control {
		return controlKey
	}
	return string(hd.dataType)
}
