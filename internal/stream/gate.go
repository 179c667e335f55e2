package stream

import (
	"sync/atomic"
	"time"
)

// DefaultReadyTimeout is how long a READY keeps a client eligible for
// gated events.
const DefaultReadyTimeout = 5 * time.Second

// Gate tracks client liveness. A client is ready while less than the
// timeout has passed since the last MarkReady. The gate starts ready.
type Gate struct {
	timeout   time.Duration
	now       func() time.Time
	lastReady atomic.Int64 // unix nanoseconds
}

// NewGate creates a gate marked ready at creation. A nil now uses time.Now.
func NewGate(timeout time.Duration, now func() time.Time) *Gate {
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}
	if now == nil {
		now = time.Now
	}

	g := &Gate{timeout: timeout, now: now}
	g.MarkReady()
	return g
}

// MarkReady records a READY from the client.
func (g *Gate) MarkReady() {
	g.lastReady.Store(g.now().UnixNano())
}

// IsReady reports whether the last READY is within the timeout.
func (g *Gate) IsReady() bool {
	return g.now().UnixNano()-g.lastReady.Load() < int64(g.timeout)
}

// Timeout returns the configured ready timeout.
func (g *Gate) Timeout() time.Duration {
	return g.timeout
}
