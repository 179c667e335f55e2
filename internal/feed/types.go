package feed

import (
	"context"
	"errors"
	"time"
)

var ErrFeedClosed = errors.New("feed: upstream closed")

// RawMessage is one upstream message.
type RawMessage struct {
	Origin     string // e.g. "redis:marketdata" or "kafka:marketdata/3"
	Data       []byte
	ReceivedAt time.Time
}

// Feed pushes upstream messages into a buffer until ctx is done.
type Feed interface {
	// Run blocks until ctx is cancelled (returning nil) or the upstream
	// fails.
	Run(ctx context.Context, out *Buffer[RawMessage]) error

	// Close releases the upstream client.
	Close() error
}
