package feed

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/marketstream/internal/config"
	"github.com/rickgao/marketstream/internal/metrics"
)

// WebSocketFeed reads envelopes from an upstream websocket, reconnecting
// with exponential backoff when the connection drops.
type WebSocketFeed struct {
	cfg    config.WebSocketConfig
	logger *slog.Logger
	dialer websocket.Dialer

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewWebSocketFeed creates a feed for cfg.URL. No connection is made until
// Run.
func NewWebSocketFeed(cfg config.WebSocketConfig, logger *slog.Logger) *WebSocketFeed {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReconnectBaseWait <= 0 {
		cfg.ReconnectBaseWait = config.DefaultReconnectBaseWait
	}
	if cfg.ReconnectMaxWait < cfg.ReconnectBaseWait {
		cfg.ReconnectMaxWait = cfg.ReconnectBaseWait
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = config.DefaultUpstreamPingTimeout
	}

	return &WebSocketFeed{
		cfg:    cfg,
		logger: logger.With("url", cfg.URL),
		dialer: websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Run connects and forwards messages until ctx is done or Close is called.
func (f *WebSocketFeed) Run(ctx context.Context, out *Buffer[RawMessage]) error {
	wait := f.cfg.ReconnectBaseWait

	for {
		conn, err := f.connect(ctx)
		if err == nil {
			wait = f.cfg.ReconnectBaseWait
			// Unblock the read when ctx ends.
			stop := context.AfterFunc(ctx, func() { conn.Close() })
			err = f.readLoop(conn, out)
			stop()
			f.logger.Warn("upstream connection lost", "error", err)
		} else {
			f.logger.Warn("upstream connection failed", "error", err)
		}

		if ctx.Err() != nil {
			return nil
		}
		if f.isClosed() {
			return ErrFeedClosed
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}

		// Exponential backoff
		wait *= 2
		if wait > f.cfg.ReconnectMaxWait {
			wait = f.cfg.ReconnectMaxWait
		}
	}
}

func (f *WebSocketFeed) connect(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Accept", "application/json")
	if f.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+f.cfg.APIKey)
	}

	conn, _, err := f.dialer.DialContext(ctx, f.cfg.URL, header)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		conn.Close()
		return nil, ErrFeedClosed
	}
	f.conn = conn
	f.mu.Unlock()

	// Any frame from upstream, including pings, proves liveness.
	extend := func() { conn.SetReadDeadline(time.Now().Add(f.cfg.PingTimeout)) }
	extend()
	conn.SetPingHandler(func(data string) error {
		extend()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	if f.cfg.SubscribeMessage != "" {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, []byte(f.cfg.SubscribeMessage)); err != nil {
			conn.Close()
			return nil, err
		}
	}

	f.logger.Info("upstream connected")
	return conn, nil
}

func (f *WebSocketFeed) readLoop(conn *websocket.Conn, out *Buffer[RawMessage]) error {
	defer func() {
		f.mu.Lock()
		if f.conn == conn {
			f.conn = nil
		}
		f.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		receivedAt := time.Now()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(receivedAt.Add(f.cfg.PingTimeout))

		metrics.FeedMessages.WithLabelValues("received").Inc()
		out.Send(RawMessage{
			Origin:     "websocket:" + f.cfg.URL,
			Data:       data,
			ReceivedAt: receivedAt,
		})
	}
}

func (f *WebSocketFeed) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Close stops the feed and closes the current connection.
func (f *WebSocketFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	if f.conn == nil {
		return nil
	}

	f.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	err := f.conn.Close()
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}
