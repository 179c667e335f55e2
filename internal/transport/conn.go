package transport

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var ErrConnClosed = errors.New("transport: connection closed")

// conn adapts a websocket connection to session.Transport.
type conn struct {
	ws     *websocket.Conn
	cfg    Config
	logger *slog.Logger

	writeMu sync.Mutex

	open      atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, cfg Config, logger *slog.Logger) *conn {
	c := &conn{
		ws:     ws,
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}
	c.open.Store(true)
	return c
}

// IsOpen reports whether the connection still accepts writes.
func (c *conn) IsOpen() bool {
	return c.open.Load()
}

// WriteText writes one text frame.
func (c *conn) WriteText(data []byte) error {
	if !c.IsOpen() {
		return ErrConnClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// close sends a close frame and releases the socket. Idempotent.
func (c *conn) close(code int, text string) {
	c.closeOnce.Do(func() {
		c.open.Store(false)
		close(c.done)

		c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, text),
			time.Now().Add(time.Second),
		)
		c.ws.Close()
	})
}

// pingLoop sends keepalive pings until the connection closes.
func (c *conn) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
				return
			}
		}
	}
}

// messageHandler receives inbound frames and read errors.
type messageHandler interface {
	OnMessage(data []byte)
	OnTransportError(err error)
}

// readLoop feeds inbound frames to h until the connection fails or closes.
// It returns the close reason.
func (c *conn) readLoop(h messageHandler) string {
	c.ws.SetReadLimit(c.cfg.ReadLimit)
	c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return "server closed"
			default:
			}

			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					h.OnTransportError(err)
				}
				return "client closed"
			}
			h.OnTransportError(err)
			return "read error"
		}

		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		h.OnMessage(data)
	}
}
