package transport

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/marketstream/internal/session"
)

// Config holds websocket server settings.
type Config struct {
	ReadLimit      int64         // Max inbound frame bytes. Default: 64 KiB
	WriteTimeout   time.Duration // Default: 10s
	PingInterval   time.Duration // Default: 30s
	PongTimeout    time.Duration // Default: 60s
	AllowedOrigins []string      // Empty allows any origin
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		ReadLimit:    64 * 1024,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
		PongTimeout:  60 * time.Second,
	}
}

// SessionFactory creates the session for a newly accepted connection.
type SessionFactory func(t session.Transport) *session.Session

// Handler upgrades HTTP requests to websocket sessions.
type Handler struct {
	cfg        Config
	upgrader   websocket.Upgrader
	newSession SessionFactory
	logger     *slog.Logger

	mu       sync.Mutex
	conns    map[*conn]struct{}
	shutdown bool
	wg       sync.WaitGroup
}

// NewHandler creates a Handler.
func NewHandler(cfg Config, newSession SessionFactory, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	d := DefaultConfig()
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = d.ReadLimit
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = d.WriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = d.PingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = d.PongTimeout
	}

	h := &Handler{
		cfg:        cfg,
		newSession: newSession,
		logger:     logger,
		conns:      make(map[*conn]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// ServeHTTP runs one connection to completion.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newConn(ws, h.cfg, h.logger)
	if !h.track(c) {
		c.close(websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer h.untrack(c)

	s := h.newSession(c)
	if err := s.Open(); err != nil {
		h.logger.Error("failed to open session", "client_id", s.ID(), "error", err)
		s.Close("open failed")
		c.close(websocket.CloseInternalServerErr, "")
		return
	}

	h.logger.Debug("connection accepted", "client_id", s.ID(), "remote", r.RemoteAddr)

	go c.pingLoop()
	reason := c.readLoop(s)

	s.Close(reason)
	c.close(websocket.CloseNormalClosure, "")
}

// Active returns the number of open connections.
func (h *Handler) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Shutdown closes every open connection and waits for their sessions
// to finish or ctx to expire.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.shutdown = true
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.close(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("websocket connections closed", "count", len(conns))
		return nil
	case <-ctx.Done():
		h.logger.Warn("websocket shutdown timed out")
		return ctx.Err()
	}
}

func (h *Handler) track(c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.shutdown {
		return false
	}
	h.conns[c] = struct{}{}
	h.wg.Add(1)
	return true
}

func (h *Handler) untrack(c *conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	h.wg.Done()
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, u.Host) || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
