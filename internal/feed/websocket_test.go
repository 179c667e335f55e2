package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/marketstream/internal/config"
)

// upstreamServer accepts connections, checks the subscribe message and
// sends one message per connection before hanging up.
func upstreamServer(t *testing.T, subscribe string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var conns atomic.Int32
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		n := conns.Add(1)
		_, msg, err := ws.ReadMessage()
		if err != nil || string(msg) != subscribe {
			return
		}
		ws.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf(`{"conn":%d}`, n)))
		ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	t.Cleanup(srv.Close)
	return srv, &conns
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketFeed_ReconnectsAndForwards(t *testing.T) {
	srv, conns := upstreamServer(t, `{"subscribe":"all"}`)

	f := NewWebSocketFeed(config.WebSocketConfig{
		URL:               wsURL(srv),
		APIKey:            "secret",
		SubscribeMessage:  `{"subscribe":"all"}`,
		ReconnectBaseWait: 10 * time.Millisecond,
		ReconnectMaxWait:  20 * time.Millisecond,
	}, nil)
	out := NewBuffer[RawMessage](4, 64)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- f.Run(ctx, out) }()

	for i := 1; i <= 2; i++ {
		msg, ok := receiveWithin(t, out, time.Second)
		if !ok {
			t.Fatalf("message %d not received", i)
		}
		if want := fmt.Sprintf(`{"conn":%d}`, i); string(msg.Data) != want {
			t.Errorf("message %d = %s, want %s", i, msg.Data, want)
		}
		if !strings.HasPrefix(msg.Origin, "websocket:") {
			t.Errorf("Origin = %q, want websocket: prefix", msg.Origin)
		}
	}
	if conns.Load() < 2 {
		t.Errorf("connections = %d, want >= 2", conns.Load())
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWebSocketFeed_CloseStopsRun(t *testing.T) {
	srv, _ := upstreamServer(t, "")

	f := NewWebSocketFeed(config.WebSocketConfig{
		URL:               wsURL(srv),
		APIKey:            "wrong",
		ReconnectBaseWait: 10 * time.Millisecond,
	}, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- f.Run(context.Background(), NewBuffer[RawMessage](1, 1)) }()

	time.Sleep(30 * time.Millisecond)
	if err := f.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case err := <-errCh:
		if err != ErrFeedClosed {
			t.Errorf("Run returned %v, want ErrFeedClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestNewWebSocketFeed_Defaults(t *testing.T) {
	f := NewWebSocketFeed(config.WebSocketConfig{URL: "ws://x"}, nil)
	if f.cfg.ReconnectBaseWait != config.DefaultReconnectBaseWait {
		t.Errorf("ReconnectBaseWait = %v, want %v", f.cfg.ReconnectBaseWait, config.DefaultReconnectBaseWait)
	}
	if f.cfg.ReconnectMaxWait != config.DefaultReconnectBaseWait {
		t.Errorf("ReconnectMaxWait = %v, want %v", f.cfg.ReconnectMaxWait, config.DefaultReconnectBaseWait)
	}
	if f.cfg.PingTimeout != config.DefaultUpstreamPingTimeout {
		t.Errorf("PingTimeout = %v, want %v", f.cfg.PingTimeout, config.DefaultUpstreamPingTimeout)
	}
}

func receiveWithin(t *testing.T, b *Buffer[RawMessage], d time.Duration) (RawMessage, bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if msg, ok := b.TryReceive(); ok {
			return msg, true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return RawMessage{}, false
}
