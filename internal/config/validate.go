package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rickgao/marketstream/internal/model"
	"github.com/rickgao/marketstream/internal/protocol"
)

// Validate checks that all required fields are set and values are valid.
func (c *StreamerConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Server.ListenAddr == "" {
		return errors.New("server.listen_addr is required")
	}
	if !strings.HasPrefix(c.Server.WSPath, "/") {
		return fmt.Errorf("server.ws_path must start with /, got %q", c.Server.WSPath)
	}
	if c.Server.ReadLimit < 1 {
		return errors.New("server.read_limit must be >= 1")
	}
	if c.Server.PongTimeout <= c.Server.PingInterval {
		return fmt.Errorf("server.pong_timeout (%s) must exceed server.ping_interval (%s)",
			c.Server.PongTimeout, c.Server.PingInterval)
	}

	if c.Session.ReadyTimeout <= 0 {
		return errors.New("session.ready_timeout must be > 0")
	}
	if c.Session.CommandRate < 0 {
		return errors.New("session.command_rate must be >= 0")
	}
	if c.Session.DeliveryBuffer < 1 {
		return errors.New("session.delivery_buffer must be >= 1")
	}

	if c.Registry.MailboxSize < 1 {
		return errors.New("registry.mailbox_size must be >= 1")
	}

	if err := c.Throttle.validate("throttle"); err != nil {
		return err
	}

	if err := c.Feed.validate("feed"); err != nil {
		return err
	}

	if c.Database.Enabled {
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
		if c.Writer.BatchSize < 1 {
			return errors.New("writer.batch_size must be >= 1")
		}
	}

	if c.Telegram.Enabled {
		if c.Telegram.Token == "" {
			return errors.New("telegram.token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == 0 {
			return errors.New("telegram.chat_id is required when telegram is enabled")
		}
		if model.NotificationLevel(c.Telegram.MinLevel).Rank() == 0 {
			return fmt.Errorf("telegram.min_level must be INFO, ALERT or ERROR, got %q", c.Telegram.MinLevel)
		}
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

func (t *ThrottleConfig) validate(prefix string) error {
	switch t.Mode {
	case ThrottleModeFull, ThrottleModeMinimal:
	default:
		return fmt.Errorf("%s.mode must be %s or %s, got %q", prefix, ThrottleModeFull, ThrottleModeMinimal, t.Mode)
	}

	for key, p := range t.Policies {
		nature, ok := natureForKey(key)
		if !ok {
			return fmt.Errorf("%s.policies.%s: unknown nature", prefix, key)
		}
		if p.Window != nil && *p.Window < 0 {
			return fmt.Errorf("%s.policies.%s.window must be >= 0", prefix, key)
		}
		if isControl(nature) && p.Window != nil && *p.Window > 0 {
			return fmt.Errorf("%s.policies.%s.window: control events are not throttled", prefix, key)
		}
		if !splittable(nature) && p.PerInstrument != nil && *p.PerInstrument {
			return fmt.Errorf("%s.policies.%s.per_instrument: %s is not split by instrument", prefix, key, nature)
		}
	}
	return nil
}

func (f *FeedConfig) validate(prefix string) error {
	if f.BufferSize < 1 {
		return fmt.Errorf("%s.buffer_size must be >= 1", prefix)
	}

	switch f.Backend {
	case FeedBackendNone:
	case FeedBackendRedis:
		if f.Redis.Addr == "" {
			return fmt.Errorf("%s.redis.addr is required", prefix)
		}
		if len(f.Redis.Channels) == 0 {
			return fmt.Errorf("%s.redis.channels must not be empty", prefix)
		}
	case FeedBackendKafka:
		if len(f.Kafka.Brokers) == 0 {
			return fmt.Errorf("%s.kafka.brokers must not be empty", prefix)
		}
		if f.Kafka.Topic == "" {
			return fmt.Errorf("%s.kafka.topic is required", prefix)
		}
		if f.Kafka.MinBytes > f.Kafka.MaxBytes {
			return fmt.Errorf("%s.kafka.min_bytes (%d) cannot exceed max_bytes (%d)", prefix, f.Kafka.MinBytes, f.Kafka.MaxBytes)
		}
	case FeedBackendWebSocket:
		u, err := url.Parse(f.WebSocket.URL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return fmt.Errorf("%s.websocket.url must be a ws:// or wss:// URL, got %q", prefix, f.WebSocket.URL)
		}
		if f.WebSocket.ReconnectMaxWait < f.WebSocket.ReconnectBaseWait {
			return fmt.Errorf("%s.websocket.reconnect_max_wait cannot be below reconnect_base_wait", prefix)
		}
	default:
		return fmt.Errorf("%s.backend must be none, redis, kafka or websocket, got %q", prefix, f.Backend)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

// natureForKey maps a lower-case policy key to its nature.
func natureForKey(key string) (protocol.Nature, bool) {
	for _, n := range protocol.Natures {
		if strings.EqualFold(string(n), key) {
			return n, true
		}
	}
	return "", false
}

func isControl(n protocol.Nature) bool {
	return n == protocol.NatureNotification || n == protocol.NatureStatusUpdate
}

// splittable reports whether a nature's stream can be split per
// instrument. Balances route by currency and control events carry no
// instrument.
func splittable(n protocol.Nature) bool {
	return n != protocol.NatureBalance && !isControl(n)
}
