package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultListenAddr      = ":8080"
	DefaultWSPath          = "/ws"
	DefaultHealthPath      = "/health"
	DefaultReadLimit       = 64 * 1024
	DefaultWriteTimeout    = 10 * time.Second
	DefaultPingInterval    = 30 * time.Second
	DefaultPongTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultReadyTimeout    = 5 * time.Second
	DefaultCommandRate     = 20
	DefaultCommandBurst    = 40
	DefaultDeliveryBuffer  = 64
	DefaultMailboxSize     = 256
	DefaultThrottleMode    = ThrottleModeFull
	DefaultFeedBackend     = FeedBackendNone
	DefaultRedisAddr       = "localhost:6379"
	DefaultKafkaGroupID    = "marketstream"
	DefaultKafkaMinBytes   = 1
	DefaultKafkaMaxBytes   = 10e6
	DefaultDBPort          = 5432
	DefaultDBSSLMode       = "prefer"
	DefaultMaxConns        = 4
	DefaultMinConns        = 1
	DefaultBatchSize       = 100
	DefaultFlushInterval   = 1 * time.Second
	DefaultFeedBufferSize  = 100000
	DefaultTelegramLevel   = "ALERT"
	DefaultMetricsPath     = "/metrics"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
)

// Upstream websocket feed defaults.
const (
	DefaultUpstreamPingTimeout = 60 * time.Second
	DefaultReconnectBaseWait   = 1 * time.Second
	DefaultReconnectMaxWait    = 30 * time.Second
)

// Throttle modes.
const (
	ThrottleModeFull    = "full"
	ThrottleModeMinimal = "minimal"
)

// Feed backends.
const (
	FeedBackendNone      = "none"
	FeedBackendRedis     = "redis"
	FeedBackendKafka     = "kafka"
	FeedBackendWebSocket = "websocket"
)

func (c *StreamerConfig) applyDefaults() {
	// Server defaults
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.WSPath == "" {
		c.Server.WSPath = DefaultWSPath
	}
	if c.Server.HealthPath == "" {
		c.Server.HealthPath = DefaultHealthPath
	}
	if c.Server.ReadLimit == 0 {
		c.Server.ReadLimit = DefaultReadLimit
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.PingInterval == 0 {
		c.Server.PingInterval = DefaultPingInterval
	}
	if c.Server.PongTimeout == 0 {
		c.Server.PongTimeout = DefaultPongTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Session defaults
	if c.Session.ReadyTimeout == 0 {
		c.Session.ReadyTimeout = DefaultReadyTimeout
	}
	if c.Session.CommandRate == 0 {
		c.Session.CommandRate = DefaultCommandRate
	}
	if c.Session.CommandBurst == 0 {
		c.Session.CommandBurst = DefaultCommandBurst
	}
	if c.Session.DeliveryBuffer == 0 {
		c.Session.DeliveryBuffer = DefaultDeliveryBuffer
	}

	// Registry defaults
	if c.Registry.MailboxSize == 0 {
		c.Registry.MailboxSize = DefaultMailboxSize
	}

	// Throttle defaults
	if c.Throttle.Mode == "" {
		c.Throttle.Mode = DefaultThrottleMode
	}

	// Feed defaults
	if c.Feed.Backend == "" {
		c.Feed.Backend = DefaultFeedBackend
	}
	if c.Feed.BufferSize == 0 {
		c.Feed.BufferSize = DefaultFeedBufferSize
	}
	if c.Feed.Redis.Addr == "" {
		c.Feed.Redis.Addr = DefaultRedisAddr
	}
	if c.Feed.Kafka.GroupID == "" {
		c.Feed.Kafka.GroupID = DefaultKafkaGroupID
	}
	if c.Feed.Kafka.MinBytes == 0 {
		c.Feed.Kafka.MinBytes = DefaultKafkaMinBytes
	}
	if c.Feed.Kafka.MaxBytes == 0 {
		c.Feed.Kafka.MaxBytes = DefaultKafkaMaxBytes
	}
	if c.Feed.WebSocket.PingTimeout == 0 {
		c.Feed.WebSocket.PingTimeout = DefaultUpstreamPingTimeout
	}
	if c.Feed.WebSocket.ReconnectBaseWait == 0 {
		c.Feed.WebSocket.ReconnectBaseWait = DefaultReconnectBaseWait
	}
	if c.Feed.WebSocket.ReconnectMaxWait == 0 {
		c.Feed.WebSocket.ReconnectMaxWait = DefaultReconnectMaxWait
	}

	// Database defaults
	applyDBDefaults(&c.Database.Postgres)

	// Writer defaults
	if c.Writer.BatchSize == 0 {
		c.Writer.BatchSize = DefaultBatchSize
	}
	if c.Writer.FlushInterval == 0 {
		c.Writer.FlushInterval = DefaultFlushInterval
	}

	// Telegram defaults
	if c.Telegram.MinLevel == "" {
		c.Telegram.MinLevel = DefaultTelegramLevel
	}

	// Metrics defaults
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
