package config

import "time"

// StreamerConfig is the root configuration for a stream server instance.
type StreamerConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Server   ServerConfig   `yaml:"server"`
	Session  SessionConfig  `yaml:"session"`
	Registry RegistryConfig `yaml:"registry"`
	Throttle ThrottleConfig `yaml:"throttle"`
	Feed     FeedConfig     `yaml:"feed"`
	Database DatabaseConfig `yaml:"database"`
	Writer   WriterConfig   `yaml:"writer"`
	Telegram TelegramConfig `yaml:"telegram"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// InstanceConfig identifies this server.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ServerConfig holds HTTP and websocket listener settings.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	WSPath          string        `yaml:"ws_path"`
	HealthPath      string        `yaml:"health_path"`
	ReadLimit       int64         `yaml:"read_limit"` // Max inbound frame bytes
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	PongTimeout     time.Duration `yaml:"pong_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// SessionConfig holds per-connection settings.
type SessionConfig struct {
	ReadyTimeout   time.Duration `yaml:"ready_timeout"`
	CommandRate    float64       `yaml:"command_rate"` // Inbound commands/sec, 0 disables
	CommandBurst   int           `yaml:"command_burst"`
	DeliveryBuffer int           `yaml:"delivery_buffer"`
}

// RegistryConfig holds event-source hub settings.
type RegistryConfig struct {
	MailboxSize int `yaml:"mailbox_size"`
}

// ThrottleConfig selects the delivery policy table.
type ThrottleConfig struct {
	Mode     string                  `yaml:"mode"`     // "full" or "minimal"
	Policies map[string]PolicyConfig `yaml:"policies"` // Keyed by lower-case nature, e.g. "ticker"
}

// PolicyConfig overrides fields of one nature's default policy.
// Unset fields keep the default.
type PolicyConfig struct {
	Window        *time.Duration `yaml:"window"`
	PerInstrument *bool          `yaml:"per_instrument"`
	Gated         *bool          `yaml:"gated"`
}

// FeedConfig selects the upstream event feed.
type FeedConfig struct {
	Backend    string          `yaml:"backend"`     // "none", "redis", "kafka" or "websocket"
	BufferSize int             `yaml:"buffer_size"` // Max queued raw messages before dropping oldest
	Redis      RedisConfig     `yaml:"redis"`
	Kafka      KafkaConfig     `yaml:"kafka"`
	WebSocket  WebSocketConfig `yaml:"websocket"`
}

// RedisConfig holds Redis pub/sub feed settings.
type RedisConfig struct {
	Addr     string   `yaml:"addr"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	Channels []string `yaml:"channels"`
}

// KafkaConfig holds Kafka topic feed settings.
type KafkaConfig struct {
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	GroupID  string   `yaml:"group_id"`
	MinBytes int      `yaml:"min_bytes"`
	MaxBytes int      `yaml:"max_bytes"`
}

// WebSocketConfig holds upstream websocket feed settings.
type WebSocketConfig struct {
	URL               string        `yaml:"url"`
	APIKey            string        `yaml:"api_key"`
	SubscribeMessage  string        `yaml:"subscribe_message"` // Sent after every (re)connect
	PingTimeout       time.Duration `yaml:"ping_timeout"`
	ReconnectBaseWait time.Duration `yaml:"reconnect_base_wait"`
	ReconnectMaxWait  time.Duration `yaml:"reconnect_max_wait"`
}

// DatabaseConfig holds the notification history database.
type DatabaseConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// WriterConfig holds batch writer settings.
type WriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// TelegramConfig holds notification relay settings.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Token    string `yaml:"token"`
	ChatID   int64  `yaml:"chat_id"`
	MinLevel string `yaml:"min_level"` // INFO, ALERT or ERROR
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
