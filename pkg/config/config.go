package config

import "time"

// Chat definition chat_service YAML structure
type Chat struct {
	Port      string          `mapstructure:"port"`
	MongoSQL  DatabaseConfig  `mapstructure:"mongo"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Websocket WebsocketConfig `mapstructure:"websocket"`
	Sweep     SweepConfig     `mapstructure:"sweep"`
}

// RedisConfig definition redis setting
type RedisConfig struct {
	// 未設定 sentinel 時使用，兩者皆空則不啟用 redis
	Addr            string `mapstructure:"addr"`
	RedisDB         int    `mapstructure:"redis_db"`
	PresenceChannel string `mapstructure:"presence_channel"`
	SessionPrefix   string `mapstructure:"session_prefix"`
	// 為 true 時才檢查 session 是否存在
	RequireSession bool `mapstructure:"require_session"`
}

// DatabaseConfig definition db setting
type DatabaseConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	Database      string `mapstructure:"database"`
	RetryInterval int    `mapstructure:"retry_interval"`
	RetryCount    int    `mapstructure:"retry_count"`
}

// KafkaConfig definition kafka event sink, empty Brokers disables it
type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	Topic         string   `mapstructure:"topic"`
	RetryInterval int      `mapstructure:"retry_interval"`
	RetryCount    int      `mapstructure:"retry_count"`
}

// JWTConfig definition token verification
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

// WebsocketConfig definition per connection limits
type WebsocketConfig struct {
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	SendTimeout      time.Duration `mapstructure:"send_timeout"`
	SendBuffer       int           `mapstructure:"send_buffer"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	ReadLimit        int64         `mapstructure:"read_limit"`
}

// SweepConfig definition reconnect reconciliation
type SweepConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// Defaults fills zero values with the service defaults
func (c *Chat) Defaults() {
	if c.Port == "" {
		c.Port = "8081"
	}
	if c.Redis.PresenceChannel == "" {
		c.Redis.PresenceChannel = "chat:presence"
	}
	if c.Redis.SessionPrefix == "" {
		c.Redis.SessionPrefix = "session:"
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "chat.events"
	}
	if c.Websocket.HandshakeTimeout <= 0 {
		c.Websocket.HandshakeTimeout = 5 * time.Second
	}
	if c.Websocket.SendTimeout <= 0 {
		c.Websocket.SendTimeout = 5 * time.Second
	}
	if c.Websocket.SendBuffer <= 0 {
		c.Websocket.SendBuffer = 256
	}
	if c.Websocket.PingInterval <= 0 {
		c.Websocket.PingInterval = 10 * time.Minute
	}
	if c.Websocket.ReadLimit <= 0 {
		c.Websocket.ReadLimit = 64 * 1024
	}
	if c.Sweep.Timeout <= 0 {
		c.Sweep.Timeout = 30 * time.Second
	}
}
