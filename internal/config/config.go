package config

import (
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	Env  string `mapstructure:"env"`
	Port int    `mapstructure:"port"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type KafkaConfig struct {
	Brokers               []string `mapstructure:"brokers"`
	TopicMessagePersisted string   `mapstructure:"topic_message_persisted"`
}

type WSConfig struct {
	PingIntervalSeconds  int   `mapstructure:"ping_interval_seconds"`
	IdleTimeoutSeconds   int   `mapstructure:"idle_timeout_seconds"`
	WriteDeadlineSeconds int   `mapstructure:"write_deadline_seconds"`
	MaxMessageSizeBytes  int64 `mapstructure:"max_message_size_bytes"`
	RateLimitPerSec      int   `mapstructure:"rate_limit_per_sec"`
	SendBuffer           int   `mapstructure:"send_buffer"`
}

type SessionConfig struct {
	TTLMinutes             int `mapstructure:"ttl_minutes"`
	MonitorIdleMinutes     int `mapstructure:"monitor_idle_minutes"`
	MonitorIntervalSeconds int `mapstructure:"monitor_interval_seconds"`
}

type Config struct {
	App      AppConfig     `mapstructure:"app"`
	JWT      JWTConfig     `mapstructure:"jwt"`
	Mongo    MongoConfig   `mapstructure:"mongo"`
	Redis    RedisConfig   `mapstructure:"redis"`
	Kafka    KafkaConfig   `mapstructure:"kafka"`
	WS       WSConfig      `mapstructure:"ws"`
	Session  SessionConfig `mapstructure:"session"`
	LogLevel string        `mapstructure:"log_level"`

	// derived
	PingInterval    time.Duration
	IdleTimeout     time.Duration
	WriteDeadline   time.Duration
	SessionTTL      time.Duration
	MonitorIdle     time.Duration
	MonitorInterval time.Duration
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("RT")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	applyDefaults(&c)
	return &c, nil
}

// Default returns a config with defaults applied and no file read. Used
// by tests and local tooling.
func Default() *Config {
	c := &Config{}
	applyDefaults(c)
	return c
}

func applyDefaults(c *Config) {
	if c.App.Port == 0 {
		c.App.Port = 8085
	}
	if c.Mongo.Database == "" {
		c.Mongo.Database = "carewire"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "rt"
	}
	if c.Kafka.TopicMessagePersisted == "" {
		c.Kafka.TopicMessagePersisted = "message.persisted"
	}
	if c.WS.PingIntervalSeconds == 0 {
		c.WS.PingIntervalSeconds = 25
	}
	if c.WS.IdleTimeoutSeconds == 0 {
		c.WS.IdleTimeoutSeconds = 60
	}
	if c.WS.WriteDeadlineSeconds == 0 {
		c.WS.WriteDeadlineSeconds = 10
	}
	if c.WS.MaxMessageSizeBytes == 0 {
		c.WS.MaxMessageSizeBytes = 64 * 1024
	}
	if c.WS.RateLimitPerSec == 0 {
		c.WS.RateLimitPerSec = 20
	}
	if c.WS.SendBuffer == 0 {
		c.WS.SendBuffer = 256
	}
	if c.Session.TTLMinutes == 0 {
		c.Session.TTLMinutes = 60
	}
	if c.Session.MonitorIdleMinutes == 0 {
		c.Session.MonitorIdleMinutes = 15
	}
	if c.Session.MonitorIntervalSeconds == 0 {
		c.Session.MonitorIntervalSeconds = 30
	}

	c.PingInterval = time.Duration(c.WS.PingIntervalSeconds) * time.Second
	c.IdleTimeout = time.Duration(c.WS.IdleTimeoutSeconds) * time.Second
	c.WriteDeadline = time.Duration(c.WS.WriteDeadlineSeconds) * time.Second
	c.SessionTTL = time.Duration(c.Session.TTLMinutes) * time.Minute
	c.MonitorIdle = time.Duration(c.Session.MonitorIdleMinutes) * time.Minute
	c.MonitorInterval = time.Duration(c.Session.MonitorIntervalSeconds) * time.Second
}
