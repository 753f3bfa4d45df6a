// Package config loads process configuration from env vars (and an
// optional config file), the same viper-based convention the rest of the
// fleet's services use.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is every tunable documented in the external-interfaces section:
// ports, datastore DSNs, rate-limit tiers, notification batching, SSE
// keepalive, and feature toggles.
type Config struct {
	Env      string `mapstructure:"env"`
	HTTPAddr string `mapstructure:"http_addr"`

	PostgresDSN     string `mapstructure:"postgres_dsn"`
	PostgresMaxOpen int    `mapstructure:"postgres_max_open_conns"`
	PostgresMaxIdle int    `mapstructure:"postgres_max_idle_conns"`

	RedisAddrs    []string `mapstructure:"redis_addrs"`
	RedisPassword string   `mapstructure:"redis_password"`
	RedisDB       int      `mapstructure:"redis_db"`

	KafkaBrokers      []string `mapstructure:"kafka_brokers"`
	KafkaEventTopic   string   `mapstructure:"kafka_event_topic"`
	KafkaNotifyTopic  string   `mapstructure:"kafka_notify_topic"`

	GlobalRateLimit  RateLimitConfig `mapstructure:"global_rate_limit"`
	TriviaRateLimit  RateLimitConfig `mapstructure:"trivia_rate_limit"`
	PrivateRateLimit RateLimitConfig `mapstructure:"private_rate_limit"`
	DMRateLimit      RateLimitConfig `mapstructure:"dm_rate_limit"`
	GroupRateLimit   RateLimitConfig `mapstructure:"group_rate_limit"`

	NotificationBatchSize    int           `mapstructure:"notification_batch_size"`
	NotificationActiveWindow time.Duration `mapstructure:"notification_active_window"`
	OneSignalAppID           string        `mapstructure:"onesignal_app_id"`
	OneSignalAPIKey          string        `mapstructure:"onesignal_api_key"`

	SSEKeepaliveInterval     time.Duration `mapstructure:"sse_keepalive_interval"`
	SSEWriteTimeout          time.Duration `mapstructure:"sse_write_timeout"`
	SSEMaxConnectionsPerUser int           `mapstructure:"sse_max_connections_per_user"`
	SSEAllowQueryParamToken  bool          `mapstructure:"sse_allow_query_param_token"`

	TypingDedupWindow time.Duration `mapstructure:"typing_dedup_window"`

	MaxMessageLength       int `mapstructure:"max_message_length"`
	MaxCiphertextBytes     int `mapstructure:"max_ciphertext_bytes"`
	MaxGroupMembers        int `mapstructure:"max_group_members"`
	IdentityAlertThreshold int `mapstructure:"identity_alert_threshold"`
	IdentityBlockThreshold int `mapstructure:"identity_block_threshold"`

	GlobalChatRetentionDays int `mapstructure:"global_chat_retention_days"`

	UserServiceURL     string        `mapstructure:"user_service_url"`
	UserServiceTimeout time.Duration `mapstructure:"user_service_timeout"`

	LogLevel     string `mapstructure:"log_level"`
	LogJSON      bool   `mapstructure:"log_json"`
	AuditLogFile string `mapstructure:"audit_log_file"`

	EnableGroupChat  bool `mapstructure:"enable_group_chat"`
	EnableTriviaLive bool `mapstructure:"enable_trivia_live"`
	EnableWebsocket  bool `mapstructure:"enable_websocket"`

	TriviaDrawHourUTC   int           `mapstructure:"trivia_draw_hour_utc"`
	TriviaDrawMinuteUTC int           `mapstructure:"trivia_draw_minute_utc"`
	TriviaPreWindow     time.Duration `mapstructure:"trivia_pre_window"`
	TriviaPostWindow    time.Duration `mapstructure:"trivia_post_window"`
}

// RateLimitConfig carries one surface's burst/sustained tiers; each surface
// gets its own instance (GlobalRateLimit, TriviaRateLimit, ...) rather than
// sharing one budget across every surface.
type RateLimitConfig struct {
	BurstLimit        int           `mapstructure:"burst_limit"`
	BurstWindow       time.Duration `mapstructure:"burst_window"`
	SustainedLimit    int           `mapstructure:"sustained_limit"`
	SustainedWindow   time.Duration `mapstructure:"sustained_window"`
}

// Load reads configuration from CHATCORE_-prefixed environment variables
// (and ./config.yaml if present), applying defaults for everything an
// operator doesn't override.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("chatcore")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/chatcore")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("http_addr", ":8080")

	v.SetDefault("postgres_max_open_conns", 25)
	v.SetDefault("postgres_max_idle_conns", 5)

	v.SetDefault("redis_addrs", []string{"localhost:6379"})
	v.SetDefault("redis_db", 0)

	v.SetDefault("kafka_brokers", []string{"localhost:9092"})
	v.SetDefault("kafka_event_topic", "chat.events")
	v.SetDefault("kafka_notify_topic", "chat.notifications")

	v.SetDefault("global_rate_limit.burst_limit", 5)
	v.SetDefault("global_rate_limit.burst_window", 10*time.Second)
	v.SetDefault("global_rate_limit.sustained_limit", 60)
	v.SetDefault("global_rate_limit.sustained_window", time.Minute)

	v.SetDefault("trivia_rate_limit.burst_limit", 5)
	v.SetDefault("trivia_rate_limit.burst_window", 10*time.Second)
	v.SetDefault("trivia_rate_limit.sustained_limit", 60)
	v.SetDefault("trivia_rate_limit.sustained_window", time.Minute)

	v.SetDefault("private_rate_limit.burst_limit", 5)
	v.SetDefault("private_rate_limit.burst_window", 10*time.Second)
	v.SetDefault("private_rate_limit.sustained_limit", 60)
	v.SetDefault("private_rate_limit.sustained_window", time.Minute)

	v.SetDefault("dm_rate_limit.burst_limit", 5)
	v.SetDefault("dm_rate_limit.burst_window", 10*time.Second)
	v.SetDefault("dm_rate_limit.sustained_limit", 60)
	v.SetDefault("dm_rate_limit.sustained_window", time.Minute)

	// GroupMessageRatePerUserPerMin / GroupBurstPer5s: the group surface's
	// knobs are named on a 1-minute/5-second cadence in the spec rather than
	// the other surfaces' 10-second burst window.
	v.SetDefault("group_rate_limit.burst_limit", 10)
	v.SetDefault("group_rate_limit.burst_window", 5*time.Second)
	v.SetDefault("group_rate_limit.sustained_limit", 30)
	v.SetDefault("group_rate_limit.sustained_window", time.Minute)

	v.SetDefault("notification_batch_size", 2000)
	v.SetDefault("notification_active_window", 5*time.Minute)

	v.SetDefault("sse_keepalive_interval", 15*time.Second)
	v.SetDefault("sse_write_timeout", 10*time.Second)
	v.SetDefault("sse_max_connections_per_user", 4)
	v.SetDefault("sse_allow_query_param_token", true)

	v.SetDefault("typing_dedup_window", 1500*time.Millisecond)

	v.SetDefault("max_message_length", 4096)
	v.SetDefault("max_ciphertext_bytes", 65536)
	v.SetDefault("max_group_members", 256)
	v.SetDefault("identity_alert_threshold", 3)
	v.SetDefault("identity_block_threshold", 6)

	v.SetDefault("global_chat_retention_days", 30)

	v.SetDefault("user_service_url", "")
	v.SetDefault("user_service_timeout", 3*time.Second)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", true)

	v.SetDefault("enable_group_chat", true)
	v.SetDefault("enable_trivia_live", true)
	v.SetDefault("enable_websocket", true)

	v.SetDefault("trivia_draw_hour_utc", 20)
	v.SetDefault("trivia_draw_minute_utc", 0)
	v.SetDefault("trivia_pre_window", 10*time.Minute)
	v.SetDefault("trivia_post_window", 30*time.Minute)
}
