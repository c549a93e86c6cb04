// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	HTTP          HTTPConfig          `mapstructure:"http"`
	Discord       DiscordConfig       `mapstructure:"discord"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Lifecycle     LifecycleConfig     `mapstructure:"lifecycle"`
	Dispatcher    DispatcherConfig    `mapstructure:"dispatcher"`
	Notifications NotificationConfig  `mapstructure:"notifications"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Community     CommunityConfig     `mapstructure:"community"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// HTTPConfig configures the public/admin API listener.
type HTTPConfig struct {
	Address      string          `mapstructure:"address"`
	ReadTimeout  time.Duration   `mapstructure:"read_timeout"`
	WriteTimeout time.Duration   `mapstructure:"write_timeout"`
	AdminToken   string          `mapstructure:"admin_token"`
	RateLimit    RateLimitConfig `mapstructure:"rate_limit"`

	// TrustedProxies may set X-Forwarded-For: addresses or CIDRs.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// RateLimitConfig bounds /submit and /fail per client IP.
type RateLimitConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Limit   int           `mapstructure:"limit"`
	Window  time.Duration `mapstructure:"window"`
}

// DiscordConfig holds the bot credentials and the guild layout it manages.
type DiscordConfig struct {
	Token           string        `mapstructure:"token"`
	AppID           string        `mapstructure:"app_id"`
	GuildID         string        `mapstructure:"guild_id"`
	CategoryID      string        `mapstructure:"category_id"`
	StaffRoleID     string        `mapstructure:"staff_role_id"`
	CandidateRoleID string        `mapstructure:"candidate_role_id"`
	WhitelistRoleID string        `mapstructure:"whitelist_role_id"`
	BlacklistRoleID string        `mapstructure:"blacklist_role_id"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

type DatabaseConfig struct {
	// Driver selects the application store: "postgres" or "memory".
	Driver   string         `mapstructure:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
	AutoMigrate    bool   `mapstructure:"auto_migrate"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CacheConfig selects the ticket channel-handle cache.
type CacheConfig struct {
	Driver string        `mapstructure:"driver"` // "memory" or "redis"
	TTL    time.Duration `mapstructure:"ttl"`
	Prefix string        `mapstructure:"prefix"`
}

type ElasticsearchConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"`
}

// LifecycleConfig holds the timings of the application lifecycle.
type LifecycleConfig struct {
	Cooldown   time.Duration `mapstructure:"cooldown"`
	CloseDelay time.Duration `mapstructure:"close_delay"`
}

type DispatcherConfig struct {
	Lanes     int `mapstructure:"lanes"`
	QueueSize int `mapstructure:"queue_size"`
}

// NotificationConfig holds settings for lifecycle events and staff alerts.
type NotificationConfig struct {
	AWS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
	SNS struct {
		Enabled  bool   `mapstructure:"enabled"`
		TopicARN string `mapstructure:"topic_arn"`
	} `mapstructure:"sns"`
	SES struct {
		Enabled     bool     `mapstructure:"enabled"`
		FromEmail   string   `mapstructure:"from_email"`
		StaffEmails []string `mapstructure:"staff_emails"`
	} `mapstructure:"ses"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// CommunityConfig carries the wording used in embeds and DMs.
type CommunityConfig struct {
	Name string `mapstructure:"name"`
}
