// Package config loads process configuration from defaults, an optional YAML
// file named by CONFIG_FILE, and environment variables (FEED_BASE_URL for
// feed.base_url), in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	pkgstrings "domamart/pkg/platform/strings"
)

// Config is the full process configuration.
type Config struct {
	Server   Server
	Feed     Feed
	Sync     Sync
	Notify   Notify
	Cache    Cache
	Database Database
	Redis    RedisConfig
	Kafka    Kafka
	Log      Log
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr string
	// AdminJWTKey signs the bearer tokens accepted on /admin routes.
	AdminJWTKey string
}

// Feed configures the upstream poll API client.
type Feed struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Sync configures the projection sync loop.
type Sync struct {
	Enabled    bool
	Interval   time.Duration
	Limit      int
	EventTypes []string
}

// Notify configures the live notification hub.
type Notify struct {
	Interval time.Duration
	Limit    int
	// SubscriberBuffer is the per-stream queue length before events are dropped.
	SubscriberBuffer int
}

// Cache configures the read cache in front of projection queries.
type Cache struct {
	TTL           time.Duration
	SweepInterval time.Duration
	RemoteTTL     time.Duration
	RemotePrefix  string
}

// Database configures PostgreSQL. An empty DSN selects in-memory stores.
type Database struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Migrate         bool
}

// RedisConfig configures the shared cache tier. An empty URL disables it.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka configures the analytics stream. No brokers disables it.
type Kafka struct {
	Brokers     []string
	ClientID    string
	Topic       string
	EnsureTopic bool
	Partitions  int
}

// Log configures the process logger.
type Log struct {
	Level  string
	Format string
}

const devAdminKey = "dev-secret-key-change-in-production"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.admin_jwt_key", devAdminKey)

	v.SetDefault("feed.base_url", "https://api-testnet.doma.xyz")
	v.SetDefault("feed.api_key", "")
	v.SetDefault("feed.timeout", 30*time.Second)

	v.SetDefault("sync.enabled", true)
	v.SetDefault("sync.interval", 30*time.Second)
	v.SetDefault("sync.limit", 10)
	v.SetDefault("sync.event_types", []string{})

	v.SetDefault("notify.interval", 5*time.Second)
	v.SetDefault("notify.limit", 10)
	v.SetDefault("notify.subscriber_buffer", 16)

	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("cache.sweep_interval", time.Minute)
	v.SetDefault("cache.remote_ttl", 5*time.Minute)
	v.SetDefault("cache.remote_prefix", "domamart:domain:")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.migrate", true)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.client_id", "domamart")
	v.SetDefault("kafka.topic", "doma.activity")
	v.SetDefault("kafka.ensure_topic", true)
	v.SetDefault("kafka.partitions", 3)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads configuration. The file named by CONFIG_FILE is optional, but a
// named file that cannot be read is an error.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := Config{
		Server: Server{
			Addr:        v.GetString("server.addr"),
			AdminJWTKey: v.GetString("server.admin_jwt_key"),
		},
		Feed: Feed{
			BaseURL: v.GetString("feed.base_url"),
			APIKey:  v.GetString("feed.api_key"),
			Timeout: v.GetDuration("feed.timeout"),
		},
		Sync: Sync{
			Enabled:    v.GetBool("sync.enabled"),
			Interval:   v.GetDuration("sync.interval"),
			Limit:      v.GetInt("sync.limit"),
			EventTypes: listValue(v, "sync.event_types"),
		},
		Notify: Notify{
			Interval:         v.GetDuration("notify.interval"),
			Limit:            v.GetInt("notify.limit"),
			SubscriberBuffer: v.GetInt("notify.subscriber_buffer"),
		},
		Cache: Cache{
			TTL:           v.GetDuration("cache.ttl"),
			SweepInterval: v.GetDuration("cache.sweep_interval"),
			RemoteTTL:     v.GetDuration("cache.remote_ttl"),
			RemotePrefix:  v.GetString("cache.remote_prefix"),
		},
		Database: Database{
			DSN:             v.GetString("database.dsn"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
			Migrate:         v.GetBool("database.migrate"),
		},
		Redis: RedisConfig{
			URL:          v.GetString("redis.url"),
			PoolSize:     v.GetInt("redis.pool_size"),
			MinIdleConns: v.GetInt("redis.min_idle_conns"),
			DialTimeout:  v.GetDuration("redis.dial_timeout"),
			ReadTimeout:  v.GetDuration("redis.read_timeout"),
			WriteTimeout: v.GetDuration("redis.write_timeout"),
		},
		Kafka: Kafka{
			Brokers:     listValue(v, "kafka.brokers"),
			ClientID:    v.GetString("kafka.client_id"),
			Topic:       v.GetString("kafka.topic"),
			EnsureTopic: v.GetBool("kafka.ensure_topic"),
			Partitions:  v.GetInt("kafka.partitions"),
		},
		Log: Log{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// listValue accepts a YAML list or a comma-separated environment value.
func listValue(v *viper.Viper, key string) []string {
	var parts []string
	for _, item := range v.GetStringSlice(key) {
		parts = append(parts, strings.Split(item, ",")...)
	}
	return pkgstrings.DedupeAndTrim(parts)
}

// Validate rejects configurations the services cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.Feed.BaseURL == "" {
		errs = append(errs, errors.New("feed.base_url is required"))
	}
	if c.Sync.Interval <= 0 {
		errs = append(errs, errors.New("sync.interval must be positive"))
	}
	if c.Notify.Interval <= 0 {
		errs = append(errs, errors.New("notify.interval must be positive"))
	}
	if c.Server.AdminJWTKey == "" {
		errs = append(errs, errors.New("server.admin_jwt_key is required"))
	}
	return errors.Join(errs...)
}

// UsesDevAdminKey reports whether the admin key is the built-in development value.
func (c Config) UsesDevAdminKey() bool {
	return c.Server.AdminJWTKey == devAdminKey
}
