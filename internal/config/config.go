package config

import (
	"fmt"
	"time"

	"github.com/turtacn/aegis/pkg/constants"
	"github.com/turtacn/aegis/pkg/errors"
)

// Config holds the application's configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Billing     BillingConfig     `mapstructure:"billing"`
	AuthLimit   RateLimitPolicy   `mapstructure:"auth_limit"`
	APILimit    RateLimitPolicy   `mapstructure:"api_limit"`
	Quota       QuotaConfig       `mapstructure:"quota"`
	Entitlement EntitlementConfig `mapstructure:"entitlement"`
	Log         LogConfig         `mapstructure:"log"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
}

type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	ReadTimeout    int      `mapstructure:"read_timeout"`  // in seconds
	WriteTimeout   int      `mapstructure:"write_timeout"` // in seconds
	Environment    string   `mapstructure:"environment"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	JWTSecret      string   `mapstructure:"jwt_secret"`
}

type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	Database        string `mapstructure:"database"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxConns        int    `mapstructure:"max_conns"`
	MinConns        int    `mapstructure:"min_conns"`
	MaxConnLifetime int    `mapstructure:"max_conn_lifetime"` // in minutes
}

// GetDSN builds a postgres connection string from the database config.
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

type RedisConfig struct {
	Addresses    []string `mapstructure:"addresses"`
	Password     string   `mapstructure:"password"`
	DB           int      `mapstructure:"db"`
	PoolSize     int      `mapstructure:"pool_size"`
	MinIdleConns int      `mapstructure:"min_idle_conns"`
}

type KafkaConfig struct {
	Brokers       []string      `mapstructure:"brokers"`
	AuditTopic    string        `mapstructure:"audit_topic"`
	CheckoutTopic string        `mapstructure:"checkout_topic"`
	GroupID       string        `mapstructure:"group_id"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	BatchTimeout  time.Duration `mapstructure:"batch_timeout"`
	Enabled       bool          `mapstructure:"enabled"`
}

// BillingConfig points at the payment-provider status endpoint. The provider is
// a read-only oracle; it is never called more than once per refresh interval
// for a given actor.
type BillingConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// RateLimitPolicy configures one sliding-window failure limiter instance.
type RateLimitPolicy struct {
	MaxAttempts   int           `mapstructure:"max_attempts"`
	Window        time.Duration `mapstructure:"window"`
	BlockDuration time.Duration `mapstructure:"block_duration"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type QuotaConfig struct {
	TotalFreeUses int           `mapstructure:"total_free_uses"`
	SnapshotTTL   time.Duration `mapstructure:"snapshot_ttl"`
}

type EntitlementConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	ServiceName    string `mapstructure:"service_name"`
}

// Validate checks policy values and fails fast on malformed configuration.
// A limiter with a non-positive budget or window would silently disable
// throttling, so construction refuses it outright.
func (c *Config) Validate() error {
	for _, p := range []struct {
		name   string
		policy RateLimitPolicy
	}{
		{"auth_limit", c.AuthLimit},
		{"api_limit", c.APILimit},
	} {
		if p.policy.MaxAttempts <= 0 {
			return errors.ErrConfiguration(fmt.Sprintf("%s.max_attempts must be positive, got %d", p.name, p.policy.MaxAttempts))
		}
		if p.policy.Window <= 0 {
			return errors.ErrConfiguration(fmt.Sprintf("%s.window must be positive, got %s", p.name, p.policy.Window))
		}
		if p.policy.BlockDuration <= 0 {
			return errors.ErrConfiguration(fmt.Sprintf("%s.block_duration must be positive, got %s", p.name, p.policy.BlockDuration))
		}
	}

	if c.Quota.TotalFreeUses <= 0 {
		return errors.ErrConfiguration(fmt.Sprintf("quota.total_free_uses must be positive, got %d", c.Quota.TotalFreeUses))
	}

	if c.Entitlement.RefreshInterval <= 0 {
		return errors.ErrConfiguration(fmt.Sprintf("entitlement.refresh_interval must be positive, got %s", c.Entitlement.RefreshInterval))
	}

	return nil
}

// ApplyDefaults fills unset values with the service defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = constants.DefaultServicePort
	}
	if c.AuthLimit.MaxAttempts == 0 {
		c.AuthLimit = RateLimitPolicy{
			MaxAttempts:   constants.DefaultMaxAttempts,
			Window:        constants.DefaultAttemptWindow,
			BlockDuration: constants.DefaultBlockDuration,
			SweepInterval: constants.DefaultSweepInterval,
		}
	}
	if c.APILimit.MaxAttempts == 0 {
		c.APILimit = RateLimitPolicy{
			MaxAttempts:   100,
			Window:        time.Minute,
			BlockDuration: time.Minute,
			SweepInterval: constants.DefaultSweepInterval,
		}
	}
	if c.Kafka.AuditTopic == "" {
		c.Kafka.AuditTopic = constants.TopicAdmissionAudit
	}
	if c.Kafka.CheckoutTopic == "" {
		c.Kafka.CheckoutTopic = constants.TopicCheckoutCompleted
	}
	if c.Quota.TotalFreeUses == 0 {
		c.Quota.TotalFreeUses = constants.DefaultTotalFreeUses
	}
	if c.Quota.SnapshotTTL == 0 {
		c.Quota.SnapshotTTL = constants.DefaultSnapshotTTL
	}
	if c.Entitlement.RefreshInterval == 0 {
		c.Entitlement.RefreshInterval = constants.DefaultEntitlementRefreshInterval
	}
}
