package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Configuration struct {
	Deployment     DeploymentConfig     `mapstructure:"deployment" validate:"required"`
	Server         ServerConfig         `mapstructure:"server" validate:"required"`
	Logging        LoggingConfig        `mapstructure:"logging" validate:"required"`
	Stripe         StripeConfig         `mapstructure:"stripe"`
	Settlement     SettlementConfig     `mapstructure:"settlement" validate:"required"`
	Locking        LockingConfig        `mapstructure:"locking" validate:"required"`
	Postgres       PostgresConfig       `mapstructure:"postgres"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Cache          CacheConfig          `mapstructure:"cache"`
	Kafka          KafkaConfig          `mapstructure:"kafka"`
	EventPublisher EventPublisherConfig `mapstructure:"event_publisher"`
	Sentry         SentryConfig         `mapstructure:"sentry"`
	Pyroscope      PyroscopeConfig      `mapstructure:"pyroscope"`
}

type DeploymentConfig struct {
	Mode        string `mapstructure:"mode" validate:"required"`
	Environment string `mapstructure:"environment" validate:"required"`
}

type ServerConfig struct {
	Address string `mapstructure:"address" validate:"required"`
}

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

type LoggingConfig struct {
	Level          LogLevel `mapstructure:"level" validate:"required"`
	FluentdEnabled bool     `mapstructure:"fluentd_enabled"`
	FluentdHost    string   `mapstructure:"fluentd_host"`
	FluentdPort    int      `mapstructure:"fluentd_port"`
}

type StripeConfig struct {
	SecretKey         string        `mapstructure:"secret_key"`
	APIURL            string        `mapstructure:"api_url"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gte=0"`
	Burst             int           `mapstructure:"burst" validate:"gte=0"`
	RetryMax          int           `mapstructure:"retry_max" validate:"gte=0"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

type SettlementConfig struct {
	// CorrelationKey is the invoice metadata key that groups invoices into one logical bill.
	CorrelationKey string `mapstructure:"correlation_key" validate:"required"`
	// LedgerWriteRetries bounds the verify-and-retry loop for invoice ledger metadata.
	LedgerWriteRetries uint64        `mapstructure:"ledger_write_retries"`
	LedgerRetryBackoff time.Duration `mapstructure:"ledger_retry_backoff"`
	// OutcomeTTL is how long a completed settlement outcome is remembered for replays.
	OutcomeTTL time.Duration `mapstructure:"outcome_ttl"`
}

type LockProvider string

const (
	LockProviderMemory   LockProvider = "memory"
	LockProviderRedis    LockProvider = "redis"
	LockProviderPostgres LockProvider = "postgres"
)

type LockingConfig struct {
	Provider LockProvider  `mapstructure:"provider" validate:"required,oneof=memory redis postgres"`
	TTL      time.Duration `mapstructure:"ttl"`
	Wait     time.Duration `mapstructure:"wait"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

func (c PostgresConfig) Enabled() bool {
	return c.Host != ""
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	UseTLS   bool          `mapstructure:"use_tls"`
	PoolSize int           `mapstructure:"pool_size"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (c RedisConfig) Enabled() bool {
	return c.Host != ""
}

type CacheConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Type    string `mapstructure:"type" validate:"omitempty,oneof=inmemory redis"`
}

type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	ClientID      string   `mapstructure:"client_id"`
	TLS           bool     `mapstructure:"tls"`
	UseSASL       bool     `mapstructure:"use_sasl"`
	SASLMechanism string   `mapstructure:"sasl_mechanism"`
	SASLUser      string   `mapstructure:"sasl_user"`
	SASLPassword  string   `mapstructure:"sasl_password"`
}

type EventPublisherConfig struct {
	// Type is either "memory" or "kafka".
	Type  string `mapstructure:"type" validate:"omitempty,oneof=memory kafka"`
	Topic string `mapstructure:"topic"`
}

type SentryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	DSN         string  `mapstructure:"dsn"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

type PyroscopeConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	ServerAddress string `mapstructure:"server_address"`
	AppName       string `mapstructure:"app_name"`
}

// NewConfig loads config.yaml, then .env, then BILLINGOPS_* environment overrides.
func NewConfig() (*Configuration, error) {
	v := viper.New()

	// .env is optional
	_ = godotenv.Load()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvPrefix("BILLINGOPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into config struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// GetDefaultConfig returns the built-in defaults without reading files or the environment.
func GetDefaultConfig() *Configuration {
	v := viper.New()
	setDefaults(v)

	var cfg Configuration
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func (c *Configuration) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Locking.Provider == LockProviderRedis && !c.Redis.Enabled() {
		return fmt.Errorf("invalid configuration: locking.provider=redis requires redis.host")
	}
	if c.Locking.Provider == LockProviderPostgres && !c.Postgres.Enabled() {
		return fmt.Errorf("invalid configuration: locking.provider=postgres requires postgres.host")
	}
	if c.Cache.Type == "redis" && !c.Redis.Enabled() {
		return fmt.Errorf("invalid configuration: cache.type=redis requires redis.host")
	}
	if c.EventPublisher.Type == "kafka" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("invalid configuration: event_publisher.type=kafka requires kafka.brokers")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("deployment.mode", "local")
	v.SetDefault("deployment.environment", "development")
	v.SetDefault("server.address", ":8080")
	v.SetDefault("logging.level", string(LogLevelInfo))
	v.SetDefault("stripe.requests_per_second", 25)
	v.SetDefault("stripe.burst", 5)
	v.SetDefault("stripe.retry_max", 2)
	v.SetDefault("stripe.timeout", 30*time.Second)
	v.SetDefault("settlement.correlation_key", "bill_id")
	v.SetDefault("settlement.ledger_write_retries", 3)
	v.SetDefault("settlement.ledger_retry_backoff", 200*time.Millisecond)
	v.SetDefault("settlement.outcome_ttl", 24*time.Hour)
	v.SetDefault("locking.provider", string(LockProviderMemory))
	v.SetDefault("locking.ttl", 2*time.Minute)
	v.SetDefault("locking.wait", 10*time.Second)
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.max_open_conns", 10)
	v.SetDefault("postgres.max_idle_conns", 5)
	v.SetDefault("postgres.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.timeout", 5*time.Second)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.type", "inmemory")
	v.SetDefault("kafka.client_id", "billingops")
	v.SetDefault("event_publisher.type", "memory")
	v.SetDefault("event_publisher.topic", "settlements")
	v.SetDefault("sentry.sample_rate", 1.0)
	v.SetDefault("pyroscope.app_name", "billingops")
}
