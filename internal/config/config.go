// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level" env:"LOG_LEVEL"`   // trace|debug|info|warn|error
	Format   string `yaml:"format" env:"LOG_FORMAT"` // json|console
	Sampling bool   `yaml:"sampling"`                // enable sampling in prod
}

type HTTPConfig struct {
	Port           int           `yaml:"port" env:"HTTP_PORT"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	ShutdownGrace  time.Duration `yaml:"shutdown_grace"`
	TrustProxy     bool          `yaml:"trust_proxy"` // take the webhook source ip from X-Forwarded-For / X-Real-IP
}

type DatabaseConfig struct {
	URL           string        `yaml:"url" env:"DATABASE_URL"`
	MaxConns      int32         `yaml:"max_conns"`
	StoreTimeout  time.Duration `yaml:"store_timeout"` // per engine call; a timed out write is retried by the caller
	MigrationsDir string        `yaml:"migrations_dir"`
	AutoMigrate   bool          `yaml:"auto_migrate" env:"DATABASE_AUTO_MIGRATE"`
}

type RedisConfig struct {
	URL      string        `yaml:"url" env:"REDIS_URL"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"AUTH_JWT_SECRET"`
	Issuer    string `yaml:"issuer"`
}

type YooKassaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	ShopID       string   `yaml:"shop_id" env:"YOOKASSA_SHOP_ID"`
	SecretKey    string   `yaml:"secret_key" env:"YOOKASSA_SECRET_KEY"`
	APIBaseURL   string   `yaml:"api_base_url"`
	AllowedCIDRs []string `yaml:"allowed_cidrs"` // empty = trust the network path
}

type CloudPaymentsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	PublicID   string `yaml:"public_id" env:"CLOUDPAYMENTS_PUBLIC_ID"`
	APISecret  string `yaml:"api_secret" env:"CLOUDPAYMENTS_API_SECRET"`
	APIBaseURL string `yaml:"api_base_url"`
}

type PaymentConfig struct {
	LookupTimeout time.Duration       `yaml:"lookup_timeout"` // provider status query during confirmation; below http.request_timeout
	YooKassa      YooKassaConfig      `yaml:"yookassa"`
	CloudPayments CloudPaymentsConfig `yaml:"cloudpayments"`
}

type BillingConfig struct {
	SubscriptionPeriod time.Duration `yaml:"subscription_period"`
}

type ReconcilerConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Interval   time.Duration `yaml:"interval"`
	StaleAfter time.Duration `yaml:"stale_after"`
	BatchSize  int           `yaml:"batch_size"`
}

type RateLimitConfig struct {
	ConfirmPerMinute int `yaml:"confirm_per_minute"`
}

type EventsConfig struct {
	Driver string `yaml:"driver" env:"EVENTS_DRIVER"` // none|sqs|kafka
	SQS    struct {
		QueueURL        string `yaml:"queue_url" env:"EVENTS_SQS_QUEUE_URL"`
		Region          string `yaml:"region" env:"AWS_REGION"`
		Endpoint        string `yaml:"endpoint"` // localstack / elasticmq
		AccessKeyID     string `yaml:"access_key_id" env:"AWS_ACCESS_KEY_ID"`
		SecretAccessKey string `yaml:"secret_access_key" env:"AWS_SECRET_ACCESS_KEY"`
	} `yaml:"sqs"`
	Kafka struct {
		Brokers string `yaml:"brokers" env:"KAFKA_BOOTSTRAP_SERVERS"`
		Topic   string `yaml:"topic"`
	} `yaml:"kafka"`
}

type Config struct {
	Log        LogConfig        `yaml:"log"`
	HTTP       HTTPConfig       `yaml:"http"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Auth       AuthConfig       `yaml:"auth"`
	Payment    PaymentConfig    `yaml:"payment"`
	Billing    BillingConfig    `yaml:"billing"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Events     EventsConfig     `yaml:"events"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path, then lets environment variables
// (optionally from a .env file next to the process) override secrets.
func LoadConfig(path string, dev bool) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("env config: %w", err)
	}
	applyDefaults(&cfg)
	cfg.Runtime.Dev = dev

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 10 * time.Second
	}
	if cfg.HTTP.ShutdownGrace <= 0 {
		cfg.HTTP.ShutdownGrace = 5 * time.Second
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Database.StoreTimeout <= 0 {
		cfg.Database.StoreTimeout = 3 * time.Second
	}
	if cfg.Database.MigrationsDir == "" {
		cfg.Database.MigrationsDir = "migrations"
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "course-billing"
	}
	if cfg.Payment.LookupTimeout <= 0 {
		cfg.Payment.LookupTimeout = 4 * time.Second
	}
	if cfg.Payment.LookupTimeout >= cfg.HTTP.RequestTimeout {
		cfg.Payment.LookupTimeout = cfg.HTTP.RequestTimeout / 2
	}
	if cfg.Payment.YooKassa.APIBaseURL == "" {
		cfg.Payment.YooKassa.APIBaseURL = "https://api.yookassa.ru/v3"
	}
	if cfg.Payment.CloudPayments.APIBaseURL == "" {
		cfg.Payment.CloudPayments.APIBaseURL = "https://api.cloudpayments.ru"
	}
	if cfg.Billing.SubscriptionPeriod <= 0 {
		cfg.Billing.SubscriptionPeriod = 30 * 24 * time.Hour
	}
	if cfg.Reconciler.Interval <= 0 {
		cfg.Reconciler.Interval = time.Minute
	}
	if cfg.Reconciler.StaleAfter <= 0 {
		cfg.Reconciler.StaleAfter = 15 * time.Minute
	}
	if cfg.Reconciler.BatchSize <= 0 {
		cfg.Reconciler.BatchSize = 100
	}
	if cfg.RateLimit.ConfirmPerMinute <= 0 {
		cfg.RateLimit.ConfirmPerMinute = 30
	}
	cfg.Events.Driver = strings.ToLower(strings.TrimSpace(cfg.Events.Driver))
	if cfg.Events.Driver == "" {
		cfg.Events.Driver = "none"
	}
	if cfg.Events.Kafka.Topic == "" {
		cfg.Events.Kafka.Topic = "entitlements_granted"
	}
}

// Validate performs the minimal checks needed to start serving.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	if !c.Payment.YooKassa.Enabled && !c.Payment.CloudPayments.Enabled {
		return errors.New("at least one payment provider must be enabled")
	}
	if c.Payment.YooKassa.Enabled && (c.Payment.YooKassa.ShopID == "" || c.Payment.YooKassa.SecretKey == "") {
		return errors.New("payment.yookassa.shop_id and secret_key are required")
	}
	if c.Payment.CloudPayments.Enabled && (c.Payment.CloudPayments.PublicID == "" || c.Payment.CloudPayments.APISecret == "") {
		return errors.New("payment.cloudpayments.public_id and api_secret are required")
	}
	switch c.Events.Driver {
	case "none":
	case "sqs":
		if c.Events.SQS.QueueURL == "" {
			return errors.New("events.sqs.queue_url is required for the sqs driver")
		}
	case "kafka":
		if c.Events.Kafka.Brokers == "" {
			return errors.New("events.kafka.brokers is required for the kafka driver")
		}
	default:
		return fmt.Errorf("events.driver %q is not supported", c.Events.Driver)
	}
	return nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
