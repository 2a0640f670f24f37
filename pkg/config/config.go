package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const defaultAccessSecret = "access-secret-change-in-production"
const defaultRefreshSecret = "refresh-secret-change-in-production"

// Config holds all application configuration
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Stripe    StripeConfig    `mapstructure:"stripe"`
	Billing   BillingConfig   `mapstructure:"billing"`
	Cookie    CookieConfig    `mapstructure:"cookie"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	OTel      OTelConfig      `mapstructure:"otel"`
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	Version     string `mapstructure:"version"`
	FrontendURL string `mapstructure:"frontend_url"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`

	// TrustedProxies lists proxy IPs or CIDRs whose X-Forwarded-For is honoured.
	// Empty means the client IP is always the connection's remote address.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the Redis address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// KafkaConfig holds Kafka/Redpanda connection settings
type KafkaConfig struct {
	Enabled           bool     `mapstructure:"enabled"`
	Brokers           []string `mapstructure:"brokers"`
	ClientID          string   `mapstructure:"client_id"`
	SubscriptionTopic string   `mapstructure:"subscription_topic"`
	DeadLetterTopic   string   `mapstructure:"dead_letter_topic"`
}

// JWTConfig holds JWT settings. Access and refresh tokens are signed with
// different secrets so one can never be presented as the other.
type JWTConfig struct {
	AccessSecret    string        `mapstructure:"access_secret"`
	RefreshSecret   string        `mapstructure:"refresh_secret"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
	Issuer          string        `mapstructure:"issuer"`
	BcryptCost      int           `mapstructure:"bcrypt_cost"`
}

// StripeConfig holds payment provider settings
type StripeConfig struct {
	Gateway         string        `mapstructure:"gateway"` // stripe, mock
	SecretKey       string        `mapstructure:"secret_key"`
	WebhookSecret   string        `mapstructure:"webhook_secret"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	AllowedPriceIDs []string      `mapstructure:"allowed_price_ids"`
	APIURL          string        `mapstructure:"api_url"`
}

// BillingConfig holds subscription processing settings
type BillingConfig struct {
	WebhookProcessTimeout time.Duration `mapstructure:"webhook_process_timeout"`
	EventLedgerTTL        time.Duration `mapstructure:"event_ledger_ttl"`
	TrialGrantsAccess     bool          `mapstructure:"trial_grants_access"`
	PaymentHistoryLimit   int           `mapstructure:"payment_history_limit"`
	IdempotencyTTL        time.Duration `mapstructure:"idempotency_ttl"`
}

// CookieConfig holds refresh-token cookie settings
type CookieConfig struct {
	Name   string `mapstructure:"name"`
	Domain string `mapstructure:"domain"`
	Path   string `mapstructure:"path"`
}

// RateLimitConfig holds auth endpoint rate limiting settings
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerSecond int  `mapstructure:"requests_per_second"`
	BurstSize         int  `mapstructure:"burst_size"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	ServiceName   string  `mapstructure:"service_name"`
	CollectorAddr string  `mapstructure:"collector_addr"`
	SampleRatio   float64 `mapstructure:"sample_ratio"`
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")

	// .env is optional, environment variables win anyway
	_ = v.ReadInConfig()

	return load(v)
}

// LoadWithPath loads configuration from a specific env file
func LoadWithPath(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("env")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := &Config{}
	bindConfig(v, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("APP_NAME", "healthcare-educate")
	v.SetDefault("APP_ENVIRONMENT", "development")
	v.SetDefault("APP_LOG_LEVEL", "info")
	v.SetDefault("APP_VERSION", "1.0.0")
	v.SetDefault("APP_FRONTEND_URL", "http://localhost:3000")

	// Server defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_READ_TIMEOUT", "15s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "15s")
	v.SetDefault("SERVER_IDLE_TIMEOUT", "60s")
	v.SetDefault("SERVER_CORS_ORIGINS", "http://localhost:3000")

	// Database defaults
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", 5432)
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "postgres")
	v.SetDefault("DATABASE_DBNAME", "healthcare_educate")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_MAX_OPEN_CONNS", 25)
	v.SetDefault("DATABASE_MAX_IDLE_CONNS", 5)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", "1h")
	v.SetDefault("DATABASE_CONN_MAX_IDLE_TIME", "30m")
	v.SetDefault("DATABASE_AUTO_MIGRATE", true)

	// Redis defaults
	v.SetDefault("REDIS_ENABLED", true)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 20)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 2)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "3s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "3s")

	// Kafka defaults
	v.SetDefault("KAFKA_ENABLED", false)
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_CLIENT_ID", "healthcare-educate")
	v.SetDefault("KAFKA_SUBSCRIPTION_TOPIC", "billing.subscription-events")
	v.SetDefault("KAFKA_DEAD_LETTER_TOPIC", "billing.webhook-dead-letter")

	// JWT defaults
	v.SetDefault("JWT_ACCESS_SECRET", defaultAccessSecret)
	v.SetDefault("JWT_REFRESH_SECRET", defaultRefreshSecret)
	v.SetDefault("JWT_ACCESS_TOKEN_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TOKEN_TTL", "168h") // 7 days
	v.SetDefault("JWT_ISSUER", "healthcare-educate")
	v.SetDefault("JWT_BCRYPT_COST", 10)

	// Stripe defaults
	v.SetDefault("STRIPE_GATEWAY", "mock")
	v.SetDefault("STRIPE_SECRET_KEY", "")
	v.SetDefault("STRIPE_WEBHOOK_SECRET", "")
	v.SetDefault("STRIPE_TIMEOUT", "10s")
	v.SetDefault("STRIPE_MAX_RETRIES", 2)
	v.SetDefault("STRIPE_ALLOWED_PRICE_IDS", "")
	v.SetDefault("STRIPE_API_URL", "")

	// Billing defaults
	v.SetDefault("BILLING_WEBHOOK_PROCESS_TIMEOUT", "10s")
	v.SetDefault("BILLING_EVENT_LEDGER_TTL", "72h")
	v.SetDefault("BILLING_TRIAL_GRANTS_ACCESS", false)
	v.SetDefault("BILLING_PAYMENT_HISTORY_LIMIT", 50)
	v.SetDefault("BILLING_IDEMPOTENCY_TTL", "24h")

	// Cookie defaults
	v.SetDefault("COOKIE_NAME", "refreshToken")
	v.SetDefault("COOKIE_DOMAIN", "")
	v.SetDefault("COOKIE_PATH", "/")

	// Rate limit defaults
	v.SetDefault("RATE_LIMIT_ENABLED", true)
	v.SetDefault("RATE_LIMIT_REQUESTS_PER_SECOND", 5)
	v.SetDefault("RATE_LIMIT_BURST_SIZE", 10)

	// OTel defaults
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_SERVICE_NAME", "healthcare-educate")
	v.SetDefault("OTEL_COLLECTOR_ADDR", "localhost:4317")
	v.SetDefault("OTEL_SAMPLE_RATIO", 1.0)
}

func bindConfig(v *viper.Viper, cfg *Config) {
	// App
	cfg.App.Name = v.GetString("APP_NAME")
	cfg.App.Environment = v.GetString("APP_ENVIRONMENT")
	cfg.App.LogLevel = v.GetString("APP_LOG_LEVEL")
	cfg.App.Version = v.GetString("APP_VERSION")
	cfg.App.FrontendURL = strings.TrimRight(v.GetString("APP_FRONTEND_URL"), "/")

	// Server
	cfg.Server.Host = v.GetString("SERVER_HOST")
	cfg.Server.Port = v.GetInt("SERVER_PORT")
	cfg.Server.ReadTimeout = v.GetDuration("SERVER_READ_TIMEOUT")
	cfg.Server.WriteTimeout = v.GetDuration("SERVER_WRITE_TIMEOUT")
	cfg.Server.IdleTimeout = v.GetDuration("SERVER_IDLE_TIMEOUT")
	cfg.Server.CORSOrigins = splitList(v.GetString("SERVER_CORS_ORIGINS"))
	cfg.Server.TrustedProxies = splitList(v.GetString("SERVER_TRUSTED_PROXIES"))

	// Database
	cfg.Database.Host = v.GetString("DATABASE_HOST")
	cfg.Database.Port = v.GetInt("DATABASE_PORT")
	cfg.Database.User = v.GetString("DATABASE_USER")
	cfg.Database.Password = v.GetString("DATABASE_PASSWORD")
	cfg.Database.DBName = v.GetString("DATABASE_DBNAME")
	cfg.Database.SSLMode = v.GetString("DATABASE_SSLMODE")
	cfg.Database.MaxOpenConns = v.GetInt("DATABASE_MAX_OPEN_CONNS")
	cfg.Database.MaxIdleConns = v.GetInt("DATABASE_MAX_IDLE_CONNS")
	cfg.Database.ConnMaxLifetime = v.GetDuration("DATABASE_CONN_MAX_LIFETIME")
	cfg.Database.ConnMaxIdleTime = v.GetDuration("DATABASE_CONN_MAX_IDLE_TIME")
	cfg.Database.AutoMigrate = v.GetBool("DATABASE_AUTO_MIGRATE")

	// Redis
	cfg.Redis.Enabled = v.GetBool("REDIS_ENABLED")
	cfg.Redis.Host = v.GetString("REDIS_HOST")
	cfg.Redis.Port = v.GetInt("REDIS_PORT")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")
	cfg.Redis.PoolSize = v.GetInt("REDIS_POOL_SIZE")
	cfg.Redis.MinIdleConns = v.GetInt("REDIS_MIN_IDLE_CONNS")
	cfg.Redis.DialTimeout = v.GetDuration("REDIS_DIAL_TIMEOUT")
	cfg.Redis.ReadTimeout = v.GetDuration("REDIS_READ_TIMEOUT")
	cfg.Redis.WriteTimeout = v.GetDuration("REDIS_WRITE_TIMEOUT")

	// Kafka
	cfg.Kafka.Enabled = v.GetBool("KAFKA_ENABLED")
	cfg.Kafka.Brokers = splitList(v.GetString("KAFKA_BROKERS"))
	cfg.Kafka.ClientID = v.GetString("KAFKA_CLIENT_ID")
	cfg.Kafka.SubscriptionTopic = v.GetString("KAFKA_SUBSCRIPTION_TOPIC")
	cfg.Kafka.DeadLetterTopic = v.GetString("KAFKA_DEAD_LETTER_TOPIC")

	// JWT
	cfg.JWT.AccessSecret = v.GetString("JWT_ACCESS_SECRET")
	cfg.JWT.RefreshSecret = v.GetString("JWT_REFRESH_SECRET")
	cfg.JWT.AccessTokenTTL = v.GetDuration("JWT_ACCESS_TOKEN_TTL")
	cfg.JWT.RefreshTokenTTL = v.GetDuration("JWT_REFRESH_TOKEN_TTL")
	cfg.JWT.Issuer = v.GetString("JWT_ISSUER")
	cfg.JWT.BcryptCost = v.GetInt("JWT_BCRYPT_COST")

	// Stripe
	cfg.Stripe.Gateway = v.GetString("STRIPE_GATEWAY")
	cfg.Stripe.SecretKey = v.GetString("STRIPE_SECRET_KEY")
	cfg.Stripe.WebhookSecret = v.GetString("STRIPE_WEBHOOK_SECRET")
	cfg.Stripe.Timeout = v.GetDuration("STRIPE_TIMEOUT")
	cfg.Stripe.MaxRetries = v.GetInt("STRIPE_MAX_RETRIES")
	cfg.Stripe.AllowedPriceIDs = splitList(v.GetString("STRIPE_ALLOWED_PRICE_IDS"))
	cfg.Stripe.APIURL = v.GetString("STRIPE_API_URL")

	// Billing
	cfg.Billing.WebhookProcessTimeout = v.GetDuration("BILLING_WEBHOOK_PROCESS_TIMEOUT")
	cfg.Billing.EventLedgerTTL = v.GetDuration("BILLING_EVENT_LEDGER_TTL")
	cfg.Billing.TrialGrantsAccess = v.GetBool("BILLING_TRIAL_GRANTS_ACCESS")
	cfg.Billing.PaymentHistoryLimit = v.GetInt("BILLING_PAYMENT_HISTORY_LIMIT")
	cfg.Billing.IdempotencyTTL = v.GetDuration("BILLING_IDEMPOTENCY_TTL")

	// Cookie
	cfg.Cookie.Name = v.GetString("COOKIE_NAME")
	cfg.Cookie.Domain = v.GetString("COOKIE_DOMAIN")
	cfg.Cookie.Path = v.GetString("COOKIE_PATH")

	// Rate limit
	cfg.RateLimit.Enabled = v.GetBool("RATE_LIMIT_ENABLED")
	cfg.RateLimit.RequestsPerSecond = v.GetInt("RATE_LIMIT_REQUESTS_PER_SECOND")
	cfg.RateLimit.BurstSize = v.GetInt("RATE_LIMIT_BURST_SIZE")

	// OTel
	cfg.OTel.Enabled = v.GetBool("OTEL_ENABLED")
	cfg.OTel.ServiceName = v.GetString("OTEL_SERVICE_NAME")
	cfg.OTel.CollectorAddr = v.GetString("OTEL_COLLECTOR_ADDR")
	cfg.OTel.SampleRatio = v.GetFloat64("OTEL_SAMPLE_RATIO")
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return errors.New("app name is required")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	for _, proxy := range c.Server.TrustedProxies {
		if net.ParseIP(proxy) == nil {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				return fmt.Errorf("invalid trusted proxy %q", proxy)
			}
		}
	}

	if c.JWT.AccessSecret == "" || c.JWT.RefreshSecret == "" {
		return errors.New("JWT access and refresh secrets are required")
	}

	if c.JWT.AccessSecret == c.JWT.RefreshSecret {
		return errors.New("JWT access and refresh secrets must differ")
	}

	if c.IsProduction() && (c.JWT.AccessSecret == defaultAccessSecret || c.JWT.RefreshSecret == defaultRefreshSecret) {
		return errors.New("JWT secrets must be changed in production")
	}

	if c.JWT.AccessTokenTTL <= 0 || c.JWT.RefreshTokenTTL <= c.JWT.AccessTokenTTL {
		return errors.New("refresh token TTL must be longer than access token TTL")
	}

	if c.JWT.BcryptCost < 10 {
		return fmt.Errorf("bcrypt cost must be at least 10, got %d", c.JWT.BcryptCost)
	}

	switch c.Stripe.Gateway {
	case "stripe":
		if !strings.HasPrefix(c.Stripe.SecretKey, "sk_") {
			return errors.New("STRIPE_SECRET_KEY must start with sk_")
		}
		if !strings.HasPrefix(c.Stripe.WebhookSecret, "whsec_") {
			return errors.New("STRIPE_WEBHOOK_SECRET must start with whsec_")
		}
	case "mock":
		if c.IsProduction() {
			return errors.New("mock payment gateway is not allowed in production")
		}
	default:
		return fmt.Errorf("unknown payment gateway: %q", c.Stripe.Gateway)
	}

	if c.Stripe.MaxRetries < 0 || c.Stripe.MaxRetries > 5 {
		return fmt.Errorf("STRIPE_MAX_RETRIES must be between 0 and 5, got %d", c.Stripe.MaxRetries)
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}
