package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Billing      BillingConfig
	Gateway      GatewayConfig
	Stripe       StripeConfig
	Square       SquareConfig
	Webhooks     WebhooksConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Billing.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Gateway.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"TUTORBILL_APP_ENV" required:"true"`
	Port         string `envconfig:"TUTORBILL_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"TUTORBILL_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"TUTORBILL_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"TUTORBILL_LOG_FORMAT" default:"json"`

	CORSOrigins []string `envconfig:"TUTORBILL_CORS_ORIGINS" default:"http://localhost:3000"`

	CallbackPollLimit  int64         `envconfig:"TUTORBILL_CALLBACK_POLL_LIMIT" default:"30"`
	CallbackPollWindow time.Duration `envconfig:"TUTORBILL_CALLBACK_POLL_WINDOW" default:"1m"`

	// Money-moving writes (cash, waive) keep their replay records longer.
	IdempotencyTTL      time.Duration `envconfig:"TUTORBILL_IDEMPOTENCY_TTL" default:"24h"`
	MoneyIdempotencyTTL time.Duration `envconfig:"TUTORBILL_IDEMPOTENCY_MONEY_TTL" default:"168h"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"TUTORBILL_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"TUTORBILL_DB_DSN"`
	Driver string `envconfig:"TUTORBILL_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"TUTORBILL_DB_HOST"`
	LegacyPort     int    `envconfig:"TUTORBILL_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"TUTORBILL_DB_USER"`
	LegacyPassword string `envconfig:"TUTORBILL_DB_PASSWORD"`
	LegacyName     string `envconfig:"TUTORBILL_DB_NAME"`
	LegacySSLMode  string `envconfig:"TUTORBILL_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"TUTORBILL_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"TUTORBILL_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"TUTORBILL_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"TUTORBILL_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"TUTORBILL_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"TUTORBILL_REDIS_URL" required:"true"`
	Address      string        `envconfig:"TUTORBILL_REDIS_ADDR"`
	Password     string        `envconfig:"TUTORBILL_REDIS_PASSWORD"`
	DB           int           `envconfig:"TUTORBILL_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"TUTORBILL_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"TUTORBILL_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"TUTORBILL_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"TUTORBILL_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"TUTORBILL_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string        `envconfig:"TUTORBILL_JWT_SECRET" required:"true"`
	Issuer            string        `envconfig:"TUTORBILL_JWT_ISSUER" required:"true"`
	ExpirationMinutes int           `envconfig:"TUTORBILL_JWT_EXPIRATION_MINUTES" default:"60"`
	Leeway            time.Duration `envconfig:"TUTORBILL_JWT_LEEWAY" default:"30s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"TUTORBILL_AUTO_MIGRATE" default:"false"`
	// EnableSquare registers the Square adapter next to Stripe.
	EnableSquare bool `envconfig:"TUTORBILL_FEATURE_ENABLE_SQUARE" default:"false"`
}

// BillingConfig holds the subscription enforcement knobs.
type BillingConfig struct {
	GracePeriodDays int    `envconfig:"TUTORBILL_BILLING_GRACE_PERIOD_DAYS" default:"7"`
	Currency        string `envconfig:"TUTORBILL_BILLING_CURRENCY" default:"INR"`
	DefaultGateway  string `envconfig:"TUTORBILL_BILLING_DEFAULT_GATEWAY" default:"stripe"`
}

func (b BillingConfig) validate() error {
	if b.GracePeriodDays < 0 {
		return fmt.Errorf("%s must be >= 0", EnvGracePeriodDays)
	}
	if strings.TrimSpace(b.Currency) == "" {
		return fmt.Errorf("%s is required", EnvBillingCurrency)
	}
	return nil
}

// GatewayConfig bounds every outbound call to a payment provider.
type GatewayConfig struct {
	RetryMaxAttempts int           `envconfig:"TUTORBILL_GATEWAY_RETRY_MAX_ATTEMPTS" default:"4"`
	RetryBaseDelay   time.Duration `envconfig:"TUTORBILL_GATEWAY_RETRY_BASE_DELAY" default:"200ms"`
	RetryMaxDelay    time.Duration `envconfig:"TUTORBILL_GATEWAY_RETRY_MAX_DELAY" default:"3s"`
	CallTimeout      time.Duration `envconfig:"TUTORBILL_GATEWAY_CALL_TIMEOUT" default:"10s"`
	LinkTTL          time.Duration `envconfig:"TUTORBILL_GATEWAY_LINK_TTL" default:"23h"`
	LinkLockTTL      time.Duration `envconfig:"TUTORBILL_GATEWAY_LINK_LOCK_TTL" default:"30s"`
	SuccessURL       string        `envconfig:"TUTORBILL_GATEWAY_SUCCESS_URL" default:"http://localhost:3000/payments/return"`
	CancelURL        string        `envconfig:"TUTORBILL_GATEWAY_CANCEL_URL" default:"http://localhost:3000/payments/cancel"`
}

func (g GatewayConfig) validate() error {
	if g.RetryMaxAttempts < 1 {
		return fmt.Errorf("%s must be >= 1", EnvGatewayRetryMaxAttempts)
	}
	if g.CallTimeout <= 0 {
		return fmt.Errorf("%s must be positive", EnvGatewayCallTimeout)
	}
	return nil
}

type StripeConfig struct {
	APIKey string `envconfig:"TUTORBILL_STRIPE_API_KEY"`
	Secret string `envconfig:"TUTORBILL_STRIPE_SECRET"`
	Env    string `envconfig:"TUTORBILL_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type SquareConfig struct {
	AccessToken   string        `envconfig:"TUTORBILL_SQUARE_ACCESS_TOKEN"`
	WebhookSecret string        `envconfig:"TUTORBILL_SQUARE_WEBHOOK_SECRET"`
	WebhookURL    string        `envconfig:"TUTORBILL_SQUARE_WEBHOOK_URL"`
	LocationID    string        `envconfig:"TUTORBILL_SQUARE_LOCATION_ID"`
	Env           string        `envconfig:"TUTORBILL_SQUARE_ENV" default:"sandbox"`
	Timeout       time.Duration `envconfig:"TUTORBILL_SQUARE_TIMEOUT" default:"10s"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type WebhooksConfig struct {
	GuardTTL     time.Duration `envconfig:"TUTORBILL_WEBHOOK_GUARD_TTL" default:"720h"`
	RetryBatch   int           `envconfig:"TUTORBILL_WEBHOOK_RETRY_BATCH" default:"100"`
	RetryMinAge  time.Duration `envconfig:"TUTORBILL_WEBHOOK_RETRY_MIN_AGE" default:"1m"`
	ReviewWindow time.Duration `envconfig:"TUTORBILL_WEBHOOK_REVIEW_WINDOW" default:"48h"`
	MaxAttempts  int           `envconfig:"TUTORBILL_WEBHOOK_RETRY_MAX_ATTEMPTS" default:"10"`
	MaxBodyBytes int64         `envconfig:"TUTORBILL_WEBHOOK_MAX_BODY_BYTES" default:"65536"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"TUTORBILL_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	BillingTopic string `envconfig:"TUTORBILL_PUBSUB_BILLING_TOPIC" default:"tutorbill-billing-events"`
	// Ordering keys messages by aggregate so one account's events arrive in order.
	Ordering bool `envconfig:"TUTORBILL_PUBSUB_ORDERING" default:"true"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"TUTORBILL_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"TUTORBILL_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"TUTORBILL_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"TUTORBILL_OUTBOX_RETENTION" default:"720h"`
	DLQRetention   time.Duration `envconfig:"TUTORBILL_OUTBOX_DLQ_RETENTION" default:"2160h"`
	PruneBatch     int           `envconfig:"TUTORBILL_OUTBOX_PRUNE_BATCH" default:"1000"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"TUTORBILL_CRON_INTERVAL" default:"1h"`
	LockTTL  time.Duration `envconfig:"TUTORBILL_CRON_LOCK_TTL" default:"10m"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
