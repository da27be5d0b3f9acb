package config

const (
	EnvPrefix = "TUTORBILL"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "TUTORBILL_APP_ENV"
	EnvPort     = "TUTORBILL_APP_PORT"
	EnvLogLevel = "TUTORBILL_LOG_LEVEL"

	EnvDBDSN  = "TUTORBILL_DB_DSN"
	EnvDBHost = "TUTORBILL_DB_HOST"
	EnvDBUser = "TUTORBILL_DB_USER"
	EnvDBName = "TUTORBILL_DB_NAME"

	EnvRedisURL  = "TUTORBILL_REDIS_URL"
	EnvJWTSecret = "TUTORBILL_JWT_SECRET"
	EnvJWTIssuer = "TUTORBILL_JWT_ISSUER"

	EnvGracePeriodDays = "TUTORBILL_BILLING_GRACE_PERIOD_DAYS"
	EnvBillingCurrency = "TUTORBILL_BILLING_CURRENCY"

	EnvGatewayRetryMaxAttempts = "TUTORBILL_GATEWAY_RETRY_MAX_ATTEMPTS"
	EnvGatewayCallTimeout      = "TUTORBILL_GATEWAY_CALL_TIMEOUT"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
