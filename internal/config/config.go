// Package config defines the process configuration for planguard.
//
// Configuration is loaded once at startup and is read-only afterwards. Values
// resolve in priority order:
//
//	OS Environment (Highest) -> Dotenv File -> SecretProvider (Lowest)
//
// A missing required value or an invalid format fails startup.
package config

import (
	"time"

	"planguard/internal/types"
)

// SecretString is types.SecretString, re-exported so callers reading config
// don't need the types import.
type SecretString = types.SecretString

// Store backends.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Config is the top-level configuration. Components receive only the
// sub-struct they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"planguard"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Stripe        StripeConfig
	Billing       BillingConfig
	AWS           AWSConfig
	Observability ObservabilityConfig

	// Injected via ldflags, not env.
	Build BuildInfo `ignored:"true"`
}

// ServerConfig holds the HTTP listener and caller authentication settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"15s" validate:"gt=0"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"20s" validate:"gt=0"`
	// ServiceToken is the shared bearer token presented by the upstream API
	// gateway on every /v1 call.
	ServiceToken SecretString `envconfig:"SERVICE_TOKEN"`
}

// DatabaseConfig holds the Postgres DSN and pool tuning.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"omitempty,url"`

	MaxConns          int32         `envconfig:"DB_MAX_CONNS" default:"10" validate:"gte=1"`
	MinConns          int32         `envconfig:"DB_MIN_CONNS" default:"1" validate:"gte=0"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
	ConnectAttempts   int           `envconfig:"DB_CONNECT_ATTEMPTS" default:"5" validate:"gte=1"`
}

// RedisConfig configures the Redis usage counter backend.
type RedisConfig struct {
	URL       SecretString  `envconfig:"REDIS_URL"`
	KeyPrefix string        `envconfig:"REDIS_KEY_PREFIX" default:"planguard"`
	Retention time.Duration `envconfig:"REDIS_USAGE_RETENTION" default:"1488h" validate:"gt=0"`
}

// StripeConfig holds the gateway credentials, price catalog and redirect URLs.
type StripeConfig struct {
	SecretKey        SecretString  `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	WebhookSecret    SecretString  `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`
	WebhookTolerance time.Duration `envconfig:"STRIPE_WEBHOOK_TOLERANCE" default:"5m"`
	BaseURL          string        `envconfig:"STRIPE_API_BASE" default:"https://api.stripe.com" validate:"url"`
	Timeout          time.Duration `envconfig:"STRIPE_TIMEOUT" default:"10s" validate:"gt=0"`

	PriceStandard string `envconfig:"STRIPE_PRICE_STANDARD" validate:"required"`
	PricePremium  string `envconfig:"STRIPE_PRICE_PREMIUM" validate:"required"`

	SuccessURL      string `envconfig:"CHECKOUT_SUCCESS_URL" validate:"required,url"`
	CancelURL       string `envconfig:"CHECKOUT_CANCEL_URL" validate:"required,url"`
	PortalReturnURL string `envconfig:"PORTAL_RETURN_URL" validate:"required,url"`
}

// Prices returns the tier to price id catalog.
func (c StripeConfig) Prices() map[types.PlanTier]string {
	return map[types.PlanTier]string{
		types.PlanStandard: c.PriceStandard,
		types.PlanPremium:  c.PricePremium,
	}
}

// BillingConfig selects store backends and tunes billing behaviour.
type BillingConfig struct {
	StoreBackend string `envconfig:"STORE_BACKEND" default:"postgres" validate:"oneof=postgres memory"`
	UsageBackend string `envconfig:"USAGE_BACKEND" default:"postgres" validate:"oneof=postgres redis memory"`
	// CheckoutIdempotencyWindow buckets repeated checkout requests for the
	// same tenant and tier onto one gateway idempotency key.
	CheckoutIdempotencyWindow time.Duration `envconfig:"CHECKOUT_IDEMPOTENCY_WINDOW" default:"10m" validate:"gt=0"`
}

// AWSConfig holds AWS resource identifiers.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`
	// PlanEventsQueue receives plan-changed notifications. Empty disables
	// publishing.
	PlanEventsQueue string `envconfig:"SQS_PLAN_EVENTS" validate:"omitempty,url"`

	// LocalStack support. Empty in prod.
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL" validate:"omitempty,url"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Planguard"`
	MetricsEnabled  bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// UsesPostgres reports whether any store is backed by Postgres.
func (c *Config) UsesPostgres() bool {
	return c.Billing.StoreBackend == BackendPostgres || c.Billing.UsageBackend == BackendPostgres
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrMissingEnv       ConfigErrorType = "MISSING_ENV"
	ErrSecretResolution ConfigErrorType = "SECRET_RESOLUTION_FAILED"
	ErrValidation       ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing          ConfigErrorType = "PARSING_FAILED"
)
