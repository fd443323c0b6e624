// Package app assembles the billing engine from configuration. The API server
// and the webhook Lambda share it so both run against the same stores.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"planguard/internal/billing"
	"planguard/internal/config"
	"planguard/internal/core"
	"planguard/internal/db"
	"planguard/internal/external"
	"planguard/internal/memstore"
	"planguard/internal/queue"
	"planguard/internal/redisquota"
	"planguard/internal/security"
	"planguard/internal/telemetry"
)

// Options carries the dependencies chosen by the caller rather than by
// configuration.
type Options struct {
	// Recorder receives engine metrics; nil disables them.
	Recorder billing.Recorder
	// Publisher receives plan changes; nil builds one from cfg.AWS.
	Publisher billing.PlanEventPublisher
	// HTTPClient is used for gateway calls; nil builds an egress-guarded
	// client from cfg.Stripe.
	HTTPClient *http.Client
	// Migrate applies pending schema migrations after connecting.
	Migrate bool
}

// Engine is the assembled billing engine plus the resources it holds.
type Engine struct {
	Plans    billing.PlanStore
	Usage    billing.UsageStore
	Ledger   billing.EventLedger
	Registry billing.PlanRegistry

	Gate     *billing.QuotaGate
	Machine  *billing.PlanStateMachine
	Webhooks *billing.WebhookProcessor
	Checkout *billing.CheckoutOrchestrator
	Portal   *billing.PortalLinkIssuer
	Reporter *billing.UsageReporter

	// Probes check the stores that are network backed.
	Probes []core.HealthProbe

	closers []func()
}

// Build connects the configured stores and wires the engine. Resources opened
// before a failure are released before returning.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (_ *Engine, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{Registry: billing.NewStaticPlanRegistry()}
	defer func() {
		if err != nil {
			e.Close()
		}
	}()

	var pool *pgxpool.Pool
	if cfg.UsesPostgres() {
		pool, err = db.Connect(ctx, db.PoolConfig{
			DSN:               cfg.Database.URL.Unmask(),
			MaxConns:          cfg.Database.MaxConns,
			MinConns:          cfg.Database.MinConns,
			MaxConnLifetime:   cfg.Database.MaxConnLifetime,
			HealthCheckPeriod: cfg.Database.HealthCheckPeriod,
			PingTimeout:       cfg.Database.AcquireTimeout,
			RetryAttempts:     cfg.Database.ConnectAttempts,
			RetryInterval:     cfg.Database.AcquireTimeout,
		})
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, pool.Close)
		e.Probes = append(e.Probes, core.NewProbe("database", db.Healthcheck(pool)))

		if opts.Migrate {
			if err = db.Migrate(ctx, pool, logger); err != nil {
				return nil, err
			}
		}
	}

	switch cfg.Billing.StoreBackend {
	case config.BackendPostgres:
		e.Plans = db.NewPlanRepo(pool, logger)
		e.Ledger = db.NewLedgerRepo(pool)
	default:
		e.Plans = memstore.NewPlanStore()
		e.Ledger = memstore.NewEventLedger()
	}

	switch cfg.Billing.UsageBackend {
	case config.BackendPostgres:
		e.Usage = db.NewUsageRepo(pool)
	case config.BackendRedis:
		client, cerr := redisquota.Connect(ctx, redisquota.ConnectConfig{
			URL:            cfg.Redis.URL.Unmask(),
			RetryAttempts:  cfg.Database.ConnectAttempts,
			RetryInterval:  cfg.Database.AcquireTimeout,
			ConnectTimeout: cfg.Server.RequestTimeout,
		})
		if cerr != nil {
			return nil, cerr
		}
		e.closers = append(e.closers, func() { _ = client.Close() })
		e.Probes = append(e.Probes, core.NewProbe("redis", redisquota.Healthcheck(client)))
		e.Usage = redisquota.New(client,
			redisquota.WithKeyPrefix(cfg.Redis.KeyPrefix),
			redisquota.WithRetention(cfg.Redis.Retention),
		)
	default:
		e.Usage = memstore.NewUsageStore()
	}

	publisher := opts.Publisher
	if publisher == nil {
		if publisher, err = NewPublisher(ctx, cfg, logger); err != nil {
			return nil, err
		}
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = newGatewayClient(cfg)
	}
	prices := external.PriceCatalog(cfg.Stripe.Prices())
	gateway := external.NewStripeGateway(httpClient, external.StripeGatewayConfig{
		SecretKey:       cfg.Stripe.SecretKey,
		BaseURL:         cfg.Stripe.BaseURL,
		Prices:          prices,
		SuccessURL:      cfg.Stripe.SuccessURL,
		CancelURL:       cfg.Stripe.CancelURL,
		PortalReturnURL: cfg.Stripe.PortalReturnURL,
		Logger:          logger,
	})

	e.Gate = billing.NewQuotaGate(e.Plans, e.Usage, e.Registry, opts.Recorder, logger)
	e.Machine = billing.NewPlanStateMachine(e.Plans, publisher, logger)
	e.Webhooks = billing.NewWebhookProcessor(
		external.NewStripeVerifier(cfg.Stripe.WebhookSecret, cfg.Stripe.WebhookTolerance),
		external.NewStripeEventDecoder(prices),
		e.Ledger,
		e.Machine,
		opts.Recorder,
		logger,
	)
	e.Checkout = billing.NewCheckoutOrchestrator(e.Plans, gateway, cfg.Billing.CheckoutIdempotencyWindow, opts.Recorder, logger)
	e.Portal = billing.NewPortalLinkIssuer(e.Plans, gateway, opts.Recorder, logger)
	e.Reporter = billing.NewUsageReporter(e.Plans, e.Usage, e.Registry)

	logger.InfoContext(ctx, "billing engine ready",
		"store_backend", cfg.Billing.StoreBackend,
		"usage_backend", cfg.Billing.UsageBackend,
	)
	return e, nil
}

// newGatewayClient guards egress outside local runs, where the gateway is
// usually a mock on localhost.
func newGatewayClient(cfg *config.Config) *http.Client {
	if cfg.Environment == "local" {
		return &http.Client{Timeout: cfg.Stripe.Timeout}
	}
	return security.NewGatewayClient(cfg.Stripe.Timeout, nil)
}

// Close releases store connections in reverse order of acquisition.
func (e *Engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}

// LoadAWSConfig loads the default AWS configuration for cfg.AWS.Region.
func LoadAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading aws config: %w", err)
	}
	if cfg.AWS.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
	}
	return awsCfg, nil
}

// NewPublisher returns an SQS publisher for cfg.AWS.PlanEventsQueue, or a
// no-op publisher when no queue is configured.
func NewPublisher(ctx context.Context, cfg *config.Config, logger *slog.Logger) (billing.PlanEventPublisher, error) {
	if cfg.AWS.PlanEventsQueue == "" {
		logger.WarnContext(ctx, "SQS_PLAN_EVENTS not set, plan changes will not be published")
		return billing.NopPublisher{}, nil
	}
	awsCfg, err := LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return queue.NewSQSPlanPublisher(sqs.NewFromConfig(awsCfg), cfg.AWS.PlanEventsQueue, logger), nil
}

// NewCloudWatchRecorder returns a recorder publishing to cfg's metric
// namespace.
func NewCloudWatchRecorder(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*telemetry.CloudWatchRecorder, error) {
	awsCfg, err := LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return telemetry.NewCloudWatchRecorder(cloudwatch.NewFromConfig(awsCfg), cfg.Observability.MetricNamespace, logger), nil
}
