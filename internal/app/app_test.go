package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planguard/internal/billing"
	"planguard/internal/config"
	"planguard/internal/memstore"
	"planguard/internal/redisquota"
	"planguard/internal/types"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Environment: "local",
		Server:      config.ServerConfig{RequestTimeout: time.Second},
		Database:    config.DatabaseConfig{ConnectAttempts: 1, AcquireTimeout: 10 * time.Millisecond},
		Redis:       config.RedisConfig{KeyPrefix: "pg-test", Retention: time.Hour},
		Stripe: config.StripeConfig{
			SecretKey:       "sk_test",
			WebhookSecret:   "whsec_test",
			BaseURL:         "https://api.stripe.test",
			Timeout:         time.Second,
			PriceStandard:   "price_std",
			PricePremium:    "price_prem",
			SuccessURL:      "https://app.test/ok",
			CancelURL:       "https://app.test/cancel",
			PortalReturnURL: "https://app.test/billing",
		},
		Billing: config.BillingConfig{
			StoreBackend:              config.BackendMemory,
			UsageBackend:              config.BackendMemory,
			CheckoutIdempotencyWindow: time.Minute,
		},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuild_MemoryBackends(t *testing.T) {
	e, err := Build(context.Background(), memoryConfig(), discardLogger(), Options{})
	require.NoError(t, err)
	defer e.Close()

	assert.IsType(t, &memstore.PlanStore{}, e.Plans)
	assert.IsType(t, &memstore.UsageStore{}, e.Usage)
	assert.IsType(t, &memstore.EventLedger{}, e.Ledger)
	assert.Empty(t, e.Probes)

	res, err := e.Gate.TryConsume(context.Background(), "t-1", types.ResourceAds, 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	snap, err := e.Reporter.GetCurrentUsage(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Usage[types.ResourceAds].Used)
}

func TestBuild_RedisUsage(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := memoryConfig()
	cfg.Billing.UsageBackend = config.BackendRedis
	cfg.Redis.URL = types.SecretString("redis://" + mr.Addr())

	e, err := Build(context.Background(), cfg, discardLogger(), Options{Publisher: billing.NopPublisher{}})
	require.NoError(t, err)

	assert.IsType(t, &redisquota.Store{}, e.Usage)
	require.Len(t, e.Probes, 1)
	assert.Equal(t, "redis", e.Probes[0].Name())
	assert.NoError(t, e.Probes[0].Check(context.Background()))

	for range 5 {
		res, err := e.Gate.TryConsume(context.Background(), "t-r", types.ResourceProducts, 1)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	res, err := e.Gate.TryConsume(context.Background(), "t-r", types.ResourceProducts, 1)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	e.Close()
	assert.Error(t, e.Probes[0].Check(context.Background()), "client closed")
}

func TestBuild_RedisUnreachable(t *testing.T) {
	cfg := memoryConfig()
	cfg.Billing.UsageBackend = config.BackendRedis
	cfg.Redis.URL = "redis://127.0.0.1:1"

	_, err := Build(context.Background(), cfg, discardLogger(), Options{})
	assert.ErrorIs(t, err, redisquota.ErrNotReady)
}

func TestNewPublisher_NoQueue(t *testing.T) {
	pub, err := NewPublisher(context.Background(), memoryConfig(), discardLogger())
	require.NoError(t, err)
	assert.IsType(t, billing.NopPublisher{}, pub)
}

func TestNewGatewayClient(t *testing.T) {
	cfg := memoryConfig()
	assert.Nil(t, newGatewayClient(cfg).CheckRedirect, "local runs use a plain client")

	cfg.Environment = "prod"
	client := newGatewayClient(cfg)
	assert.NotNil(t, client.CheckRedirect)
	assert.Equal(t, cfg.Stripe.Timeout, client.Timeout)
}
