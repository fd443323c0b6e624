// Package redisquota implements the billing UsageStore on Redis. Each
// tenant-period is one hash keyed by resource kind; check-and-increment runs
// as a Lua script so it is atomic on the server.
package redisquota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"planguard/internal/types"
)

// DefaultRetention keeps a period's counters a little past the following
// month so late releases and usage reads still see them.
const DefaultRetention = 62 * 24 * time.Hour

var consumeScript = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
local amount = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
if limit >= 0 and cur + amount > limit then
  return {cur, 0}
end
local n = redis.call('HINCRBY', KEYS[1], ARGV[1], amount)
redis.call('EXPIRE', KEYS[1], ARGV[4])
return {n, 1}
`)

var releaseScript = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
if cur == 0 then
  return 0
end
local n = cur - tonumber(ARGV[2])
if n < 0 then
  n = 0
end
redis.call('HSET', KEYS[1], ARGV[1], n)
return n
`)

// Store is a Redis-backed UsageStore.
type Store struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithKeyPrefix namespaces every key. The default is "planguard".
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithRetention overrides DefaultRetention.
func WithRetention(d time.Duration) Option {
	return func(s *Store) { s.retention = d }
}

// New creates a Store on client.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, prefix: "planguard", retention: DefaultRetention}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(tenantID string, period types.PeriodKey) string {
	// The hash tag keeps a tenant's counters in one slot on a cluster.
	return fmt.Sprintf("%s:usage:{%s}:%s", s.prefix, tenantID, period)
}

// Consume adds amount to the counter if the result stays within limit.
func (s *Store) Consume(ctx context.Context, key types.UsageKey, amount int64, limit types.Limit) (int64, bool, error) {
	res, err := consumeScript.Run(ctx, s.client,
		[]string{s.key(key.TenantID, key.Period)},
		string(key.Kind), amount, int64(limit), int64(s.retention/time.Second),
	).Int64Slice()
	if err != nil {
		return 0, false, types.NewAppError(types.ErrCodeInternalCache, "failed to consume usage", err)
	}
	if len(res) != 2 {
		return 0, false, types.NewAppError(types.ErrCodeInternalCache,
			fmt.Sprintf("unexpected consume script reply of length %d", len(res)), nil)
	}
	return res[0], res[1] == 1, nil
}

// Release subtracts amount, flooring at zero. Missing counters stay missing.
func (s *Store) Release(ctx context.Context, key types.UsageKey, amount int64) (int64, error) {
	n, err := releaseScript.Run(ctx, s.client,
		[]string{s.key(key.TenantID, key.Period)},
		string(key.Kind), amount,
	).Int64()
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalCache, "failed to release usage", err)
	}
	return n, nil
}

// Counts returns every counter in the tenant's period hash.
func (s *Store) Counts(ctx context.Context, tenantID string, period types.PeriodKey) (map[types.ResourceKind]int64, error) {
	fields, err := s.client.HGetAll(ctx, s.key(tenantID, period)).Result()
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalCache, "failed to read usage", err)
	}

	out := make(map[types.ResourceKind]int64, len(fields))
	for kind, raw := range fields {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalCache,
				fmt.Sprintf("corrupt counter %s=%q", kind, raw), err)
		}
		out[types.ResourceKind(kind)] = n
	}
	return out, nil
}

// ConnectConfig configures Connect.
type ConnectConfig struct {
	URL            string
	RetryAttempts  int
	RetryInterval  time.Duration
	ConnectTimeout time.Duration
}

// ErrNotReady is returned when no connection attempt succeeded.
var ErrNotReady = errors.New("redisquota: redis is not ready")

// Connect parses cfg.URL and pings the server, retrying on failure.
func Connect(ctx context.Context, cfg ConnectConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	var lastErr error
	for range max(cfg.RetryAttempts, 1) {
		client := redis.NewClient(opts)
		if lastErr = client.Ping(ctx).Err(); lastErr == nil {
			return client, nil
		}
		_ = client.Close()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrNotReady, ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}
	return nil, errors.Join(ErrNotReady, lastErr)
}

// Healthcheck returns a probe for the health endpoint.
func Healthcheck(client redis.UniversalClient) func(context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}
