// Package redis provides a Redis-backed quota Ledger for keywheel.
//
// Window state is stored in Redis hashes and every reservation runs a Lua
// script, so the read-check-increment sequence is a single atomic round trip
// and limits hold across multiple processes. When Redis is unreachable the
// store degrades to a process-local ledger: cross-process limits may be
// briefly exceeded, but callers are never blocked on a dead store.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/keywheel/keywheel"
	"github.com/keywheel/keywheel/ledger"
)

const defaultTimeout = 2 * time.Second

// Store is a Redis-backed Ledger.
type Store struct {
	client    goredis.Cmdable
	keyPrefix string
	timeout   time.Duration
	logger    *slog.Logger
	fallback  *ledger.MemoryLedger
}

var _ keywheel.Ledger = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets the Redis key prefix (default "keywheel:quota:").
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// WithTimeout bounds each store round trip (default 2s).
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the logger used for fallback warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a new Redis-backed Ledger.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: "keywheel:quota:",
		timeout:   defaultTimeout,
		logger:    slog.Default(),
		fallback:  ledger.NewMemoryLedger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) windowHashKey(credentialID string, res keywheel.Resource) string {
	return s.keyPrefix + credentialID + ":" + string(res)
}

// reserveScript is a Lua script for atomic windowed reserve.
// KEYS[1] = window hash key
// ARGV[1] = window key (current time bucket)
// ARGV[2] = limit (0 = unlimited)
// ARGV[3] = amount
// ARGV[4] = ttl seconds (~2x the window, so abandoned entries self-clean)
//
// Returns 1 when granted, 0 when the limit would be exceeded.
var reserveScript = goredis.NewScript(`
local window = ARGV[1]
local limit = tonumber(ARGV[2])
local amount = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local cur = redis.call("HMGET", KEYS[1], "w", "u")
if cur[1] == window then
    local used = tonumber(cur[2]) or 0
    if limit > 0 and used + amount > limit then
        return 0
    end
    redis.call("HINCRBY", KEYS[1], "u", amount)
    return 1
end

-- New window: previous usage no longer counts.
if limit > 0 and amount > limit then
    return 0
end
redis.call("HSET", KEYS[1], "w", window, "u", amount)
redis.call("EXPIRE", KEYS[1], ttl)
return 1
`)

// finalizeScript adjusts the current window by a signed delta, clamped at 0.
// KEYS[1] = window hash key
// ARGV[1] = window key
// ARGV[2] = delta (actual - reserved)
var finalizeScript = goredis.NewScript(`
local window = ARGV[1]
local delta = tonumber(ARGV[2])

local cur = redis.call("HMGET", KEYS[1], "w", "u")
if cur[1] ~= window then
    return 0
end
local used = (tonumber(cur[2]) or 0) + delta
if used < 0 then
    used = 0
end
redis.call("HSET", KEYS[1], "u", used)
return 1
`)

// Reserve atomically charges amount against the credential's current window.
func (s *Store) Reserve(ctx context.Context, credentialID string, res keywheel.Resource, limit, amount int64) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("%w: %d", keywheel.ErrInvalidAmount, amount)
	}

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	window := strconv.FormatInt(keywheel.WindowKey(res, time.Now()), 10)
	ttl := int64(2 * res.Window() / time.Second)

	result, err := reserveScript.Run(opCtx, s.client,
		[]string{s.windowHashKey(credentialID, res)},
		window, limit, amount, ttl,
	).Int64()
	if err != nil {
		s.warnFallback("reserve", credentialID, res, err)
		return s.fallback.Reserve(ctx, credentialID, res, limit, amount)
	}

	return result == 1, nil
}

// Finalize reconciles a token reservation with the actual usage.
func (s *Store) Finalize(ctx context.Context, credentialID string, res keywheel.Resource, reserved, actual int64) error {
	if reserved < 0 || actual < 0 {
		return fmt.Errorf("%w: reserved=%d actual=%d", keywheel.ErrInvalidAmount, reserved, actual)
	}
	if actual == reserved {
		return nil
	}

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	window := strconv.FormatInt(keywheel.WindowKey(res, time.Now()), 10)

	_, err := finalizeScript.Run(opCtx, s.client,
		[]string{s.windowHashKey(credentialID, res)},
		window, actual-reserved,
	).Result()
	if err != nil {
		s.warnFallback("finalize", credentialID, res, err)
		return s.fallback.Finalize(ctx, credentialID, res, reserved, actual)
	}
	return nil
}

// Usage returns the amount charged in the credential's current window.
func (s *Store) Usage(ctx context.Context, credentialID string, res keywheel.Resource) (int64, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	vals, err := s.client.HMGet(opCtx, s.windowHashKey(credentialID, res), "w", "u").Result()
	if err != nil {
		s.warnFallback("usage", credentialID, res, err)
		return s.fallback.Usage(ctx, credentialID, res)
	}

	if vals[0] == nil {
		return 0, nil
	}
	window, ok := vals[0].(string)
	if !ok || window != strconv.FormatInt(keywheel.WindowKey(res, time.Now()), 10) {
		return 0, nil
	}

	raw, ok := vals[1].(string)
	if !ok {
		return 0, nil
	}
	used, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("keywheel/redis: usage: parse %q: %w", raw, err)
	}
	return used, nil
}

// Ping checks the store connection. A failure wraps ErrStoreUnavailable.
func (s *Store) Ping(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Ping(opCtx).Err(); err != nil {
		return fmt.Errorf("%w: %v", keywheel.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) warnFallback(op, credentialID string, res keywheel.Resource, err error) {
	s.logger.Warn("quota store unreachable, enforcing locally",
		"op", op,
		"credential", credentialID,
		"resource", string(res),
		"error", err,
	)
}
