package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var redisGuardBeginScript = redis.NewScript(`
local key = KEYS[1]
local ttl_ms = ARGV[1]
local now = ARGV[2]

if redis.call("EXISTS", key) == 1 then
  return {"rejected", redis.call("HGET", key, "status") or ""}
end

redis.call("HSET", key, "status", "in_progress", "created_at", now)
redis.call("PEXPIRE", key, ttl_ms)
return {"accepted"}
`)

var redisGuardCompleteScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 0 then
  return 0
end
redis.call("HSET", key, "status", "completed")
return 1
`)

// RedisGuard keeps the ledger in Redis. Entry lifetime is enforced by key
// expiry, so no sweeper is needed.
type RedisGuard struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisGuard returns a guard storing entries under "<prefix>:<scope>:<key>".
func NewRedisGuard(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisGuard {
	if prefix == "" {
		prefix = "idem"
	}
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &RedisGuard{client: client, prefix: prefix, ttl: ttl}
}

func (g *RedisGuard) redisKey(scope, key string) string {
	return fmt.Sprintf("%s:%s:%s", g.prefix, scope, key)
}

func (g *RedisGuard) Begin(ctx context.Context, scope, key string) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	raw, err := redisGuardBeginScript.Run(
		ctx,
		g.client,
		[]string{g.redisKey(scope, key)},
		int64(g.ttl/time.Millisecond),
		time.Now().UTC().Format(time.RFC3339Nano),
	).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGuardUnavailable, err)
	}
	values, ok := raw.([]interface{})
	if !ok || len(values) == 0 {
		return fmt.Errorf("%w: unexpected redis reply %T", ErrGuardUnavailable, raw)
	}
	switch fmt.Sprint(values[0]) {
	case "accepted":
		return nil
	case "rejected":
		idempotencyRejections.Inc()
		return ErrAlreadyInProgressOrCompleted
	default:
		return fmt.Errorf("%w: unknown state %v", ErrGuardUnavailable, values[0])
	}
}

// Seen reports whether a live entry holds (scope, key).
func (g *RedisGuard) Seen(ctx context.Context, scope, key string) (bool, error) {
	n, err := g.client.Exists(ctx, g.redisKey(scope, strings.TrimSpace(key))).Result()
	return n > 0, err
}

func (g *RedisGuard) Complete(ctx context.Context, scope, key string, outcome Outcome) error {
	rk := g.redisKey(scope, strings.TrimSpace(key))
	var err error
	if outcome == OutcomeSucceeded {
		err = redisGuardCompleteScript.Run(ctx, g.client, []string{rk}).Err()
	} else {
		err = g.client.Del(ctx, rk).Err()
	}
	if err != nil {
		return fmt.Errorf("complete idempotency (%s): %w", outcome, err)
	}
	return nil
}
