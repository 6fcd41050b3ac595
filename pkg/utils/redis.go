package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig controls redis client behavior.
type RedisConfig struct {
	Addr string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	PoolSize        int
	MinIdleConns    int
	PoolTimeout     time.Duration
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	PingTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 20
	}
	if out.MinIdleConns < 0 {
		out.MinIdleConns = 0
	}
	if out.PoolTimeout <= 0 {
		out.PoolTimeout = 4 * time.Second
	}
	if out.ConnMaxIdleTime <= 0 {
		out.ConnMaxIdleTime = 5 * time.Minute
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = 30 * time.Minute
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// OpenRedis initializes a Redis client and validates connectivity via PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		PoolTimeout:     cfg.PoolTimeout,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

var claimDueScript = redis.NewScript(`
-- KEYS[1] = due index (ZSET member=call id, score=due unix seconds)
-- ARGV[1] = now (unix seconds)
-- ARGV[2] = max entries to claim
--
-- Atomically removes and returns call ids whose due time has passed.
-- Atomicity prevents the same id being claimed twice across restarts.
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[1], id)
end
return due
`)

// MarkDue records a due time for an id in a sorted-set index. Used by the
// scheduler so timers survive process restarts.
func MarkDue(ctx context.Context, rdb *redis.Client, key, id string, dueAt time.Time) error {
	if rdb == nil {
		return fmt.Errorf("redis client is nil")
	}
	if key == "" || id == "" {
		return fmt.Errorf("key and id are required")
	}
	return rdb.ZAdd(ctx, key, redis.Z{Score: float64(dueAt.Unix()), Member: id}).Err()
}

// UnmarkDue drops an id from the due index (terminal state or reschedule).
func UnmarkDue(ctx context.Context, rdb *redis.Client, key, id string) error {
	if rdb == nil {
		return fmt.Errorf("redis client is nil")
	}
	return rdb.ZRem(ctx, key, id).Err()
}

// ClaimDue atomically pops up to limit ids whose due time is <= now.
func ClaimDue(ctx context.Context, rdb *redis.Client, key string, now time.Time, limit int) ([]string, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	if limit <= 0 {
		limit = 100
	}
	return claimDueScript.Run(ctx, rdb, []string{key}, now.Unix(), limit).StringSlice()
}

// PendingDue lists ids still in the index without claiming them.
func PendingDue(ctx context.Context, rdb *redis.Client, key string) ([]string, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	return rdb.ZRange(ctx, key, 0, -1).Result()
}
