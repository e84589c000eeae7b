package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/okian/trustgate/internal/domain/ratelimit"
)

const redisPingTimeout = 5 * time.Second

// slidingWindowScript trims, records and counts in one server-side step so
// concurrent hits on a key are serialized by Redis.
// KEYS[1] key; ARGV[1] now ms; ARGV[2] window ms; ARGV[3] unique member.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
redis.call('ZADD', key, now, ARGV[3])
local count = redis.call('ZCARD', key)
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
redis.call('PEXPIRE', key, window)
return {count, tonumber(oldest[2])}
`) //nolint:gochecknoglobals

// RedisConfig holds connection settings for NewRedisClient.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Options converts cfg into go-redis client options.
func (cfg RedisConfig) Options() *redis.Options {
	return &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// NewRedisClient dials Redis and verifies the connection with PING.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(cfg.Options())

	ctx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// RedisStore keeps attempt logs in sorted sets scored by millisecond timestamp.
type RedisStore struct {
	client redis.UniversalClient
}

var _ ratelimit.Store = (*RedisStore)(nil)

// NewRedisStore wraps an existing client. The caller owns the client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Hit implements ratelimit.Store.
func (s *RedisStore) Hit(ctx context.Context, key string, now time.Time, window time.Duration) (ratelimit.Window, error) {
	if key == "" {
		return ratelimit.Window{}, ErrInvalidKey
	}
	nowMs := now.UnixMilli()
	member := fmt.Sprintf("%d-%s", nowMs, uuid.NewString())

	res, err := slidingWindowScript.Run(ctx, s.client, []string{key}, nowMs, window.Milliseconds(), member).Int64Slice()
	if err != nil {
		return ratelimit.Window{}, fmt.Errorf("redis hit %s: %w", key, err)
	}
	if len(res) != 2 {
		return ratelimit.Window{}, fmt.Errorf("redis hit %s: unexpected reply %v", key, res)
	}
	return ratelimit.Window{Count: res[0], Oldest: time.UnixMilli(res[1])}, nil
}
