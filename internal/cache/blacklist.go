package cache

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/thereayou/cipherchat/internal/services"
)

const blacklistPrefix = "blacklist:"

// RedisBlacklist stores revoked tokens in redis until they would have expired.
type RedisBlacklist struct {
	rdb *redis.Client
}

var _ services.TokenBlacklist = (*RedisBlacklist)(nil)

func NewRedisBlacklist(rdb *redis.Client) *RedisBlacklist {
	return &RedisBlacklist{rdb: rdb}
}

func (b *RedisBlacklist) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return b.rdb.Set(ctx, blacklistPrefix+token, 1, ttl).Err()
}

func (b *RedisBlacklist) IsRevoked(ctx context.Context, token string) (bool, error) {
	n, err := b.rdb.Exists(ctx, blacklistPrefix+token).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Connect parses url, dials and pings redis.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return rdb, nil
}
