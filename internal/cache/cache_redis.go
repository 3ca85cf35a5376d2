package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
)

const redisPrefix = "tradepost/"

// RedisStore keeps values in redis with a small in-process TinyLFU in front.
// Other processes' local copies are not reached by invalidation and expire
// with the local TTL.
type RedisStore struct {
	Client *redis.Client
	Data   *cache.Cache
	TTL    time.Duration
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	ctx := context.Background()
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return nil, err
	}
	local := ttl
	if local > time.Minute {
		local = time.Minute
	}
	data := cache.New(&cache.Options{
		Redis:      rdb,
		LocalCache: cache.NewTinyLFU(10_000, local),
	})
	return &RedisStore{Client: rdb, Data: data, TTL: ttl}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	var val string
	err := s.Data.Get(ctx, redisPrefix+key, &val)
	if errors.Is(err, cache.ErrCacheMiss) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, val string) error {
	return s.Data.Set(&cache.Item{
		Ctx:   ctx,
		Key:   redisPrefix + key,
		Value: val,
		TTL:   s.TTL,
	})
}

func (s *RedisStore) Invalidate(ctx context.Context, key string) error {
	err := s.Data.Delete(ctx, redisPrefix+key)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil
	}
	return err
}

// InvalidatePattern walks matching keys with SCAN rather than KEYS so a large
// keyspace does not block the server.
func (s *RedisStore) InvalidatePattern(ctx context.Context, glob string) error {
	iter := s.Client.Scan(ctx, 0, redisPrefix+glob, 500).Iterator()
	for iter.Next(ctx) {
		if err := s.Data.Delete(ctx, iter.Val()); err != nil && !errors.Is(err, cache.ErrCacheMiss) {
			return err
		}
	}
	return iter.Err()
}
