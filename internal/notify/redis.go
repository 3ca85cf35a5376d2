package notify

import (
	"context"
	"encoding/json"

	"tradepost/internal/domain"

	"github.com/redis/go-redis/v9"
)

const DefaultStream = "tradepost.notifications"

// RedisStreamSink appends events to a redis stream read by the delivery bot.
type RedisStreamSink struct {
	Client *redis.Client
	Stream string
	MaxLen int64
}

func NewRedisStreamSink(redisURL, stream string) (*RedisStreamSink, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		return nil, err
	}
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStreamSink{Client: rdb, Stream: stream, MaxLen: 100_000}, nil
}

func (s *RedisStreamSink) Notify(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.Client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.Stream,
		MaxLen: s.MaxLen,
		Approx: true,
		Values: map[string]any{
			"kind":    string(ev.Kind),
			"user_id": ev.UserID,
			"payload": string(payload),
		},
	}).Err()
}
