package bucket

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/ratelimit/models"
)

// RedisStore is a fixed-window counter shared by every instance.
// INCR and a first-hit PEXPIRE run in one MULTI so a crash between them
// cannot leave a counter without a TTL.
type RedisStore struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedis creates a Redis-backed bucket store.
func NewRedis(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func (s *RedisStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error) {
	var (
		incr *redis.IntCmd
		pttl *redis.DurationCmd
	)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Do(ctx, "PEXPIRE", key, window.Milliseconds(), "NX")
		pttl = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rate limit incr %s: %w", key, err)
	}

	now := s.now()
	ttl := pttl.Val()
	if ttl <= 0 {
		ttl = window
	}
	return models.NewResult(int(incr.Val()), limit, now.Add(ttl), now), nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}
