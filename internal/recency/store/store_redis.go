package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/domain"
)

const keyPrefix = "recency:"

// RedisStore keeps one key per national id holding the unix second of the
// last enrichment. Redis expires the key after ttl.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedis(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func Key(id domain.NationalID) string {
	return keyPrefix + id.String()
}

func (s *RedisStore) LastEnriched(ctx context.Context, id domain.NationalID) (time.Time, bool, error) {
	raw, err := s.client.Get(ctx, Key(id)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get recency: %w", err)
	}
	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse recency value %q: %w", raw, err)
	}
	return time.Unix(unix, 0).UTC(), true, nil
}

func (s *RedisStore) Record(ctx context.Context, id domain.NationalID, at time.Time) error {
	if err := s.client.Set(ctx, Key(id), at.Unix(), s.ttl).Err(); err != nil {
		return fmt.Errorf("set recency: %w", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the shared client is closed by its owner.
func (s *RedisStore) Close() error { return nil }
