//go:build integration

package bucket_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/ratelimit/store/bucket"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/testutil/containers"
)

type RedisBucketSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *bucket.RedisStore
}

func TestRedisBucketSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisBucketSuite))
}

func (s *RedisBucketSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = bucket.NewRedis(s.redis.Client)
}

func (s *RedisBucketSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisBucketSuite) TestFixedWindow() {
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		result, err := s.store.Allow(ctx, "ratelimit:ip:1.2.3.4", 3, time.Minute)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(3-i, result.Remaining)
	}
	result, err := s.store.Allow(ctx, "ratelimit:ip:1.2.3.4", 3, time.Minute)
	s.Require().NoError(err)
	s.False(result.Allowed)
	s.Positive(result.RetryAfter)

	ttl := s.redis.Client.PTTL(ctx, "ratelimit:ip:1.2.3.4").Val()
	s.Positive(ttl)
	s.LessOrEqual(ttl, time.Minute, "later hits do not extend the window")
}

func (s *RedisBucketSuite) TestWindowExpires() {
	ctx := context.Background()
	_, err := s.store.Allow(ctx, "ratelimit:ip:short", 1, 200*time.Millisecond)
	s.Require().NoError(err)
	time.Sleep(300 * time.Millisecond)

	result, err := s.store.Allow(ctx, "ratelimit:ip:short", 1, 200*time.Millisecond)
	s.Require().NoError(err)
	s.True(result.Allowed)
}

func (s *RedisBucketSuite) TestExpiryKeepsMillisecondWindow() {
	ctx := context.Background()
	key := "ratelimit:ip:ms"
	_, err := s.store.Allow(ctx, key, 5, 1500*time.Millisecond)
	s.Require().NoError(err)

	ttl := s.redis.Client.PTTL(ctx, key).Val()
	s.Greater(ttl, time.Second, "window is not rounded down to whole seconds")
	s.LessOrEqual(ttl, 1500*time.Millisecond)

	time.Sleep(300 * time.Millisecond)
	_, err = s.store.Allow(ctx, key, 5, 1500*time.Millisecond)
	s.Require().NoError(err)
	s.LessOrEqual(s.redis.Client.PTTL(ctx, key).Val(), 1200*time.Millisecond, "second hit keeps the first expiry")
}
