//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/recency/store"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/domain"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *store.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = store.NewRedis(s.redis.Client, 5*time.Minute)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) TestRoundTripAtSecondPrecision() {
	ctx := context.Background()
	id := domain.MustNationalID("12345678909")
	at := time.Date(2025, 3, 1, 12, 0, 0, 500, time.UTC)

	s.Require().NoError(s.store.Record(ctx, id, at))

	got, ok, err := s.store.LastEnriched(ctx, id)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(at.Truncate(time.Second), got)

	ttl, err := s.redis.Client.TTL(ctx, store.Key(id)).Result()
	s.Require().NoError(err)
	s.Greater(ttl, 4*time.Minute)
}

func (s *RedisStoreSuite) TestMissingKey() {
	_, ok, err := s.store.LastEnriched(context.Background(), domain.MustNationalID("98765432100"))
	s.Require().NoError(err)
	s.False(ok)
}
