//go:build integration

package bucket_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"trustcore/internal/ratelimit/models"
	"trustcore/internal/ratelimit/store/bucket"
	"trustcore/pkg/requestcontext"
	"trustcore/pkg/testutil/containers"
)

type RedisBucketStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *bucket.RedisBucketStore
}

func TestRedisBucketStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisBucketStoreSuite))
}

func (s *RedisBucketStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = bucket.NewRedisBucketStore(s.redis.Client)
}

func (s *RedisBucketStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisBucketStoreSuite) TestSlidingWindow() {
	limit := models.Limit{RequestsPerWindow: 2, Window: time.Minute}
	start := time.Now().UTC().Truncate(time.Second)
	at := func(offset time.Duration) context.Context {
		return requestcontext.WithTime(context.Background(), start.Add(offset))
	}

	s.Run("admits up to the limit", func() {
		for i := range 2 {
			result, err := s.store.Allow(at(time.Duration(i)*time.Second), "rl:window", limit)
			s.Require().NoError(err)
			s.True(result.Allowed)
			s.Equal(1-i, result.Remaining)
		}
	})

	s.Run("rejects the next request", func() {
		result, err := s.store.Allow(at(5*time.Second), "rl:window", limit)
		s.Require().NoError(err)
		s.False(result.Allowed)
		s.Equal(55, result.RetryAfter)
	})

	s.Run("admits again once the oldest request leaves the window", func() {
		result, err := s.store.Allow(at(time.Minute+100*time.Millisecond), "rl:window", limit)
		s.Require().NoError(err)
		s.True(result.Allowed)
	})

	s.Run("reset clears the window", func() {
		s.Require().NoError(s.store.Reset(context.Background(), "rl:window"))
		result, err := s.store.Allow(at(time.Minute+time.Second), "rl:window", limit)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(1, result.Remaining)
	})
}
