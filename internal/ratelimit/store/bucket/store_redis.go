package bucket

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"trustcore/internal/ratelimit/models"
	"trustcore/pkg/platform/sentinel"
	"trustcore/pkg/requestcontext"
)

// slidingWindowScript trims the window, then admits the request if there is
// room. Returns {allowed, count, oldest_ms}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
  redis.call('ZADD', key, now, member)
  count = count + 1
  allowed = 1
end
redis.call('PEXPIRE', key, window)
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local oldestScore = now
if oldest[2] then
  oldestScore = tonumber(oldest[2])
end
return {allowed, count, oldestScore}
`)

// RedisBucketStore shares sliding windows across replicas.
type RedisBucketStore struct {
	client redis.UniversalClient
}

// NewRedisBucketStore wraps an existing client.
func NewRedisBucketStore(client redis.UniversalClient) *RedisBucketStore {
	return &RedisBucketStore{client: client}
}

// Allow records one request against key if the window has room.
func (s *RedisBucketStore) Allow(ctx context.Context, key string, limit models.Limit) (*models.Result, error) {
	now := requestcontext.Now(ctx)
	res, err := slidingWindowScript.Run(ctx, s.client, []string{key},
		now.UnixMilli(),
		limit.Window.Milliseconds(),
		limit.RequestsPerWindow,
		strconv.FormatInt(now.UnixNano(), 10)+":"+uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("ratelimit script: %w: %v", sentinel.ErrUnavailable, err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("ratelimit script: unexpected reply of %d values", len(res))
	}

	count := int(res[1])
	resetAt := time.UnixMilli(res[2]).Add(limit.Window).UTC()
	out := &models.Result{
		Allowed:   res[0] == 1,
		Limit:     limit.RequestsPerWindow,
		Remaining: max(limit.RequestsPerWindow-count, 0),
		ResetAt:   resetAt,
	}
	if !out.Allowed {
		out.RetryAfter = retryAfter(now, resetAt)
	}
	return out, nil
}

// Reset clears the bucket for key.
func (s *RedisBucketStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}
