package policy

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	id "trustcore/pkg/domain"
)

const policyKeyPrefix = "policy:"

// RedisStore keeps policies in Redis hashes so every instance reads the same
// requirements. Each policy is one hash written with a single HSET.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Put(ctx context.Context, p Policy) error {
	err := s.client.HSet(ctx, policyKeyPrefix+string(p.AssetType), map[string]any{
		"min_score":              uint32(p.MinScore),
		"ttl_seconds":            int64(p.TTL / time.Second),
		"required_attestors":     p.RequiredAttestors,
		"requires_manual_review": strconv.FormatBool(p.RequiresManualReview),
		"updated_at":             p.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}).Err()
	if err != nil {
		return fmt.Errorf("store policy: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, assetType id.AssetType) (Policy, bool, error) {
	fields, err := s.client.HGetAll(ctx, policyKeyPrefix+string(assetType)).Result()
	if err != nil {
		return Policy{}, false, fmt.Errorf("load policy: %w", err)
	}
	if len(fields) == 0 {
		return Policy{}, false, nil
	}

	p := Policy{AssetType: assetType}
	minScore, err := strconv.ParseUint(fields["min_score"], 10, 32)
	if err != nil {
		return Policy{}, false, fmt.Errorf("decode policy min_score: %w", err)
	}
	ttl, err := strconv.ParseInt(fields["ttl_seconds"], 10, 64)
	if err != nil {
		return Policy{}, false, fmt.Errorf("decode policy ttl_seconds: %w", err)
	}
	required, err := strconv.ParseUint(fields["required_attestors"], 10, 32)
	if err != nil {
		return Policy{}, false, fmt.Errorf("decode policy required_attestors: %w", err)
	}
	manual, err := strconv.ParseBool(fields["requires_manual_review"])
	if err != nil {
		return Policy{}, false, fmt.Errorf("decode policy requires_manual_review: %w", err)
	}
	if raw := fields["updated_at"]; raw != "" {
		if p.UpdatedAt, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return Policy{}, false, fmt.Errorf("decode policy updated_at: %w", err)
		}
	}
	p.MinScore = id.BasisPoints(minScore)
	p.TTL = time.Duration(ttl) * time.Second
	p.RequiredAttestors = uint32(required)
	p.RequiresManualReview = manual
	return p, true, nil
}
