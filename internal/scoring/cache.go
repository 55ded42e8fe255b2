package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores oracle verdicts under CacheKey.
type Cache interface {
	Get(ctx context.Context, key string) (Verdict, bool, error)
	Set(ctx context.Context, key string, verdict Verdict) error
}

// CacheKey scopes a delta to the policy version, oracle and event.
func CacheKey(policyVersion, oracleName, eventID string) string {
	return strings.Join([]string{"oracle", policyVersion, oracleName, eventID}, ":")
}

// RedisCache shares verdicts between processes, so a rerun of the same day with the
// oracle enabled replays the deltas of the first run.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(ctx context.Context, redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(redisURL))
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

// Get accepts both the JSON verdict and a bare number written by older runs.
func (c *RedisCache) Get(ctx context.Context, key string) (Verdict, bool, error) {
	raw, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return Verdict{}, false, nil
	}
	if err != nil {
		return Verdict{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	var verdict Verdict
	if jsonErr := json.Unmarshal([]byte(raw), &verdict); jsonErr == nil && strings.HasPrefix(raw, "{") {
		return verdict, true, nil
	}
	delta, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return Verdict{}, false, fmt.Errorf("redis value for %s is not a verdict: %w", key, err)
	}
	return Verdict{Delta: delta}, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, verdict Verdict) error {
	value, err := json.Marshal(verdict)
	if err != nil {
		return fmt.Errorf("encode verdict for %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, value, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
