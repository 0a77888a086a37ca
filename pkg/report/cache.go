package report

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dentage-research/platform/pkg/common/models"
)

// ErrCacheMiss signals that a summary must be recomputed.
var ErrCacheMiss = errors.New("report cache miss")

const summaryKey = "report:analysis:summary"

// Cache holds the computed analysis summary between study mutations.
type Cache interface {
	Get(ctx context.Context) (models.AnalysisSummary, error)
	Set(ctx context.Context, summary models.AnalysisSummary) error
	Invalidate(ctx context.Context) error
}

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context) (models.AnalysisSummary, error) {
	raw, err := c.client.Get(ctx, summaryKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.AnalysisSummary{}, ErrCacheMiss
	}
	if err != nil {
		return models.AnalysisSummary{}, err
	}
	var summary models.AnalysisSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return models.AnalysisSummary{}, ErrCacheMiss
	}
	return summary, nil
}

func (c *RedisCache) Set(ctx context.Context, summary models.AnalysisSummary) error {
	raw, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, summaryKey, raw, c.ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, summaryKey).Err()
}

// MemoryCache is the single-process fallback used when Redis is not
// configured, and in tests.
type MemoryCache struct {
	mu      sync.Mutex
	summary models.AnalysisSummary
	expires time.Time
	ttl     time.Duration
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl}
}

func (c *MemoryCache) Get(ctx context.Context) (models.AnalysisSummary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.expires.IsZero() || time.Now().After(c.expires) {
		return models.AnalysisSummary{}, ErrCacheMiss
	}
	return c.summary, nil
}

func (c *MemoryCache) Set(ctx context.Context, summary models.AnalysisSummary) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary = summary
	c.expires = time.Now().Add(c.ttl)
	return nil
}

func (c *MemoryCache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expires = time.Time{}
	return nil
}
