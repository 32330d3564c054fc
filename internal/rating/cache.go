package rating

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ScoreCache keeps computed page scores in Redis. A nil cache is valid and
// caches nothing, so deployments without Redis skip straight to the store.
type ScoreCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewScoreCache(redisURL string, ttl time.Duration) (*ScoreCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &ScoreCache{client: client, ttl: ttl}, nil
}

func NewScoreCacheWithClient(client *redis.Client, ttl time.Duration) *ScoreCache {
	return &ScoreCache{client: client, ttl: ttl}
}

func (c *ScoreCache) key(pageID int64) string {
	return "score:" + strconv.FormatInt(pageID, 10)
}

// Get returns the cached score for a page. ok is false on a miss.
func (c *ScoreCache) Get(ctx context.Context, pageID int64) (float64, bool, error) {
	if c == nil {
		return 0, false, nil
	}
	raw, err := c.client.Get(ctx, c.key(pageID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get cached score: %w", err)
	}
	score, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse cached score: %w", err)
	}
	return score, true, nil
}

func (c *ScoreCache) Set(ctx context.Context, pageID int64, score float64) error {
	if c == nil {
		return nil
	}
	value := strconv.FormatFloat(score, 'g', -1, 64)
	if err := c.client.Set(ctx, c.key(pageID), value, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache score: %w", err)
	}
	return nil
}

// Invalidate drops a page's cached score after its votes change.
func (c *ScoreCache) Invalidate(ctx context.Context, pageID int64) error {
	if c == nil {
		return nil
	}
	if err := c.client.Del(ctx, c.key(pageID)).Err(); err != nil {
		return fmt.Errorf("invalidate cached score: %w", err)
	}
	return nil
}

func (c *ScoreCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
