// Package cache provides the Redis-backed cache for assembled version
// histories, so repeated reads do not re-run assembly over the archive.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"folio/api/internal/revision"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = 5 * time.Minute

// HistoryCache stores assembled histories keyed by document and author
// filter. Entries expire on their own; ingesting a new revision for a
// document invalidates its entries eagerly.
type HistoryCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewHistoryCache connects to Redis and verifies the connection.
func NewHistoryCache(redisURL string, ttl time.Duration) (*HistoryCache, error) {
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

	return NewHistoryCacheWithClient(client, ttl), nil
}

// NewHistoryCacheWithClient creates a cache from an existing client.
func NewHistoryCacheWithClient(client *redis.Client, ttl time.Duration) *HistoryCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &HistoryCache{client: client, prefix: "history:", ttl: ttl}
}

func (c *HistoryCache) key(documentID, authorFilter string) string {
	if authorFilter == "" {
		return c.prefix + documentID + ":*all*"
	}
	return c.prefix + documentID + ":" + authorFilter
}

// SaveHistory stores an assembled history with the configured TTL.
func (c *HistoryCache) SaveHistory(ctx context.Context, documentID, authorFilter string, history []revision.Revision) error {
	payload, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	if err := c.client.Set(ctx, c.key(documentID, authorFilter), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	return nil
}

// LookupHistory returns a cached history and whether it was present.
func (c *HistoryCache) LookupHistory(ctx context.Context, documentID, authorFilter string) ([]revision.Revision, bool, error) {
	payload, err := c.client.Get(ctx, c.key(documentID, authorFilter)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup history: %w", err)
	}

	var history []revision.Revision
	if err := json.Unmarshal(payload, &history); err != nil {
		return nil, false, fmt.Errorf("decode cached history: %w", err)
	}
	return history, true, nil
}

// InvalidateDocument removes every cached history for a document,
// including author-filtered variants.
func (c *HistoryCache) InvalidateDocument(ctx context.Context, documentID string) error {
	pattern := c.prefix + documentID + ":*"
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan history keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate history: %w", err)
	}
	return nil
}

// Ping checks if Redis is reachable.
func (c *HistoryCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *HistoryCache) Close() error {
	return c.client.Close()
}
