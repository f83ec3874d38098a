package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/flicky/storefront/internal/dto"
)

const productCacheTTL = 60 * time.Second

// ProductCache is a read-through cache of product responses. A nil client
// turns every call into a no-op.
type ProductCache struct {
	client *redis.Client
	log    *slog.Logger
}

func NewProductCache(client *redis.Client, log *slog.Logger) *ProductCache {
	return &ProductCache{client: client, log: log}
}

func productCacheKey(id uuid.UUID) string { return "product:" + id.String() }

func (c *ProductCache) Get(ctx context.Context, id uuid.UUID) (*dto.ProductResponse, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	cached, err := c.client.Get(ctx, productCacheKey(id)).Result()
	if err != nil {
		return nil, false
	}
	var resp dto.ProductResponse
	if json.Unmarshal([]byte(cached), &resp) != nil {
		return nil, false
	}
	return &resp, true
}

func (c *ProductCache) Set(ctx context.Context, resp *dto.ProductResponse) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, productCacheKey(resp.ID), data, productCacheTTL).Err(); err != nil {
		c.log.Warn("cache product", "product_id", resp.ID, "error", err)
	}
}

// Invalidate drops cached entries whose stock or catalog fields changed.
func (c *ProductCache) Invalidate(ctx context.Context, ids ...uuid.UUID) {
	if c == nil || c.client == nil || len(ids) == 0 {
		return
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, productCacheKey(id))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.log.Warn("invalidate product cache", "keys", len(keys), "error", err)
	}
}
