package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"microtrax/internal/models"
)

// ProductStore is the source of truth behind ProductCache.
type ProductStore interface {
	GetProduct(ctx context.Context, id string) (models.Product, error)
}

// ProductCache is a read-through Redis cache in front of the catalog. Redis
// failures fall back to the store.
type ProductCache struct {
	rdb    *redis.Client
	store  ProductStore
	ttl    time.Duration
	logger *slog.Logger
}

func NewProductCache(rdb *redis.Client, store ProductStore, ttl time.Duration, logger *slog.Logger) *ProductCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProductCache{rdb: rdb, store: store, ttl: ttl, logger: logger}
}

func productKey(id string) string {
	return "microtrax:product:" + id
}

func (c *ProductCache) GetProduct(ctx context.Context, id string) (models.Product, error) {
	raw, err := c.rdb.Get(ctx, productKey(id)).Bytes()
	switch {
	case err == nil:
		var p models.Product
		if jerr := json.Unmarshal(raw, &p); jerr == nil {
			return p, nil
		}
		c.logger.Warn("product cache: corrupt entry", "id", id)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("product cache: get failed", "id", id, "err", err)
	}

	p, err := c.store.GetProduct(ctx, id)
	if err != nil {
		return models.Product{}, err
	}
	if b, jerr := json.Marshal(p); jerr == nil {
		if serr := c.rdb.Set(ctx, productKey(id), b, c.ttl).Err(); serr != nil {
			c.logger.Warn("product cache: set failed", "id", id, "err", serr)
		}
	}
	return p, nil
}

// Invalidate drops cached entries after a catalog write.
func (c *ProductCache) Invalidate(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, productKey(id))
	}
	return c.rdb.Del(ctx, keys...).Err()
}
