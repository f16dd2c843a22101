package permcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/meridianhq/meridian/pkg/model"
)

// Cache layers an in-process LRU and Redis in front of the permission
// store. The serving path reads through it; the maintainer writes through
// it so every store write invalidates both layers.
type Cache struct {
	store *Store
	redis *redis.Client
	l1    *lru.Cache[string, *model.InstancePermission]
	ttl   time.Duration
	group singleflight.Group
}

// NewCache creates a cache over the store. The Redis client is optional;
// with a nil client only the LRU fronts the store.
func NewCache(store *Store, redisClient *redis.Client, l1Size int, ttl time.Duration) (*Cache, error) {
	if l1Size <= 0 {
		l1Size = 1024
	}
	l1, err := lru.New[string, *model.InstancePermission](l1Size)
	if err != nil {
		return nil, fmt.Errorf("failed to create permission LRU: %w", err)
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{store: store, redis: redisClient, l1: l1, ttl: ttl}, nil
}

// Store returns the underlying row store.
func (c *Cache) Store() *Store { return c.store }

func cacheKey(accountID int64, modelName string) string {
	return fmt.Sprintf("perm:%d:%s", accountID, modelName)
}

// Get returns the cached row for (account, model), or nil when none
// exists. A missing row is not negatively cached; the maintainer creates
// rows lazily and the next read picks them up.
func (c *Cache) Get(ctx context.Context, accountID int64, modelName string) (*model.InstancePermission, error) {
	key := cacheKey(accountID, modelName)

	if row, ok := c.l1.Get(key); ok {
		return row, nil
	}

	// Concurrent misses on the same key collapse into one fill.
	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.fill(ctx, key, accountID, modelName)
	})
	if err != nil {
		return nil, err
	}
	row, _ := v.(*model.InstancePermission)
	return row, nil
}

func (c *Cache) fill(ctx context.Context, key string, accountID int64, modelName string) (*model.InstancePermission, error) {
	if c.redis != nil {
		data, err := c.redis.Get(ctx, key).Result()
		if err == nil {
			var row model.InstancePermission
			if err := json.Unmarshal([]byte(data), &row); err == nil {
				c.l1.Add(key, &row)
				return &row, nil
			}
			// Corrupt entry: drop it and fall through to the store.
			c.redis.Del(ctx, key)
		} else if err != redis.Nil {
			return nil, fmt.Errorf("redis get failed: %w", err)
		}
	}

	row, err := c.store.Get(ctx, accountID, modelName)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}

	c.l1.Add(key, row)
	if c.redis != nil {
		if data, err := json.Marshal(row); err == nil {
			c.redis.Set(ctx, key, data, c.ttl)
		}
	}
	return row, nil
}

// Put writes a row through to the store and invalidates both cache layers.
// Only the maintainer calls this.
func (c *Cache) Put(ctx context.Context, row *model.InstancePermission) error {
	if err := c.store.Upsert(ctx, row); err != nil {
		return err
	}
	return c.Invalidate(ctx, row.AccountID, row.ModelName)
}

// Invalidate drops the cached copy of one row.
func (c *Cache) Invalidate(ctx context.Context, accountID int64, modelName string) error {
	key := cacheKey(accountID, modelName)
	c.l1.Remove(key)
	if c.redis != nil {
		if err := c.redis.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("redis invalidate failed: %w", err)
		}
	}
	return nil
}

// DropAccount removes the stored rows and cached copies for an account
// across all models.
func (c *Cache) DropAccount(ctx context.Context, accountID int64, modelNames []string) error {
	if err := c.store.DeleteForAccount(ctx, accountID); err != nil {
		return err
	}
	for _, name := range modelNames {
		if err := c.Invalidate(ctx, accountID, name); err != nil {
			return err
		}
	}
	return nil
}
