package inbox

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is an optional Redis fast path in front of the ledger: completed
// delivery ids are remembered for a TTL so hot duplicates skip the database.
// It is strictly an optimization; correctness always comes from the ledger,
// so every cache error fails open.
type Cache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewCache(rdb *redis.Client, prefix string, ttl time.Duration) *Cache {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "inbox"
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{rdb: rdb, prefix: prefix, ttl: ttl}
}

// Seen reports whether deliveryID was recently completed. False on any
// cache error.
func (c *Cache) Seen(ctx context.Context, deliveryID string) bool {
	if c == nil || c.rdb == nil {
		return false
	}
	n, err := c.rdb.Exists(ctx, c.key(deliveryID)).Result()
	return err == nil && n > 0
}

// MarkSeen remembers a completed deliveryID. Errors are dropped.
func (c *Cache) MarkSeen(ctx context.Context, deliveryID string) {
	if c == nil || c.rdb == nil {
		return
	}
	_ = c.rdb.Set(ctx, c.key(deliveryID), 1, c.ttl).Err()
}

func (c *Cache) key(deliveryID string) string {
	return c.prefix + ":done:" + deliveryID
}
