package nominatim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultCacheTTL is how long a cached address stays valid.
const DefaultCacheTTL = 30 * 24 * time.Hour

// CachedClient serves reverse lookups from Redis before falling through to
// the wrapped Reverser. Cache failures are logged and bypassed.
type CachedClient struct {
	next   Reverser
	rdb    redis.Cmdable
	ttl    time.Duration
	prefix string
}

// NewCachedClient wraps next with a Redis cache. A zero ttl uses DefaultCacheTTL.
func NewCachedClient(next Reverser, rdb redis.Cmdable, ttl time.Duration) *CachedClient {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedClient{next: next, rdb: rdb, ttl: ttl, prefix: "skiatlas:revgeo:"}
}

// cacheKey rounds to four decimals (about 11 m) so nearby lookups share an entry.
func (c *CachedClient) cacheKey(lat, lon float64) string {
	return fmt.Sprintf("%s%.4f:%.4f", c.prefix, lat, lon)
}

// Reverse implements Reverser.
func (c *CachedClient) Reverse(ctx context.Context, lat, lon float64) (*Address, error) {
	key := c.cacheKey(lat, lon)
	log := zap.L().With(zap.String("component", "nominatim.cache"), zap.String("key", key))

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var addr Address
		if jerr := json.Unmarshal(raw, &addr); jerr == nil {
			log.Debug("cache hit")
			return &addr, nil
		}
		log.Warn("discarding unreadable cache entry")
	case errors.Is(err, redis.Nil):
	default:
		log.Warn("cache read failed", zap.Error(err))
	}

	addr, err := c.next.Reverse(ctx, lat, lon)
	if err != nil {
		return nil, err
	}

	if b, jerr := json.Marshal(addr); jerr == nil {
		if serr := c.rdb.Set(ctx, key, b, c.ttl).Err(); serr != nil {
			log.Warn("cache write failed", zap.Error(serr))
		}
	}
	return addr, nil
}
