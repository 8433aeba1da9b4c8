package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cachePrefix    = "catalog:bundles:"
	activeListKey  = cachePrefix + "list:active"
	bundleKeyScope = cachePrefix + "detail:"
	generationKey  = cachePrefix + "generation"
)

// putIfCurrent stores ARGV[2] only while the generation still equals the one
// the reader saw before loading from the store.
var putIfCurrent = redis.NewScript(`local gen = redis.call("get", KEYS[1]) or "0"
if gen ~= ARGV[1] then
	return 0
end
redis.call("set", KEYS[2], ARGV[2], "PX", ARGV[3])
return 1`)

// Cache keeps read-through copies of the public bundle listing and of single
// active bundles. Readers take a generation before loading from the store and
// write back only if no invalidation happened in between, so a row read
// before a commit cannot be cached after that commit's invalidation.
type Cache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewCache returns a cache over client. A nil client or non-positive ttl
// disables caching; every lookup then misses.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	c := &Cache{ttl: ttl}
	if client != nil {
		c.client = client
	}
	return c
}

func (c *Cache) enabled() bool {
	return c != nil && c.client != nil && c.ttl > 0
}

// Generation returns the invalidation counter to pass to the Put methods.
func (c *Cache) Generation(ctx context.Context) (string, error) {
	if !c.enabled() {
		return "", nil
	}
	gen, err := c.client.Get(ctx, generationKey).Result()
	if errors.Is(err, redis.Nil) {
		return "0", nil
	}
	return gen, err
}

// Bundle returns the cached active bundle id.
func (c *Cache) Bundle(ctx context.Context, id string) (CatalogBundle, bool, error) {
	if !c.enabled() {
		return CatalogBundle{}, false, nil
	}
	return getJSON[CatalogBundle](ctx, c.client, bundleKeyScope+id)
}

// PutBundle caches an active bundle read at generation gen.
func (c *Cache) PutBundle(ctx context.Context, gen string, b CatalogBundle) error {
	if !c.enabled() || !b.IsActive {
		return nil
	}
	return c.putJSON(ctx, gen, bundleKeyScope+b.ID, b)
}

// ActiveBundles returns the cached unfiltered public listing.
func (c *Cache) ActiveBundles(ctx context.Context) ([]CatalogBundle, bool, error) {
	if !c.enabled() {
		return nil, false, nil
	}
	return getJSON[[]CatalogBundle](ctx, c.client, activeListKey)
}

// PutActiveBundles caches the unfiltered public listing read at generation gen.
func (c *Cache) PutActiveBundles(ctx context.Context, gen string, rows []CatalogBundle) error {
	if !c.enabled() {
		return nil
	}
	return c.putJSON(ctx, gen, activeListKey, rows)
}

// Invalidate bumps the generation and drops the listing and the given
// bundles in one transaction.
func (c *Cache) Invalidate(ctx context.Context, bundleIDs ...string) error {
	if c == nil || c.client == nil {
		return nil
	}
	keys := make([]string, 0, len(bundleIDs)+1)
	keys = append(keys, activeListKey)
	for _, id := range bundleIDs {
		keys = append(keys, bundleKeyScope+id)
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey)
		pipe.Del(ctx, keys...)
		return nil
	})
	return err
}

func getJSON[T any](ctx context.Context, client redis.Cmdable, key string) (T, bool, error) {
	var out T
	data, err := client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return out, false, nil
	}
	if err != nil {
		return out, false, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, false, err
	}
	return out, true, nil
}

func (c *Cache) putJSON(ctx context.Context, gen, key string, v any) error {
	if gen == "" {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return putIfCurrent.Run(ctx, c.client, []string{generationKey, key}, gen, data, c.ttl.Milliseconds()).Err()
}
