package plugin

import (
	"errors"
	"log/slog"

	"github.com/jbaubree/villus/internal/cache"
	"github.com/jbaubree/villus/internal/operation"
)

// Cache is the cache-reading and cache-writing plugin. It must be ordered
// before the terminal network plugin: it short-circuits the network on
// eligible hits, and learns of network results through a result observer
// without being the plugin that issued the call.
//
// Mutations and subscriptions resolve to an effective policy of
// network-only, so they never read the cache but their results are written
// under the operation key like any other network response. Results carrying
// GraphQL errors are written too; policy does not gate on error presence.
type Cache struct {
	store  cache.Store
	logger *slog.Logger
}

// NewCache creates the cache plugin over a store.
func NewCache(store cache.Store, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{store: store, logger: logger}
}

// Name implements Plugin.
func (p *Cache) Name() string { return "cache" }

// Handle implements Plugin.
func (p *Cache) Handle(c *Context, next Next) error {
	op := c.Operation()
	policy := op.EffectivePolicy()

	switch policy {
	case operation.CacheOnly:
		entry, err := p.lookup(c)
		if err == nil {
			c.MarkFromCache()
			c.UseResult(entry.Result, true)
			return nil
		}
		// No network call under cache-only: a miss resolves to an empty
		// result with nil data and nil errors.
		c.UseResult(&operation.Result{}, true)
		return nil

	case operation.CacheFirst:
		entry, err := p.lookup(c)
		if err == nil {
			c.MarkFromCache()
			c.UseResult(entry.Result, true)
			return nil
		}

	case operation.CacheAndNetwork:
		entry, err := p.lookup(c)
		if err == nil {
			// Cached emission goes out first; the chain continues to the
			// network for the fresh result.
			c.UseResult(entry.Result, false)
		}

	case operation.NetworkOnly:
		// No read.
	}

	c.OnResult(func(res *operation.Result) {
		if c.ServedFromCache() {
			return
		}
		if err := p.store.Set(c.Ctx(), op.Key, res, op.Tags); err != nil {
			p.logger.Warn("cache write failed", "key", op.Key, "error", err)
		}
	})

	return next()
}

// lookup reads the store, degrading store failures to misses so a broken
// cache backend never fails a dispatch.
func (p *Cache) lookup(c *Context) (*cache.Entry, error) {
	entry, err := p.store.Get(c.Ctx(), c.Operation().Key)
	if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		p.logger.Warn("cache read failed", "key", c.Operation().Key, "error", err)
		return nil, cache.ErrCacheMiss
	}
	return entry, err
}
