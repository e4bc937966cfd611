package search

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/fabworks/piecemark/pkg/config"
	pkgredis "github.com/fabworks/piecemark/pkg/redis"
)

const cacheKeyPrefix = "search:"

// InvalidationMessage is published on the cache-invalidate topic whenever
// catalog contents change, so every instance drops its cached result pages.
type InvalidationMessage struct {
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Cache stores computed result pages in Redis, keyed by the canonical form
// of the request. Concurrent identical requests share one computation.
type Cache struct {
	client *pkgredis.Client
	cfg    config.RedisConfig
	group  singleflight.Group
	logger *slog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

func NewCache(client *pkgredis.Client, cfg config.RedisConfig) *Cache {
	return &Cache{
		client: client,
		cfg:    cfg,
		logger: slog.Default().With("component", "search-cache"),
	}
}

func (c *Cache) Get(ctx context.Context, req Request) (*ResultPage, bool) {
	key := c.buildKey(req)
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if pkgredis.IsNilError(err) {
			c.misses.Add(1)
			return nil, false
		}
		c.logger.Error("cache get failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	var page ResultPage
	if err := json.Unmarshal([]byte(data), &page); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.logger.Debug("cache hit", "key", key)
	return &page, true
}

func (c *Cache) Set(ctx context.Context, req Request, page *ResultPage) {
	key := c.buildKey(req)
	data, err := json.Marshal(page)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.cfg.CacheTTL); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached page for req, or runs computeFn and caches
// its result. The bool reports whether the page came from cache.
func (c *Cache) GetOrCompute(
	ctx context.Context,
	req Request,
	computeFn func() (*ResultPage, error),
) (*ResultPage, bool, error) {
	if page, ok := c.Get(ctx, req); ok {
		return page, true, nil
	}
	key := c.buildKey(req)
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		if page, ok := c.Get(ctx, req); ok {
			return page, nil
		}
		page, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, req, page)
		return page, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*ResultPage), false, nil
}

// Invalidate drops every cached result page.
func (c *Cache) Invalidate(ctx context.Context) (int64, error) {
	deleted, err := c.client.FlushByPattern(ctx, cacheKeyPrefix+"*")
	if err != nil {
		return deleted, fmt.Errorf("invalidating search cache: %w", err)
	}
	c.logger.Info("search cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

// KeyCount reports how many result pages are currently cached.
func (c *Cache) KeyCount(ctx context.Context) (int64, error) {
	return c.client.CountByPattern(ctx, cacheKeyPrefix+"*")
}

func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// buildKey hashes the canonical form of the request. The query is lowercased
// and whitespace-collapsed (case never changes ILIKE results) but term order
// is preserved, since NOT makes ordering significant.
func (c *Cache) buildKey(req Request) string {
	scopes := make([]string, 0, len(req.Scopes))
	for _, s := range req.Scopes {
		scopes = append(scopes, string(s))
	}
	sort.Strings(scopes)

	var b strings.Builder
	b.WriteString(strings.Join(strings.Fields(strings.ToLower(req.Query)), " "))
	b.WriteString("|scopes=")
	b.WriteString(strings.Join(scopes, ","))
	fmt.Fprintf(&b, "|cat=%s|proj=%s", strings.ToLower(req.Category), strings.ToLower(req.Project))
	if req.MinConfidence != nil {
		fmt.Fprintf(&b, "|minc=%g", *req.MinConfidence)
	}
	if req.MaxConfidence != nil {
		fmt.Fprintf(&b, "|maxc=%g", *req.MaxConfidence)
	}
	fmt.Fprintf(&b, "|limit=%d|offset=%d|sort=%s|desc=%t", req.Limit, req.Offset, req.SortBy, req.SortDesc)

	hash := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%s%x", cacheKeyPrefix, hash[:16])
}
