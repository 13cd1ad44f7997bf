package search

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cached 为任意 Searcher 增加带过期时间的 LRU 缓存，只缓存成功且非空的结果。
type Cached struct {
	next  Searcher
	cache *expirable.LRU[string, []Result]
}

// NewCached 包装一个 Searcher。size 或 ttl 非正数时使用默认值。
func NewCached(next Searcher, size int, ttl time.Duration) *Cached {
	if size <= 0 {
		size = 128
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cached{
		next:  next,
		cache: expirable.NewLRU[string, []Result](size, nil, ttl),
	}
}

// Search 优先返回缓存结果的副本。
func (c *Cached) Search(ctx context.Context, query string) ([]Result, error) {
	key := strings.ToLower(strings.Join(strings.Fields(query), " "))
	if results, ok := c.cache.Get(key); ok {
		return slices.Clone(results), nil
	}
	results, err := c.next.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(results) > 0 {
		c.cache.Add(key, slices.Clone(results))
	}
	return results, nil
}

// Len 返回当前缓存条目数。
func (c *Cached) Len() int {
	return c.cache.Len()
}
