package answer

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/SupportPipe/internal/classify"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Cache defaults.
const (
	DefaultCacheSize = 256
	DefaultCacheTTL  = 30 * time.Minute
)

// Cached remembers answers by normalized question and collapses concurrent
// identical requests into one call to the wrapped producer. Failures are not cached.
type Cached struct {
	next  Producer
	cache *expirable.LRU[string, string]
	group singleflight.Group
}

// NewCached wraps next. Non-positive size or ttl select the defaults.
func NewCached(next Producer, size int, ttl time.Duration) *Cached {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cached{
		next:  next,
		cache: expirable.NewLRU[string, string](size, nil, ttl),
	}
}

// Answer returns a cached answer or asks the wrapped producer.
func (c *Cached) Answer(ctx context.Context, question string) (string, error) {
	key := classify.Normalize(question)
	if ans, ok := c.cache.Get(key); ok {
		slog.Debug("Answer Cached hit", "key", key)
		return ans, nil
	}
	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		ans, err := c.next.Answer(ctx, question)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(ans) != "" {
			c.cache.Add(key, ans)
		}
		return ans, nil
	})
	if err != nil {
		return "", err
	}
	slog.Debug("Answer Cached miss", "key", key, "shared", shared)
	return v.(string), nil
}

// Purge drops every cached answer.
func (c *Cached) Purge() {
	c.cache.Purge()
}

// Len returns the number of cached answers.
func (c *Cached) Len() int {
	return c.cache.Len()
}
