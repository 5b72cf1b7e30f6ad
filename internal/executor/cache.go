package executor

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/forgeline/forgeline/pkg/models"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the result cache when no size is configured.
const DefaultCacheSize = 256

// cacheEntry pairs a stored result with its insertion time. TTL is
// per-tool, so freshness is decided at lookup against the definition's
// CacheTTL rather than baked into the cache itself.
type cacheEntry struct {
	result   models.ExecutionResult
	storedAt time.Time
}

// resultCache memoizes successful tool results keyed by tool name plus
// canonical argument encoding. Only tools that declare a CacheTTL
// participate; everything else bypasses the cache entirely.
type resultCache struct {
	entries *lru.Cache[string, cacheEntry]
	now     func() time.Time
}

func newResultCache(maxEntries int) *resultCache {
	if maxEntries <= 0 {
		maxEntries = DefaultCacheSize
	}
	entries, err := lru.New[string, cacheEntry](maxEntries)
	if err != nil {
		// lru.New only fails on a non-positive size.
		panic(err)
	}
	return &resultCache{entries: entries, now: time.Now}
}

// get returns a copy of the cached result if present and still fresh per
// the tool's TTL. Stale entries are evicted on sight.
func (c *resultCache) get(key string, ttl time.Duration) (*models.ExecutionResult, bool) {
	entry, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.storedAt) > ttl {
		c.entries.Remove(key)
		return nil, false
	}
	out := entry.result
	out.CacheHit = true
	return &out, true
}

func (c *resultCache) put(key string, result models.ExecutionResult) {
	result.CacheHit = false
	c.entries.Add(key, cacheEntry{result: result, storedAt: c.now()})
}

// cachedResult resolves the memoized result for this call, if the tool
// opts into caching and a fresh entry exists.
func (e *Executor) cachedResult(def models.ToolDefinition, args map[string]any) (*models.ExecutionResult, bool) {
	if e.cache == nil || def.CacheTTL <= 0 {
		return nil, false
	}
	return e.cache.get(cacheKey(def.Name, args), def.CacheTTL)
}

// storeResult memoizes a successful result for tools that cache.
func (e *Executor) storeResult(def models.ToolDefinition, args map[string]any, result *models.ExecutionResult) {
	if e.cache == nil || def.CacheTTL <= 0 {
		return
	}
	e.cache.put(cacheKey(def.Name, args), *result)
}

// cacheKey builds a deterministic key from the tool name and arguments.
// Keys are sorted so semantically equal argument maps always collide.
func cacheKey(name string, args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		if enc, err := json.Marshal(args[k]); err == nil {
			b.Write(enc)
		} else {
			fmt.Fprintf(&b, "%v", args[k])
		}
	}
	return b.String()
}

func newCorrelationID() string {
	return uuid.New().String()
}
