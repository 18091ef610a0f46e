package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/quorumbi/quorum/config"
)

// Tier names the independent TTL categories.
type Tier string

const (
	TierReference  Tier = "reference"
	TierWorker     Tier = "worker"
	TierSynthesis  Tier = "synthesis"
	TierFastAnswer Tier = "fast_answer"
)

// Stats is a snapshot of cache performance counters.
type Stats struct {
	Enabled bool    `json:"enabled"`
	Backend string  `json:"backend"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Saves   int64   `json:"saves"`
	HitRate float64 `json:"hit_rate"`
}

// Cache is the tiered TTL memoization layer shared across requests. A nil
// or disabled Cache is safe to use: every Get misses and every Set is a no-op.
type Cache struct {
	namespace string
	backend   Backend
	ttls      map[Tier]time.Duration
	logger    *log.Logger

	mu     sync.Mutex
	hits   int64
	misses int64
	saves  int64
}

// New builds the cache from config: Redis when reachable, local disk
// otherwise. Callers never observe which backend is active.
func New(ctx context.Context, cfg config.CacheConfig, logger *log.Logger) (*Cache, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[CACHE] ", log.LstdFlags)
	}
	if !cfg.Enabled {
		logger.Printf("cache disabled")
		return &Cache{logger: logger}, nil
	}

	var backend Backend
	if cfg.Redis.Host != "" {
		rb, err := NewRedisBackend(ctx, cfg.Redis)
		if err == nil {
			backend = rb
		} else {
			logger.Printf("redis unavailable (%v), using file cache", err)
		}
	}
	if backend == nil {
		fb, err := NewFileBackend(cfg.File.Dir)
		if err != nil {
			return nil, fmt.Errorf("file cache: %w", err)
		}
		backend = fb
	}
	logger.Printf("cache enabled: %s", backend.Name())

	return &Cache{
		namespace: cfg.Namespace,
		backend:   backend,
		logger:    logger,
		ttls: map[Tier]time.Duration{
			TierReference:  cfg.Tiers.Reference,
			TierWorker:     cfg.Tiers.Worker,
			TierSynthesis:  cfg.Tiers.Synthesis,
			TierFastAnswer: cfg.Tiers.FastAnswer,
		},
	}, nil
}

// Key builds a stable key from the tier, the normalized query and any extra
// parts (worker set, flags). Semantically identical requests collide;
// different worker sets never do.
func (c *Cache) Key(tier Tier, query string, parts ...string) string {
	ns := ""
	if c != nil {
		ns = c.namespace
	}
	sorted := append([]string(nil), parts...)
	sort.Strings(sorted)
	content := Normalize(query) + "::" + strings.Join(sorted, "::")
	sum := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%s:%s:%s", ns, tier, hex.EncodeToString(sum[:])[:16])
}

// Normalize collapses whitespace and case so trivially different phrasings of
// the same query share a cache entry.
func Normalize(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// Get returns the raw cached bytes, or (nil, false) on miss. Backend errors
// are absorbed and counted as misses: the pipeline proceeds uncached.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil || c.backend == nil {
		return nil, false
	}
	val, err := c.backend.Get(ctx, key)
	if err != nil {
		if err != ErrMiss {
			c.logger.Printf("get %s: %v", key, err)
		}
		c.count(&c.misses)
		return nil, false
	}
	c.count(&c.hits)
	return val, true
}

// Set stores value under key at the tier's TTL. ttlOverride, when positive,
// replaces the tier default. Backend errors are logged and dropped.
func (c *Cache) Set(ctx context.Context, tier Tier, key string, value []byte, ttlOverride time.Duration) {
	if c == nil || c.backend == nil {
		return
	}
	ttl := c.ttls[tier]
	if ttlOverride > 0 {
		ttl = ttlOverride
	}
	if err := c.backend.Set(ctx, key, value, ttl); err != nil {
		c.logger.Printf("set %s: %v", key, err)
		return
	}
	c.count(&c.saves)
}

// Clear removes every entry in the given tier, or all tiers when tier is empty.
func (c *Cache) Clear(ctx context.Context, tier Tier) error {
	if c == nil || c.backend == nil {
		return nil
	}
	prefix := c.namespace + ":"
	if tier != "" {
		prefix += string(tier) + ":"
	}
	return c.backend.Clear(ctx, prefix)
}

// Stats returns current hit/miss counters.
func (c *Cache) Stats() Stats {
	if c == nil || c.backend == nil {
		return Stats{Enabled: false, Backend: "none"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return Stats{
		Enabled: true,
		Backend: c.backend.Name(),
		Hits:    c.hits,
		Misses:  c.misses,
		Saves:   c.saves,
		HitRate: rate,
	}
}

func (c *Cache) count(field *int64) {
	c.mu.Lock()
	*field++
	c.mu.Unlock()
}
