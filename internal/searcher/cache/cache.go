// Package cache stores search pages in Redis. Keys include the index
// generation, so a mutation makes older entries unreachable without an
// explicit flush; they expire with the TTL.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/index"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/resilience"
)

const (
	keyPrefix    = "search:"
	storeTimeout = 250 * time.Millisecond
)

// Store is the subset of the Redis client the cache uses.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Key identifies one page of one query against one index generation.
type Key struct {
	// Query is the normalized query plan.
	Query      string
	Filters    index.Filters
	Cursor     string
	Limit      int
	Generation uint64
}

type QueryCache struct {
	store   Store
	cfg     config.RedisConfig
	metrics *metrics.Metrics
	group   singleflight.Group
	breaker *resilience.Breaker
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New builds a cache over store. m may be nil. After repeated store errors
// the cache stops talking to the store for a while and every lookup misses.
func New(store Store, cfg config.RedisConfig, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		store:   store,
		cfg:     cfg,
		metrics: m,
		breaker: resilience.NewBreaker("query-cache", resilience.BreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
			IsFailure: func(err error) bool {
				return err != nil && !pkgredis.IsNilError(err)
			},
		}),
		logger: slog.Default().With("component", "query-cache"),
	}
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

func (c *QueryCache) hit() {
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
}

func (c *QueryCache) Get(ctx context.Context, k Key) (*executor.Page, bool) {
	key := BuildKey(k)
	var data string
	err := c.breaker.Do(func() error {
		var err error
		data, err = resilience.Call(ctx, storeTimeout, "cache get", func(ctx context.Context) (string, error) {
			return c.store.Get(ctx, key)
		})
		return err
	})
	if err != nil {
		if !pkgredis.IsNilError(err) && !errors.Is(err, resilience.ErrCircuitOpen) {
			c.logger.Warn("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	var page executor.Page
	if err := json.Unmarshal([]byte(data), &page); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hit()
	c.logger.Debug("cache hit", "key", key)
	return &page, true
}

func (c *QueryCache) Set(ctx context.Context, k Key, page *executor.Page) {
	key := BuildKey(k)
	data, err := json.Marshal(page)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Do(func() error {
		_, err := resilience.Call(ctx, storeTimeout, "cache set", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.store.Set(ctx, key, data, c.cfg.CacheTTL)
		})
		return err
	})
	if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached page for k, or computes and stores it.
// Concurrent misses for the same key share one computation. Degraded pages
// are returned but not stored, so recovery shows up immediately. A page
// computed against a newer generation than k names is not stored either.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	k Key,
	computeFn func() (*executor.Page, error),
) (*executor.Page, bool, error) {
	if page, ok := c.Get(ctx, k); ok {
		return page, true, nil
	}
	key := BuildKey(k)
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		page, err := computeFn()
		if err != nil {
			return nil, err
		}
		if !page.Degraded && page.Generation == k.Generation {
			c.Set(ctx, k, page)
		}
		return page, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*executor.Page), false, nil
}

func (c *QueryCache) Invalidate(ctx context.Context) error {
	pattern := keyPrefix + "*"
	deleted, err := c.store.FlushByPattern(ctx, pattern)
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidate", "keys_deleted", deleted)
	return nil
}

// Available reports whether the cache is currently talking to its store.
func (c *QueryCache) Available() bool {
	return c.breaker.State() != resilience.StateOpen
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// BuildKey hashes the key fields. Filters are normalized first so equal
// filter sets share entries.
func BuildKey(k Key) string {
	f := k.Filters.Normalize()
	kinds := make([]string, len(f.SourceKinds))
	for i, s := range f.SourceKinds {
		kinds[i] = string(s)
	}
	raw := strings.Join([]string{
		k.Query,
		"lang=" + strings.Join(f.Languages, ","),
		"source=" + strings.Join(kinds, ","),
		"tag=" + strings.Join(f.Tags, ","),
		"cursor=" + k.Cursor,
		fmt.Sprintf("limit=%d", k.Limit),
		fmt.Sprintf("gen=%d", k.Generation),
	}, "|")
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}
