package cache

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"riffline-calling/pkg/logger"
)

// MemoryCache implements an in-memory cache with TTL support
type MemoryCache struct {
	mu      sync.Mutex
	data    map[string]*cacheEntry
	ttl     time.Duration
	maxSize int
	clock   clock.Clock
}

// cacheEntry represents a single cache entry
type cacheEntry struct {
	value     any
	expiresAt time.Time
	createdAt time.Time
}

// NewMemoryCache creates a new in-memory cache driven by clk
func NewMemoryCache(defaultTTL time.Duration, maxSize int, clk clock.Clock) *MemoryCache {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryCache{
		data:    make(map[string]*cacheEntry),
		ttl:     defaultTTL,
		maxSize: maxSize,
		clock:   clk,
	}
}

// Set stores a value in the cache with TTL
func (mc *MemoryCache) Set(key string, value any, ttl time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if ttl == 0 {
		ttl = mc.ttl
	}

	if _, exists := mc.data[key]; !exists && mc.maxSize > 0 && len(mc.data) >= mc.maxSize {
		mc.evictOldest()
	}

	now := mc.clock.Now()
	mc.data[key] = &cacheEntry{
		value:     value,
		expiresAt: now.Add(ttl),
		createdAt: now,
	}
}

// Get retrieves a value from the cache
func (mc *MemoryCache) Get(key string) (any, bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	entry, exists := mc.data[key]
	if !exists {
		return nil, false
	}

	if mc.clock.Now().After(entry.expiresAt) {
		delete(mc.data, key)
		return nil, false
	}

	return entry.value, true
}

// Delete removes a value from the cache
func (mc *MemoryCache) Delete(key string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	delete(mc.data, key)
}

// Size returns the current number of entries in the cache
func (mc *MemoryCache) Size() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return len(mc.data)
}

// evictOldest removes the oldest entry from the cache
func (mc *MemoryCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range mc.data {
		if oldestKey == "" || entry.createdAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.createdAt
		}
	}

	if oldestKey != "" {
		delete(mc.data, oldestKey)
		logger.Debug("Cache entry evicted",
			zap.String("key", oldestKey),
			zap.Time("created_at", oldestTime),
		)
	}
}

// cleanupExpired removes expired entries from the cache
func (mc *MemoryCache) cleanupExpired() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := mc.clock.Now()
	expiredCount := 0

	for key, entry := range mc.data {
		if now.After(entry.expiresAt) {
			delete(mc.data, key)
			expiredCount++
		}
	}

	if expiredCount > 0 {
		logger.Debug("Expired cache entries cleaned up",
			zap.Int("count", expiredCount),
			zap.Int("remaining", len(mc.data)),
		)
	}
}

// StartCleanup starts a goroutine to clean up expired entries.
// Returns a stop function that cancels it.
func (mc *MemoryCache) StartCleanup(interval time.Duration) func() {
	stop := make(chan struct{})
	go func() {
		ticker := mc.clock.Ticker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				mc.cleanupExpired()
			case <-stop:
				return
			}
		}
	}()
	return func() { close(stop) }
}

// Typed is a MemoryCache view that stores a single value type
type Typed[T any] struct {
	cache  *MemoryCache
	prefix string
}

// NewTyped wraps a MemoryCache under a key prefix
func NewTyped[T any](mc *MemoryCache, prefix string) *Typed[T] {
	return &Typed[T]{cache: mc, prefix: prefix}
}

// Get returns the cached value for key
func (t *Typed[T]) Get(key string) (T, bool) {
	var zero T
	v, ok := t.cache.Get(t.prefix + key)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		logger.Error("Cache entry has unexpected type", zap.String("key", t.prefix+key))
		return zero, false
	}
	return typed, true
}

// Set stores value under key with the cache's default TTL
func (t *Typed[T]) Set(key string, value T) {
	t.cache.Set(t.prefix+key, value, 0)
}

// Delete removes key
func (t *Typed[T]) Delete(key string) {
	t.cache.Delete(t.prefix + key)
}
