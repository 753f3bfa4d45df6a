// Package cache provides a distributed read-through cache on top of Redis,
// used by surfaces whose reads are too hot for a per-process cache to help
// across more than one instance (see global.Surface.OnlineCount).
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/shopmindai/chatcore/internal/platform/metrics"
)

const (
	defaultTTL      = 5 * time.Minute
	maxTTL          = 24 * time.Hour
	lockTTL         = 30 * time.Second
	stampedeFactor  = 0.8 // probabilistic early expiration kicks in once the remaining TTL drops to 80% of the base TTL
	hotKeyThreshold = 100 // accesses before a key earns a TTL boost
)

// ErrCacheMiss is returned by Get when the key is absent or has been
// probabilistically expired early for stampede protection.
var ErrCacheMiss = errors.New("cache: miss")

// Manager implements caching on a shared Redis client: plain get/set,
// read-through loading with a distributed lock against stampedes, and
// TTL boosting for keys that are read often enough to be worth holding
// onto longer.
type Manager struct {
	client  redis.UniversalClient
	logger  *logrus.Logger
	metrics *metrics.Metrics

	hotKeys   map[string]*hotKeyStats
	hotKeysMu sync.RWMutex
}

type hotKeyStats struct {
	count      int64
	lastAccess time.Time
	ttlBoost   time.Duration
}

// Options configures one cache operation.
type Options struct {
	TTL             time.Duration
	Lock            bool
	StampedeProtect bool
}

// New builds a Manager and starts its hot-key decay loop, which the caller
// does not need to stop: it runs for the process lifetime alongside the
// client. m may be nil in tests that don't care about cache metrics.
func New(client redis.UniversalClient, logger *logrus.Logger, m *metrics.Metrics) *Manager {
	mgr := &Manager{
		client:  client,
		logger:  logger,
		metrics: m,
		hotKeys: make(map[string]*hotKeyStats),
	}
	go mgr.decayHotKeys()
	return mgr
}

// Get reads key into dest. Returns ErrCacheMiss if absent, or if
// StampedeProtect elected to treat a near-expiry hit as a miss.
func (m *Manager) Get(ctx context.Context, key string, dest interface{}, opts *Options) error {
	m.trackHotKey(key)

	val, err := m.client.Get(ctx, key).Result()
	if err == redis.Nil {
		m.recordMiss(key)
		return ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("cache: get: %w", err)
	}

	if opts != nil && opts.StampedeProtect {
		base := defaultTTL
		if opts.TTL > 0 {
			base = opts.TTL
		}
		ttl, _ := m.client.TTL(ctx, key).Result()
		if m.shouldRefreshEarly(ttl, base) {
			m.recordMiss(key)
			return ErrCacheMiss
		}
	}

	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return fmt.Errorf("cache: unmarshal: %w", err)
	}
	m.recordHit(key)
	return nil
}

// Set writes value under key with a TTL widened for hot keys.
func (m *Manager) Set(ctx context.Context, key string, value interface{}, opts *Options) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: marshal: %w", err)
	}

	pipe := m.client.Pipeline()
	pipe.Set(ctx, key, data, m.ttlFor(key, opts))
	if m.isHotKey(key) {
		pipe.ZAdd(ctx, "cache:hot_keys", redis.Z{Score: float64(time.Now().Unix()), Member: key})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache: set: %w", err)
	}
	return nil
}

// GetOrSet is a read-through cache: on miss it takes a short distributed
// lock (when opts.Lock is set) so that concurrent callers across every
// instance don't all run loader at once, double-checks the cache after
// acquiring the lock, then falls back to calling loader directly.
func (m *Manager) GetOrSet(ctx context.Context, key string, dest interface{}, loader func() (interface{}, error), opts *Options) error {
	if err := m.Get(ctx, key, dest, opts); err == nil {
		return nil
	}

	if opts != nil && opts.Lock {
		lockKey := "cache:lock:" + key
		locked, err := m.client.SetNX(ctx, lockKey, "1", lockTTL).Result()
		if err != nil {
			return fmt.Errorf("cache: acquire lock: %w", err)
		}
		if !locked {
			time.Sleep(100 * time.Millisecond)
			return m.Get(ctx, key, dest, opts)
		}
		defer m.client.Del(ctx, lockKey)

		if err := m.Get(ctx, key, dest, nil); err == nil {
			return nil
		}
	}

	value, err := loader()
	if err != nil {
		return fmt.Errorf("cache: loader: %w", err)
	}
	if err := m.Set(ctx, key, value, opts); err != nil {
		m.logger.WithError(err).Warn("cache: failed to store loaded value")
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: marshal loaded value: %w", err)
	}
	return json.Unmarshal(data, dest)
}

// Delete removes the given keys.
func (m *Manager) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := m.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache: delete: %w", err)
	}
	return nil
}

// InvalidatePattern deletes every key matching pattern, scanning in
// batches so it never blocks Redis the way KEYS would.
func (m *Manager) InvalidatePattern(ctx context.Context, pattern string) error {
	iter := m.client.Scan(ctx, 0, pattern, 100).Iterator()

	batch := make([]string, 0, 100)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 100 {
			if err := m.Delete(ctx, batch...); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := m.Delete(ctx, batch...); err != nil {
			return err
		}
	}
	return iter.Err()
}

func (m *Manager) trackHotKey(key string) {
	m.hotKeysMu.Lock()
	defer m.hotKeysMu.Unlock()

	stats, ok := m.hotKeys[key]
	if !ok {
		stats = &hotKeyStats{}
		m.hotKeys[key] = stats
	}
	stats.count++
	stats.lastAccess = time.Now()

	if stats.count > hotKeyThreshold {
		stats.ttlBoost = time.Duration(math.Min(
			float64(stats.count/hotKeyThreshold)*float64(time.Hour),
			float64(maxTTL),
		))
	}
}

func (m *Manager) isHotKey(key string) bool {
	m.hotKeysMu.RLock()
	defer m.hotKeysMu.RUnlock()
	stats, ok := m.hotKeys[key]
	return ok && stats.count > hotKeyThreshold
}

func (m *Manager) ttlFor(key string, opts *Options) time.Duration {
	ttl := defaultTTL
	if opts != nil && opts.TTL > 0 {
		ttl = opts.TTL
	}

	m.hotKeysMu.RLock()
	stats, ok := m.hotKeys[key]
	m.hotKeysMu.RUnlock()

	if ok && stats.ttlBoost > 0 {
		return ttl + stats.ttlBoost
	}
	return ttl
}

// shouldRefreshEarly implements probabilistic early expiration: as the
// remaining TTL shrinks past stampedeFactor of the base TTL (the TTL the
// caller asked for, or defaultTTL), the chance of treating the read as a
// miss (and refreshing) rises toward 1.
func (m *Manager) shouldRefreshEarly(ttl, base time.Duration) bool {
	if ttl <= 0 {
		return true
	}
	remainingRatio := float64(ttl) / float64(base)
	if remainingRatio > stampedeFactor {
		return false
	}
	probability := math.Pow(1-remainingRatio/stampedeFactor, 3)
	return rand.Float64() < probability
}

func (m *Manager) decayHotKeys() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		m.hotKeysMu.Lock()
		now := time.Now()
		for key, stats := range m.hotKeys {
			switch {
			case now.Sub(stats.lastAccess) > time.Hour:
				delete(m.hotKeys, key)
			case now.Sub(stats.lastAccess) > 10*time.Minute:
				stats.count /= 2
			}
		}
		m.hotKeysMu.Unlock()
	}
}

// recordHit and recordMiss feed the shared chatcore_cache_{hits,misses}_total
// collectors, labeled by the key's prefix (the segment before its first
// colon, e.g. "global" for "global:online_count") so /metrics can break
// down hit rate per cache consumer rather than one global number.
func (m *Manager) recordHit(key string) {
	if m.metrics == nil {
		return
	}
	m.metrics.CacheHits.WithLabelValues(keyPrefix(key)).Inc()
}

func (m *Manager) recordMiss(key string) {
	if m.metrics == nil {
		return
	}
	m.metrics.CacheMisses.WithLabelValues(keyPrefix(key)).Inc()
}

func keyPrefix(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return key
}
