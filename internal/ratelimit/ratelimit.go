// Package ratelimit implements the fixed-window counter the rest of the
// fleet uses: an atomic Redis INCR+EXPIRE, falling back to an in-process
// sliding window deque whenever Redis is unreachable so a cache outage
// degrades rate limiting instead of taking the surface down with it.
package ratelimit

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/shopmindai/chatcore/internal/platform/metrics"
)

// Result is the outcome of a single Allow check.
type Result struct {
	Allowed           bool
	RetryAfterSeconds int
}

// maxFallbackKeys bounds the in-memory fallback's memory use; the
// least-recently-touched key is evicted once the cap is hit.
const maxFallbackKeys = 50_000

// Limiter is a fixed-window rate limiter backed by Redis with an
// in-memory fallback.
type Limiter struct {
	redis   redis.UniversalClient
	logger  *logrus.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	buckets  map[string]*list.Element
	lru      *list.List
}

type bucketEntry struct {
	key    string
	events []time.Time
}

// New builds a Limiter. client may be nil in tests that only exercise the
// in-memory fallback path.
func New(client redis.UniversalClient, logger *logrus.Logger, m *metrics.Metrics) *Limiter {
	return &Limiter{
		redis:   client,
		logger:  logger,
		metrics: m,
		buckets: make(map[string]*list.Element),
		lru:     list.New(),
	}
}

// Allow checks whether key may proceed under a limit-per-window policy.
// surface is used purely for the blocked-request metric label.
func (l *Limiter) Allow(ctx context.Context, surface, key string, limit int, window time.Duration) Result {
	if limit <= 0 || window <= 0 {
		return Result{Allowed: true}
	}

	if l.redis != nil {
		if res, ok := l.allowRedis(ctx, key, limit, window); ok {
			if !res.Allowed && l.metrics != nil {
				l.metrics.RateLimitBlocked.WithLabelValues(surface).Inc()
			}
			return res
		}
		if l.metrics != nil {
			l.metrics.EventBusFallback.Inc()
		}
		l.logger.WithField("key", key).Warn("ratelimit: redis unavailable, falling back to in-memory window")
	}

	res := l.allowMemory(key, limit, window)
	if !res.Allowed && l.metrics != nil {
		l.metrics.RateLimitBlocked.WithLabelValues(surface).Inc()
	}
	return res
}

func (l *Limiter) allowRedis(ctx context.Context, key string, limit int, window time.Duration) (Result, bool) {
	pipe := l.redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	ttl := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, false
	}

	current, err := incr.Result()
	if err != nil {
		return Result{}, false
	}
	remaining, err := ttl.Result()
	if err != nil {
		return Result{}, false
	}

	if remaining < 0 {
		l.redis.Expire(ctx, key, window)
		remaining = window
	}

	if current <= int64(limit) {
		return Result{Allowed: true}, true
	}

	retryAfter := int(remaining.Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	return Result{Allowed: false, RetryAfterSeconds: retryAfter}, true
}

func (l *Limiter) allowMemory(key string, limit int, window time.Duration) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-window)

	el, exists := l.buckets[key]
	var entry *bucketEntry
	if exists {
		entry = el.Value.(*bucketEntry)
		l.lru.MoveToFront(el)
	} else {
		entry = &bucketEntry{key: key}
		el = l.lru.PushFront(entry)
		l.buckets[key] = el
		l.evictIfNeeded()
	}

	pruned := entry.events[:0]
	for _, t := range entry.events {
		if t.After(cutoff) {
			pruned = append(pruned, t)
		}
	}
	entry.events = pruned

	if len(entry.events) < limit {
		entry.events = append(entry.events, now)
		return Result{Allowed: true}
	}

	retryAfter := int(entry.events[0].Add(window).Sub(now).Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	return Result{Allowed: false, RetryAfterSeconds: retryAfter}
}

// evictIfNeeded must be called with mu held.
func (l *Limiter) evictIfNeeded() {
	for l.lru.Len() > maxFallbackKeys {
		back := l.lru.Back()
		if back == nil {
			return
		}
		entry := back.Value.(*bucketEntry)
		delete(l.buckets, entry.key)
		l.lru.Remove(back)
	}
}
