package ratelimit

import (
	"errors"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/closetmind/gateway/internal/config"
	"github.com/closetmind/gateway/internal/metrics"
	"github.com/closetmind/gateway/pkg/logger"
)

// ErrUnknownClass is returned when a request targets a limiter class that has
// no configured window/quota.
var ErrUnknownClass = errors.New("unknown limiter class")

// shardCount must be a power of two.
const shardCount = 32

// Decision is the outcome of a limiter check for one request.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns the whole seconds until the window resets, minimum 1.
func (d Decision) RetryAfter(now time.Time) int {
	secs := int(d.ResetAt.Sub(now).Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}

// bucket is a fixed-window counter for one composite key.
type bucket struct {
	count       int
	windowStart time.Time
	lastSeen    time.Time
}

type shard struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// Limiter is a sharded fixed-window request limiter. Each composite key owns
// one counter that resets wholesale when its window elapses. The scheme is
// O(1) memory per key but coarse at window edges: a burst straddling a
// boundary can admit up to twice the quota. That trade-off is accepted in
// exchange for not keeping a per-request log.
type Limiter struct {
	classes map[string]config.ClassLimit
	shards  [shardCount]*shard

	ttl     time.Duration
	cleanup time.Duration
	log     *logger.Logger

	// now is replaceable in tests.
	now func() time.Time

	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewLimiter creates a limiter from config and starts the stale-bucket
// cleanup goroutine. Call Stop during shutdown.
func NewLimiter(cfg *config.RateLimitConfig, log *logger.Logger) *Limiter {
	l := &Limiter{
		classes: cfg.Classes,
		ttl:     cfg.BucketTTL,
		cleanup: cfg.CleanupInterval,
		log:     log,
		now:     time.Now,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for i := range l.shards {
		l.shards[i] = &shard{buckets: make(map[string]*bucket)}
	}

	go l.cleanupBuckets()

	return l
}

// Stop stops the cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.done)
	})
	<-l.stopped
}

// Allow runs the fixed-window check for one request: fetch-or-create the
// bucket for the composite key, reset it if the window has elapsed, increment,
// and compare against the class quota. The whole sequence holds the shard
// lock, so two concurrent requests can never both claim the last slot.
func (l *Limiter) Allow(class, addr, userAgent string) (Decision, error) {
	limit, ok := l.classes[class]
	if !ok {
		return Decision{Allowed: true}, ErrUnknownClass
	}

	key := Key(class, addr, userAgent)
	sh := l.shards[xxhash.Sum64String(key)&(shardCount-1)]

	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := l.now()
	b, exists := sh.buckets[key]
	if !exists {
		b = &bucket{windowStart: now}
		sh.buckets[key] = b
	}

	if now.Sub(b.windowStart) > limit.Window {
		b.count = 0
		b.windowStart = now
	}

	b.count++
	b.lastSeen = now

	d := Decision{
		Limit:   limit.Max,
		ResetAt: b.windowStart.Add(limit.Window),
	}
	if b.count > limit.Max {
		return d, nil
	}

	d.Allowed = true
	d.Remaining = limit.Max - b.count
	return d, nil
}

// Len returns the number of tracked buckets across all shards.
func (l *Limiter) Len() int {
	total := 0
	for _, sh := range l.shards {
		sh.mu.Lock()
		total += len(sh.buckets)
		sh.mu.Unlock()
	}
	return total
}

// cleanupBuckets removes buckets idle longer than the TTL.
func (l *Limiter) cleanupBuckets() {
	ticker := time.NewTicker(l.cleanup)
	defer ticker.Stop()
	defer close(l.stopped)

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			now := l.now()
			removed := 0
			for _, sh := range l.shards {
				sh.mu.Lock()
				for key, b := range sh.buckets {
					if now.Sub(b.lastSeen) > l.ttl {
						delete(sh.buckets, key)
						removed++
					}
				}
				sh.mu.Unlock()
			}
			metrics.TrackedBuckets.Set(float64(l.Len()))
			if removed > 0 {
				l.log.Debug("cleaned up stale rate limit buckets", "removed", removed)
			}
		}
	}
}
