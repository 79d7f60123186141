// Package ratelimit implements the per-user token-bucket rate limiting
// required by C1: separate read/write buckets plus a process-wide daily
// ceiling, backed by Redis so multiple workers share state.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SlidingWindowLimiter implements sliding-window rate limiting using a Redis
// sorted set, scored by request timestamp. A single Lua script performs the
// trim+count+admit atomically so concurrent workers never over-admit. When no
// Redis client is configured it falls back to localBucket, an in-process
// token bucket keyed by the same string Allow would otherwise hash into the
// sorted-set key, so single-process deployments still enforce the rate
// instead of admitting everything.
type SlidingWindowLimiter struct {
	redis     *redis.Client
	rate      int // requests per window
	window    time.Duration
	burstSize int

	localMu      sync.Mutex
	localBuckets map[string]*localBucket
}

// localBucket is a classic token bucket: tokens refill continuously at
// rate-per-second, capped at capacity, and Allow costs one token.
type localBucket struct {
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	updatedAt  time.Time
}

func (b *localBucket) allow(now time.Time) (bool, time.Duration) {
	elapsed := now.Sub(b.updatedAt).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.updatedAt = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := time.Duration((1 - b.tokens) / b.refillRate * float64(time.Second))
	return false, wait
}

func NewSlidingWindowLimiter(redisClient *redis.Client, requestsPerSecond, burstSize int) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		redis:        redisClient,
		rate:         requestsPerSecond,
		window:       time.Second,
		burstSize:    burstSize,
		localBuckets: make(map[string]*localBucket),
	}
}

var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local max_requests = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
	local count = redis.call('ZCARD', key)

	if count < max_requests then
		redis.call('ZADD', key, now, now .. '-' .. math.random())
		redis.call('PEXPIRE', key, window_ms * 2)
		return 1
	else
		local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
		if #oldest > 0 then
			return -(oldest[2] + window_ms - now)
		end
		return 0
	end
`)

// Allow reports whether a call is admitted now; if not, it returns the wait
// duration until the next token is expected to free up. On Redis failure it
// falls back to the same local token bucket used when no Redis client is
// configured at all, rather than failing open, so a flaky Redis connection
// never turns the limiter into a no-op.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string) (bool, time.Duration) {
	if l.redis == nil {
		return l.allowLocal(key)
	}

	now := time.Now()
	windowStart := now.Add(-l.window)
	redisKey := fmt.Sprintf("ratelimit:%s", key)

	result, err := slidingWindowScript.Run(ctx, l.redis, []string{redisKey},
		now.UnixMilli(),
		windowStart.UnixMilli(),
		l.rate+l.burstSize,
		l.window.Milliseconds(),
	).Int64()
	if err != nil {
		return l.allowLocal(key)
	}

	if result == 1 {
		return true, 0
	}
	if result < 0 {
		return false, time.Duration(-result) * time.Millisecond
	}
	return false, l.window
}

// allowLocal is the in-process token-bucket path, used whenever Redis isn't
// reachable. The bucket's capacity is rate+burst, matching the admission
// threshold the Lua script applies, and refills at rate tokens per second.
func (l *SlidingWindowLimiter) allowLocal(key string) (bool, time.Duration) {
	l.localMu.Lock()
	defer l.localMu.Unlock()

	b, ok := l.localBuckets[key]
	if !ok {
		b = &localBucket{
			tokens:     float64(l.rate + l.burstSize),
			capacity:   float64(l.rate + l.burstSize),
			refillRate: float64(l.rate),
			updatedAt:  time.Now(),
		}
		l.localBuckets[key] = b
	}
	return b.allow(time.Now())
}

// Debouncer prevents duplicate work within a time window; used for webhook
// idempotency (§6 POST /webhook/mail) with a local-map fallback when Redis
// is unavailable.
type Debouncer struct {
	redis    *redis.Client
	duration time.Duration
	local    map[string]time.Time
	mu       sync.RWMutex
}

func NewDebouncer(redisClient *redis.Client, duration time.Duration) *Debouncer {
	return &Debouncer{
		redis:    redisClient,
		duration: duration,
		local:    make(map[string]time.Time),
	}
}

func (d *Debouncer) IsDuplicate(ctx context.Context, key string) bool {
	redisKey := fmt.Sprintf("debounce:%s", key)

	if d.redis != nil {
		exists, err := d.redis.Exists(ctx, redisKey).Result()
		if err == nil {
			return exists > 0
		}
	}

	d.mu.RLock()
	lastTime, exists := d.local[key]
	d.mu.RUnlock()

	return exists && time.Since(lastTime) < d.duration
}

func (d *Debouncer) Mark(ctx context.Context, key string) {
	redisKey := fmt.Sprintf("debounce:%s", key)

	if d.redis != nil {
		d.redis.Set(ctx, redisKey, "1", d.duration)
	}

	d.mu.Lock()
	d.local[key] = time.Now()
	d.mu.Unlock()

	go d.cleanup()
}

func (d *Debouncer) cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for k, v := range d.local {
		if now.Sub(v) > d.duration*2 {
			delete(d.local, k)
		}
	}
}

// MemoryGuard clamps batch sizes to a configured ceiling, used for
// BATCH_MAX (§6) when building batch_modify / label-apply requests.
type MemoryGuard struct {
	MaxPayloadSize int
}

func NewMemoryGuard(maxPayloadSize int) *MemoryGuard {
	return &MemoryGuard{MaxPayloadSize: maxPayloadSize}
}

func (g *MemoryGuard) LimitSliceLen(sliceLen int) int {
	if sliceLen > g.MaxPayloadSize {
		return g.MaxPayloadSize
	}
	return sliceLen
}
