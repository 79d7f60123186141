package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Kind string

const (
	KindRead  Kind = "read"
	KindWrite Kind = "write"
)

// Config holds the per-user bucket rates plus the process-wide daily ceiling,
// all overridable via RATE_READ_PER_SEC / RATE_WRITE_PER_SEC (§6).
type Config struct {
	ReadPerSecond  int
	ReadBurst      int
	WritePerSecond int
	WriteBurst     int
	DailyCeiling   int
}

func DefaultConfig() *Config {
	return &Config{
		ReadPerSecond:  5,
		ReadBurst:      5,
		WritePerSecond: 5,
		WriteBurst:     5,
		DailyCeiling:   100000,
	}
}

// Result is the outcome of Acquire: either admitted, or a delay until the
// next token is expected — acquire never blocks past the caller's deadline
// and never fails outright (§4.1).
type Result struct {
	OK           bool
	RetryAfterMs int64
}

// RateLimiter implements C1: independent read/write token buckets per user,
// backed by SlidingWindowLimiter, plus one global daily ceiling bucket
// shared by the whole process. The daily window holds on the Redis path;
// the in-process fallback bucket refills DailyCeiling tokens per second, so
// without Redis the global ceiling is per second, not per day.
type RateLimiter struct {
	cfg    *Config
	read   *SlidingWindowLimiter
	write  *SlidingWindowLimiter
	global *SlidingWindowLimiter
}

func NewRateLimiter(redisClient *redis.Client, cfg *Config) *RateLimiter {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	global := NewSlidingWindowLimiter(redisClient, cfg.DailyCeiling, 0)
	global.window = 24 * time.Hour
	return &RateLimiter{
		cfg:    cfg,
		read:   NewSlidingWindowLimiter(redisClient, cfg.ReadPerSecond, cfg.ReadBurst),
		write:  NewSlidingWindowLimiter(redisClient, cfg.WritePerSecond, cfg.WriteBurst),
		global: global,
	}
}

// Acquire implements acquire(user, kind) -> {ok | retry_after_ms}. It never
// blocks longer than deadline: callers that want to wait do so themselves
// using the returned RetryAfterMs, bounded by their own deadline.
func (r *RateLimiter) Acquire(ctx context.Context, userID string, kind Kind) Result {
	bucket := r.read
	if kind == KindWrite {
		bucket = r.write
	}

	if ok, wait := bucket.Allow(ctx, string(kind)+":"+userID); !ok {
		return Result{OK: false, RetryAfterMs: wait.Milliseconds()}
	}
	if ok, wait := r.global.Allow(ctx, "global"); !ok {
		return Result{OK: false, RetryAfterMs: wait.Milliseconds()}
	}
	return Result{OK: true}
}

// AcquireWithWait retries Acquire until admitted or maxWait elapses.
func (r *RateLimiter) AcquireWithWait(ctx context.Context, userID string, kind Kind, maxWait time.Duration) Result {
	deadline := time.Now().Add(maxWait)
	for {
		res := r.Acquire(ctx, userID, kind)
		if res.OK {
			return res
		}
		wait := time.Duration(res.RetryAfterMs) * time.Millisecond
		if time.Now().Add(wait).After(deadline) {
			return res
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return Result{OK: false}
		}
	}
}
