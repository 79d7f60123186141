package lock

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisLock is a SET-NX/Lua-compare-and-delete distributed lock, used by the
// Scheduler to keep two worker replicas from running the same periodic job
// concurrently (§4.10: "every periodic job has ... a singleflight lock") and,
// with key prefix "threadlock", by the resolver's cross-process
// per-(user, thread_id) critical section (§4.7, §5). It mirrors
// pkg/ratelimit's pattern of a single atomic Lua script rather than a plain
// GET-then-DEL, so a lock never gets released by a different holder than the
// one that set it.
type RedisLock struct {
	redis  *redis.Client
	prefix string
}

// NewRedisLock builds a lock whose keys are namespaced under prefix so two
// independent callers (e.g. the Scheduler's job locks and the resolver's
// thread locks) never collide in the shared Redis keyspace.
func NewRedisLock(redisClient *redis.Client, prefix string) *RedisLock {
	return &RedisLock{redis: redisClient, prefix: prefix}
}

var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// TryAcquire attempts to take the lock for name without blocking, expiring
// automatically after ttl so a replica that dies mid-job never wedges the
// lock permanently. ok is false if another replica already holds it or the
// SETNX call fails. With no Redis client configured it always succeeds
// (single-process deployments rely on the caller only ever running one
// scheduler, per §4.10's scope note). The returned release func is a no-op
// when ok is false.
func (l *RedisLock) TryAcquire(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool) {
	if l.redis == nil {
		return func() {}, true
	}

	key := fmt.Sprintf("%s:%s", l.prefix, name)
	token := uuid.NewString()

	set, err := l.redis.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !set {
		return func() {}, false
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		releaseScript.Run(releaseCtx, l.redis, []string{key}, token)
	}, true
}

// Acquire blocks, retrying with jitter, until it takes the lock or ctx is
// done. Used by the resolver's per-(user, thread_id) critical section,
// which must wait its turn rather than skip a message (§4.7, §5). ttl bounds
// how long a holder may keep the lock so a crashed worker never wedges a
// thread forever.
func (l *RedisLock) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	for {
		if release, ok := l.TryAcquire(ctx, name, ttl); ok {
			return release, nil
		}
		wait := time.Duration(20+rand.Intn(30)) * time.Millisecond
		select {
		case <-ctx.Done():
			return func() {}, ctx.Err()
		case <-time.After(wait):
		}
	}
}
