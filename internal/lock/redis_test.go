package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisLock(t *testing.T, prefix string) *RedisLock {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLock(client, prefix)
}

func TestRedisLockTryAcquireExcludesSecondHolder(t *testing.T) {
	l := newTestRedisLock(t, "joblock")
	ctx := context.Background()

	release, ok := l.TryAcquire(ctx, "watch-poll", time.Minute)
	if !ok {
		t.Fatal("expected first TryAcquire to succeed")
	}
	if _, ok := l.TryAcquire(ctx, "watch-poll", time.Minute); ok {
		t.Fatal("expected second TryAcquire to fail while lock is held")
	}
	release()
	if _, ok := l.TryAcquire(ctx, "watch-poll", time.Minute); !ok {
		t.Fatal("expected TryAcquire to succeed after release")
	}
}

func TestRedisLockNilClientAlwaysSucceeds(t *testing.T) {
	l := NewRedisLock(nil, "threadlock")
	release, ok := l.TryAcquire(context.Background(), "u1|t1", time.Minute)
	if !ok {
		t.Fatal("expected nil-client lock to fail open")
	}
	release()
}

func TestRedisLockAcquireSerializesConcurrentCallers(t *testing.T) {
	l := newTestRedisLock(t, "threadlock")
	var active int32
	var maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			release, err := l.Acquire(ctx, "u1|t1", time.Second)
			if err != nil {
				t.Errorf("acquire failed: %v", err)
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				max := atomic.LoadInt32(&maxActive)
				if n <= max || atomic.CompareAndSwapInt32(&maxActive, max, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			release()
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Fatalf("expected at most 1 concurrent holder, got %d", maxActive)
	}
}
