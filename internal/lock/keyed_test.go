package lock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	k := NewKeyedMutex()
	var counter int32
	var maxConcurrent int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("user-1|thread-1")
			defer unlock()

			n := atomic.AddInt32(&counter, 1)
			for {
				max := atomic.LoadInt32(&maxConcurrent)
				if n <= max || atomic.CompareAndSwapInt32(&maxConcurrent, max, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&counter, -1)
		}()
	}
	wg.Wait()

	if maxConcurrent != 1 {
		t.Fatalf("expected at most 1 concurrent holder of the same key, got %d", maxConcurrent)
	}
}

func TestKeyedMutexAllowsDifferentKeys(t *testing.T) {
	k := NewKeyedMutex()
	var wg sync.WaitGroup
	started := make(chan struct{}, 2)
	release := make(chan struct{})

	for _, key := range []string{"user-1|thread-1", "user-2|thread-9"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			unlock := k.Lock(key)
			defer unlock()
			started <- struct{}{}
			<-release
		}(key)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("different keys should not block each other")
		}
	}
	close(release)
	wg.Wait()
}

func TestKeyedMutexReleasesEntryAfterUnlock(t *testing.T) {
	k := NewKeyedMutex()
	unlock := k.Lock("a")
	unlock()

	k.mu.Lock()
	n := len(k.locks)
	k.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected lock map to be empty after release, got %d entries", n)
	}
}
