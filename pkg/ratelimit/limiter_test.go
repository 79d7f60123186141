package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestSlidingWindowLimiterAdmitsUpToBurstThenRefuses(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := NewSlidingWindowLimiter(client, 2, 0)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if ok, _ := l.Allow(ctx, "user-1"); !ok {
			t.Fatalf("expected request %d to be admitted", i)
		}
	}
	if ok, wait := l.Allow(ctx, "user-1"); ok {
		t.Fatal("expected third request within the window to be refused")
	} else if wait <= 0 {
		t.Fatal("expected a positive retry-after wait")
	}
}

func TestSlidingWindowLimiterNilClientUsesLocalTokenBucket(t *testing.T) {
	l := NewSlidingWindowLimiter(nil, 1, 1)
	ctx := context.Background()

	if ok, _ := l.Allow(ctx, "user-1"); !ok {
		t.Fatal("expected first request to be admitted from a full bucket")
	}
	if ok, _ := l.Allow(ctx, "user-1"); !ok {
		t.Fatal("expected second request to be admitted (burst of 1 on top of rate of 1)")
	}
	if ok, wait := l.Allow(ctx, "user-1"); ok {
		t.Fatal("expected the bucket to be exhausted after rate+burst requests")
	} else if wait <= 0 {
		t.Fatal("expected a positive retry-after wait once exhausted")
	}
}

func TestSlidingWindowLimiterLocalBucketRefillsOverTime(t *testing.T) {
	l := NewSlidingWindowLimiter(nil, 10, 0)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if ok, _ := l.Allow(ctx, "user-1"); !ok {
			t.Fatalf("expected request %d to be admitted from a fresh bucket", i)
		}
	}
	if ok, _ := l.Allow(ctx, "user-1"); ok {
		t.Fatal("expected bucket to be exhausted")
	}

	b := l.localBuckets["user-1"]
	b.updatedAt = b.updatedAt.Add(-200 * time.Millisecond)
	if ok, _ := l.Allow(ctx, "user-1"); !ok {
		t.Fatal("expected at least one token to have refilled after 200ms at rate 10/s")
	}
}

func TestSlidingWindowLimiterLocalBucketsAreIndependentPerKey(t *testing.T) {
	l := NewSlidingWindowLimiter(nil, 1, 0)
	ctx := context.Background()

	if ok, _ := l.Allow(ctx, "user-1"); !ok {
		t.Fatal("expected user-1's first request to be admitted")
	}
	if ok, _ := l.Allow(ctx, "user-1"); ok {
		t.Fatal("expected user-1's second request to be refused")
	}
	if ok, _ := l.Allow(ctx, "user-2"); !ok {
		t.Fatal("expected user-2's bucket to be independent of user-1's")
	}
}
