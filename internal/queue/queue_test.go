package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"mailgrouper/core/port/out"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, "test", zerolog.Nop())
}

func TestQueueReserveReturnsHighestPriorityFirst(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "low", 9, []byte("low")); err != nil {
		t.Fatalf("enqueue low: %v", err)
	}
	if err := q.Enqueue(ctx, "high", 1, []byte("high")); err != nil {
		t.Fatalf("enqueue high: %v", err)
	}

	items, err := q.Reserve(ctx, "w1", 10, time.Minute)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if string(items[0].Payload) != "high" {
		t.Fatalf("expected highest-priority item first, got %q", items[0].Payload)
	}
}

// TestQueueReserveDoesNotBlockOnEmptyStream pins down the Block option: a
// Reserve call against a queue with nothing pending must return promptly
// instead of hanging on the first empty priority stream it reads.
func TestQueueReserveDoesNotBlockOnEmptyStream(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		_, _ = q.Reserve(ctx, "w1", 10, time.Minute)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Reserve blocked on an empty stream instead of returning immediately")
	}
}

func TestQueueCompleteAcksAndDropsMeta(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "k1", 5, []byte("payload")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	items, err := q.Reserve(ctx, "w1", 10, time.Minute)
	if err != nil || len(items) != 1 {
		t.Fatalf("reserve: %v, %d items", err, len(items))
	}
	if err := q.Complete(ctx, items[0].ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	stats, err := q.PeekStats(ctx)
	if err != nil {
		t.Fatalf("peek stats: %v", err)
	}
	if stats.Dead != 0 {
		t.Fatalf("expected no dead items, got %d", stats.Dead)
	}
}

func TestQueueFailDeadLettersNonRetryable(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "k1", 5, []byte("payload")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	items, err := q.Reserve(ctx, "w1", 10, time.Minute)
	if err != nil || len(items) != 1 {
		t.Fatalf("reserve: %v, %d items", err, len(items))
	}

	if err := q.Fail(ctx, items[0].ID, errFake, out.RetryPolicy{Retryable: false}); err != nil {
		t.Fatalf("fail: %v", err)
	}

	dead, err := q.ListDead(ctx, 10)
	if err != nil {
		t.Fatalf("list dead: %v", err)
	}
	if len(dead) != 1 {
		t.Fatalf("expected 1 dead-lettered item, got %d", len(dead))
	}
}

func TestQueueFailRetriesWithinMaxAttempts(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "k1", 5, []byte("payload")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	items, err := q.Reserve(ctx, "w1", 10, time.Minute)
	if err != nil || len(items) != 1 {
		t.Fatalf("reserve: %v, %d items", err, len(items))
	}

	policy := out.RetryPolicy{Retryable: true, MaxAttempts: 3, BackoffBase: time.Millisecond}
	if err := q.Fail(ctx, items[0].ID, errFake, policy); err != nil {
		t.Fatalf("fail: %v", err)
	}

	dead, err := q.ListDead(ctx, 10)
	if err != nil {
		t.Fatalf("list dead: %v", err)
	}
	if len(dead) != 0 {
		t.Fatalf("expected item to be retried, not dead-lettered, got %d dead", len(dead))
	}
}

var errFake = errTest("boom")

type errTest string

func (e errTest) Error() string { return string(e) }
