package out

import (
	"context"
	"time"
)

// ReservedItem is one leased unit of work handed to a worker by Queue.Reserve.
type ReservedItem struct {
	ID         string
	Payload    []byte
	Priority   int
	Attempts   int
	DedupKey   string
}

// RetryPolicy controls how Fail computes the next visibility time and
// whether the item dead-letters once attempts are exhausted (§4.4).
type RetryPolicy struct {
	Retryable   bool
	MaxAttempts int
	BackoffBase time.Duration
}

// QueueStats backs the peek_stats operation and GET /queue (§4.4, §6).
type QueueStats struct {
	Pending    int64
	Processing int64
	Dead       int64
}

// Queue is the durable, leased work queue shared by C4 (NotificationQueue)
// and C6 (AIProcessingQueue) — both are instances of the same engine with
// different payload types and worker pool sizing (§4.6).
type Queue interface {
	// Enqueue is idempotent on dedupKey; a re-enqueue raises priority to the
	// max of existing and new rather than creating a duplicate item (§4.4).
	Enqueue(ctx context.Context, dedupKey string, priority int, payload []byte) error
	Reserve(ctx context.Context, worker string, n int, lease time.Duration) ([]ReservedItem, error)
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id string, cause error, policy RetryPolicy) error
	PeekStats(ctx context.Context) (QueueStats, error)
	// ListDead backs the admin dead-letter inspection surface.
	ListDead(ctx context.Context, limit int) ([]ReservedItem, error)
}
