package domain

import "time"

type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
	QueueDead       QueueStatus = "dead"
)

// QueueItem is the persisted shape of a queued unit of work; the actual
// durable transport (Redis Streams) lives in internal/queue — this type is
// what peek_stats and the admin dead-letter surface report on.
type QueueItem struct {
	ID            string
	Queue         string
	Payload       []byte
	Priority      int // 1 highest ... 10 lowest
	Status        QueueStatus
	Attempts      int
	MaxAttempts   int
	NextVisibleAt time.Time
	ErrorSummary  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

const DefaultMaxAttempts = 3

// ProcessingTaskKind enumerates the AIProcessingQueue's payload kinds (§4.6).
type ProcessingTaskKind string

const (
	TaskExtract             ProcessingTaskKind = "extract"
	TaskGroupBatch          ProcessingTaskKind = "group_batch"
	TaskRetroactiveScanSlice ProcessingTaskKind = "retroactive_scan_slice"
)

type ProcessingTask struct {
	Kind      ProcessingTaskKind
	UserID    string
	MessageID string
	ThreadID  string
	// RetroactiveScan slice bounds, only set when Kind == TaskRetroactiveScanSlice.
	SliceStart time.Time
	SliceEnd   time.Time
}

// ReflectionOp enumerates the LabelReflector's operations (C8, §4.8).
type ReflectionOp string

const (
	ReflectionEnsureLabel  ReflectionOp = "ensure_label"
	ReflectionApply        ReflectionOp = "apply"
	ReflectionApplyThread  ReflectionOp = "apply_thread"
	ReflectionRemove       ReflectionOp = "remove"
)

// ReflectionTask is the AIProcessingQueue's hand-off to C8: apply the
// resolved project's label back onto the provider message/thread.
type ReflectionTask struct {
	Op        ReflectionOp
	UserID    string
	ProjectID string
	MessageID string
	ThreadID  string
}
