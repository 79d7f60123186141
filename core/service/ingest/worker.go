// Package ingest implements the NotificationQueue (C4) worker logic: take a
// reservation, call the ProviderClient to fetch+parse the message, and hand
// off a ProcessingTask to the AIProcessingQueue (C6).
package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-pkgz/pool"
	"github.com/rs/zerolog"

	"mailgrouper/core/domain"
	"mailgrouper/core/port/out"
	"mailgrouper/pkg/apperr"
)

const maxConcurrentFetches = 4

type Worker struct {
	notifications out.Queue
	processing    out.Queue
	provider      out.MailProvider
	log           zerolog.Logger

	lease       time.Duration
	maxAttempts int
}

func New(notifications, processing out.Queue, provider out.MailProvider, maxAttempts int, log zerolog.Logger) *Worker {
	return &Worker{
		notifications: notifications,
		processing:    processing,
		provider:      provider,
		lease:         30 * time.Second,
		maxAttempts:   maxAttempts,
		log:           log.With().Str("component", "ingest").Logger(),
	}
}

// itemWorker adapts Worker.process to go-pkgz/pool's Worker interface, the
// same fan-out shape the teacher uses for its own message pool
// (adapter/in/worker/worker_pool.go) — each reserved notification fetches
// independently, gated only by C1's rate limiter inside the provider client,
// so concurrent fetches are safe without any extra locking here.
type itemWorker struct{ w *Worker }

func (iw *itemWorker) Do(ctx context.Context, item out.ReservedItem) error {
	iw.w.process(ctx, item)
	return nil
}

// RunOnce drains up to batchSize reservations and returns the count handled,
// so the Scheduler's queue-drain tick can decide whether to keep looping.
func (w *Worker) RunOnce(ctx context.Context, workerName string, batchSize int) (int, error) {
	items, err := w.notifications.Reserve(ctx, workerName, batchSize, w.lease)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}

	workers := maxConcurrentFetches
	if len(items) < workers {
		workers = len(items)
	}
	p := pool.New[out.ReservedItem](workers, &itemWorker{w: w}).WithContinueOnError()
	if err := p.Go(ctx); err != nil {
		for _, item := range items {
			w.process(ctx, item)
		}
		return len(items), nil
	}
	for _, item := range items {
		p.Submit(item)
	}
	_ = p.Close(ctx)

	return len(items), nil
}

func (w *Worker) process(ctx context.Context, item out.ReservedItem) {
	var event domain.MessageEvent
	if err := json.Unmarshal(item.Payload, &event); err != nil {
		w.log.Error().Err(err).Str("id", item.ID).Msg("malformed message event, dead-lettering")
		_ = w.notifications.Fail(ctx, item.ID, err, out.RetryPolicy{Retryable: false})
		return
	}

	messageIDs := []string{event.MessageID}
	if event.MessageID == "" {
		// push-sourced event: enumerate new ids via history first (§4.3).
		hist, err := w.provider.GetHistory(ctx, event.UserID, event.HistoryCursor)
		if err != nil {
			w.fail(ctx, item, err)
			return
		}
		messageIDs = hist.NewMessageIDs
	}

	for _, msgID := range messageIDs {
		msg, err := w.provider.FetchMessage(ctx, event.UserID, msgID, true)
		if err != nil {
			w.fail(ctx, item, err)
			return
		}
		if err := w.handoff(ctx, event, msg); err != nil {
			w.fail(ctx, item, err)
			return
		}
	}

	if err := w.notifications.Complete(ctx, item.ID); err != nil {
		w.log.Warn().Err(err).Str("id", item.ID).Msg("failed to ack notification item")
	}
}

func (w *Worker) handoff(ctx context.Context, event domain.MessageEvent, msg *domain.Message) error {
	task := domain.ProcessingTask{
		Kind:      domain.TaskExtract,
		UserID:    event.UserID,
		MessageID: msg.ProviderID,
		ThreadID:  msg.ThreadID,
	}
	payload, err := json.Marshal(extractTaskEnvelope{Task: task, Message: msg})
	if err != nil {
		return err
	}
	dedup := event.UserID + "|" + msg.ProviderID + "|extract"
	return w.processing.Enqueue(ctx, dedup, 4, payload)
}

// extractTaskEnvelope carries the fetched+parsed message alongside the task
// descriptor so C6 doesn't need to re-fetch from the provider.
type extractTaskEnvelope struct {
	Task    domain.ProcessingTask `json:"task"`
	Message *domain.Message       `json:"message"`
}

func (w *Worker) fail(ctx context.Context, item out.ReservedItem, err error) {
	appErr := apperr.AsAppError(err)
	if appErr.Code == apperr.CodeAuthExpired {
		// In-flight items release back to pending without data loss (§5, E6);
		// no further fetch attempts happen until the user re-consents, which
		// the watch coordinator's poll path already guards against.
		_ = w.notifications.Fail(ctx, item.ID, err, out.RetryPolicy{Retryable: true, MaxAttempts: w.maxAttempts})
		return
	}
	retryable := apperr.IsRetryable(err)
	backoffBase := time.Second
	if appErr.Code == apperr.CodeRateLimited {
		if ms, ok := appErr.Details["retry_after_ms"].(int64); ok {
			backoffBase = time.Duration(ms) * time.Millisecond
		}
	}
	_ = w.notifications.Fail(ctx, item.ID, err, out.RetryPolicy{
		Retryable:   retryable,
		MaxAttempts: w.maxAttempts,
		BackoffBase: backoffBase,
	})
}
