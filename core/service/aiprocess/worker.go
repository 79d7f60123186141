// Package aiprocess implements the AIProcessingQueue (C6) worker: take a
// reserved task, extract entities, resolve a project, persist the mapping,
// and hand off to the LabelReflector (C8).
package aiprocess

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-pkgz/pool"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"mailgrouper/core/domain"
	"mailgrouper/core/port/out"
	"mailgrouper/core/service/resolver"
	"mailgrouper/internal/lock"
	"mailgrouper/pkg/apperr"
)

const maxConcurrentExtractions = 4

// extractTaskEnvelope mirrors core/service/ingest's wire shape exactly —
// the message is fetched once, upstream, and carried through the queue.
type extractTaskEnvelope struct {
	Task    domain.ProcessingTask `json:"task"`
	Message *domain.Message       `json:"message"`
}

type Worker struct {
	processing  out.Queue
	reflection  out.Queue
	extractor   out.EntityExtractor
	resolver    *resolver.Resolver
	projects    out.ProjectRepository
	mappings    out.MappingRepository
	attachments out.AttachmentRepository
	snaps       out.MessageRepository
	threadLock  *lock.KeyedMutex
	threadDLock *lock.RedisLock
	log         zerolog.Logger

	lease       time.Duration
	maxAttempts int
}

// threadLockTTL bounds how long a worker may hold the distributed half of
// the per-(user, thread_id) lock. Generous relative to a single extraction
// call so a slow AI provider round-trip never loses the lock mid-resolve,
// but still well short of forever if a worker dies holding it.
const threadLockTTL = 2 * time.Minute

func New(processing, reflection out.Queue, extractor out.EntityExtractor, res *resolver.Resolver, projects out.ProjectRepository, mappings out.MappingRepository, attachments out.AttachmentRepository, snaps out.MessageRepository, redisClient *redis.Client, maxAttempts int, log zerolog.Logger) *Worker {
	return &Worker{
		processing:  processing,
		reflection:  reflection,
		extractor:   extractor,
		resolver:    res,
		projects:    projects,
		mappings:    mappings,
		attachments: attachments,
		snaps:       snaps,
		threadLock:  lock.NewKeyedMutex(),
		threadDLock: lock.NewRedisLock(redisClient, "threadlock"),
		lease:       60 * time.Second,
		maxAttempts: maxAttempts,
		log:         log.With().Str("component", "aiprocess").Logger(),
	}
}

// itemWorker adapts Worker.process to go-pkgz/pool's Worker interface so a
// reserved batch fans out across a small concurrent pool instead of running
// item-by-item — the teacher's own worker-pool pattern
// (adapter/in/worker/worker_pool.go), scoped down to this queue's payload
// type. Thread-level serialization (§4.7) happens inside process via
// threadLock, not here, so concurrent items are safe regardless of pool size.
type itemWorker struct{ w *Worker }

func (iw *itemWorker) Do(ctx context.Context, item out.ReservedItem) error {
	iw.w.process(ctx, item)
	return nil
}

func (w *Worker) RunOnce(ctx context.Context, workerName string, batchSize int) (int, error) {
	items, err := w.processing.Reserve(ctx, workerName, batchSize, w.lease)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}

	workers := maxConcurrentExtractions
	if len(items) < workers {
		workers = len(items)
	}
	p := pool.New[out.ReservedItem](workers, &itemWorker{w: w}).WithContinueOnError()
	if err := p.Go(ctx); err != nil {
		// Pool failed to start (e.g. bad worker count): fall back to serial
		// processing rather than dropping the reservation on the floor.
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
	var env extractTaskEnvelope
	if err := json.Unmarshal(item.Payload, &env); err != nil {
		w.log.Error().Err(err).Str("id", item.ID).Msg("malformed processing task, dead-lettering")
		_ = w.processing.Fail(ctx, item.ID, err, out.RetryPolicy{Retryable: false})
		return
	}

	var err error
	switch env.Task.Kind {
	case domain.TaskExtract, domain.TaskGroupBatch, domain.TaskRetroactiveScanSlice:
		// All three reduce to a per-message extract once the caller
		// (scheduler) has enumerated the message set. Resolution for a
		// single message is a critical section per (user, thread_id) so
		// two messages of the same thread, even from different pool
		// workers or different worker replicas, never score against each
		// other's half-written state (§4.7 "Concurrency"). The in-process
		// lock is taken first to serialize same-process pool workers
		// cheaply; the Redis lock then covers the cross-replica case and
		// is a no-op when no Redis client is configured.
		threadKey := env.Task.UserID + "|" + env.Task.ThreadID
		unlock := w.threadLock.Lock(threadKey)
		dunlock, derr := w.threadDLock.Acquire(ctx, threadKey, threadLockTTL)
		if derr != nil {
			unlock()
			err = derr
			break
		}
		err = w.handleExtract(ctx, env.Task, env.Message)
		dunlock()
		unlock()
	default:
		w.log.Warn().Str("kind", string(env.Task.Kind)).Msg("unknown task kind, dropping")
	}

	if err != nil {
		w.fail(ctx, item, err)
		return
	}
	if err := w.processing.Complete(ctx, item.ID); err != nil {
		w.log.Warn().Err(err).Str("id", item.ID).Msg("failed to ack processing item")
	}
}

func (w *Worker) handleExtract(ctx context.Context, task domain.ProcessingTask, msg *domain.Message) error {
	entities, err := w.extractor.Extract(ctx, out.ExtractionInput{
		Subject:     msg.Subject,
		BodyText:    msg.BodyText,
		SenderName:  msg.From.Name,
		SenderEmail: msg.From.Mailbox,
	})
	if err != nil {
		return err
	}

	result, err := w.resolver.Resolve(ctx, task.UserID, msg, entities)
	if err != nil {
		return err
	}

	var projectID string
	switch result.Action {
	case domain.ActionNewProject:
		p := domain.NewProject(uuid.NewString(), task.UserID, newProjectName(entities), entities.OverallConfidence)
		if entities.Address != nil {
			p.Address = domain.Address{Full: entities.Address.Full, Street: entities.Address.Street, Locality: entities.Address.Locality, Region: entities.Address.Region, Postcode: entities.Address.Postcode}
		}
		for _, jn := range entities.JobNumbers {
			p.AddJobNumber(jn.Value)
		}
		p.Client = domain.Contact{Name: entities.Client.Name, Email: entities.Client.Email, Phone: entities.Client.Phone, Company: entities.Client.Company}
		if err := w.projects.Create(ctx, p); err != nil {
			return err
		}
		projectID = p.ID
	case domain.ActionMultiProject:
		// Ambiguous across several candidates: leave unassigned for manual
		// triage; still persist the snapshot for audit and similarity use.
		projectID = ""
	default:
		projectID = result.ProjectID
	}

	mapping := domain.NewMapping(uuid.NewString(), task.UserID, msg.ProviderID, msg.ThreadID, projectID, result.Confidence, domain.AssociationAI)
	mapping.NeedsReview = result.NeedsReview
	mapping.SplitFromThread = result.SplitFromThread
	mapping.MultiProjectIDs = result.MultiProjectIDs
	if projectID == "" {
		mapping.Active = false
		mapping.NeedsReview = true
	}
	if len(result.MultiProjectIDs) > 0 {
		w.log.Info().Str("message_id", msg.ProviderID).Strs("candidate_project_ids", result.MultiProjectIDs).Msg("multi_project_detected")
	}
	if err := w.mappings.ResolveMessage(ctx, mapping); err != nil {
		return err
	}

	if projectID != "" {
		if err := w.projects.RecomputeCounters(ctx, task.UserID, projectID); err != nil {
			w.log.Warn().Err(err).Str("project_id", projectID).Msg("counter recompute failed")
		}
	}

	for i := range msg.Attachments {
		msg.Attachments[i].MessageID = msg.ProviderID
		msg.Attachments[i].ProjectID = projectID
		if err := w.attachments.Save(ctx, &msg.Attachments[i]); err != nil {
			w.log.Warn().Err(err).Msg("attachment save failed")
		}
	}

	if w.snaps != nil {
		snap := &domain.MessageSnapshot{
			MessageID:   msg.ProviderID,
			ThreadID:    msg.ThreadID,
			ProjectID:   projectID,
			Subject:     msg.Subject,
			SenderEmail: msg.From.Mailbox,
			Snippet:     msg.Snippet,
			LabelIDs:    msg.LabelIDs,
		}
		if err := w.snaps.Save(ctx, snap); err != nil {
			w.log.Warn().Err(err).Msg("message snapshot save failed")
		}
	}

	if projectID != "" {
		payload, err := json.Marshal(domain.ReflectionTask{Op: domain.ReflectionApply, UserID: task.UserID, ProjectID: projectID, MessageID: msg.ProviderID, ThreadID: msg.ThreadID})
		if err != nil {
			return err
		}
		dedup := task.UserID + "|" + msg.ProviderID + "|reflect"
		if err := w.reflection.Enqueue(ctx, dedup, 5, payload); err != nil {
			return err
		}
	}

	return nil
}

func newProjectName(e *domain.ExtractedEntities) string {
	if len(e.ProjectNames) > 0 {
		return e.ProjectNames[0].Value
	}
	if e.Address != nil && e.Address.Full != "" {
		return e.Address.Full
	}
	return "Unnamed project"
}

func (w *Worker) fail(ctx context.Context, item out.ReservedItem, err error) {
	appErr := apperr.AsAppError(err)
	retryable := apperr.IsRetryable(err)
	backoffBase := time.Second
	if appErr.Code == apperr.CodeRateLimited {
		if ms, ok := appErr.Details["retry_after_ms"].(int64); ok {
			backoffBase = time.Duration(ms) * time.Millisecond
		}
	}
	_ = w.processing.Fail(ctx, item.ID, err, out.RetryPolicy{
		Retryable:   retryable,
		MaxAttempts: w.maxAttempts,
		BackoffBase: backoffBase,
	})
}
