// Package reflector implements the LabelReflector (C8, §4.8): idempotently
// applying a resolved project's label back onto the provider message or
// thread. Label-state bookkeeping (which project maps to which provider
// label id) is an in-memory cache held by each Reflector (labelByID); it is
// not persisted.
package reflector

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mailgrouper/core/domain"
	"mailgrouper/core/port/out"
	"mailgrouper/pkg/apperr"
)

// systemLabelPrefixes are Gmail/IMAP reserved labels the reflector must
// never create, rename, or remove (§4.8 "refuses system label deletion").
var systemLabelPrefixes = []string{"INBOX", "SENT", "DRAFT", "TRASH", "SPAM", "CATEGORY_", "UNREAD", "STARRED", "IMPORTANT"}

func isSystemLabel(name string) bool {
	upper := strings.ToUpper(name)
	for _, p := range systemLabelPrefixes {
		if strings.HasPrefix(upper, p) {
			return true
		}
	}
	return false
}

type Reflector struct {
	queue    out.Queue
	provider out.MailProvider
	projects out.ProjectRepository
	mappings out.MappingRepository
	log      zerolog.Logger

	lease       time.Duration
	maxAttempts int
	batchMax    int

	mu        sync.Mutex
	labelByID map[string]string // "userID|projectID" -> provider label id
}

func New(queue out.Queue, provider out.MailProvider, projects out.ProjectRepository, mappings out.MappingRepository, maxAttempts, batchMax int, log zerolog.Logger) *Reflector {
	return &Reflector{
		queue:       queue,
		provider:    provider,
		projects:    projects,
		mappings:    mappings,
		lease:       30 * time.Second,
		maxAttempts: maxAttempts,
		batchMax:    batchMax,
		labelByID:   make(map[string]string),
		log:         log.With().Str("component", "reflector").Logger(),
	}
}

func (r *Reflector) RunOnce(ctx context.Context, workerName string, batchSize int) (int, error) {
	items, err := r.queue.Reserve(ctx, workerName, batchSize, r.lease)
	if err != nil {
		return 0, err
	}
	for _, item := range items {
		r.process(ctx, item)
	}
	return len(items), nil
}

func (r *Reflector) process(ctx context.Context, item out.ReservedItem) {
	var task domain.ReflectionTask
	if err := json.Unmarshal(item.Payload, &task); err != nil {
		w := apperr.AsAppError(err)
		_ = r.queue.Fail(ctx, item.ID, w, out.RetryPolicy{Retryable: false})
		return
	}

	var err error
	switch task.Op {
	case domain.ReflectionEnsureLabel:
		_, err = r.ensureLabel(ctx, task.UserID, task.ProjectID)
	case domain.ReflectionApply:
		err = r.apply(ctx, task)
	case domain.ReflectionApplyThread:
		err = r.applyThread(ctx, task)
	case domain.ReflectionRemove:
		err = r.remove(ctx, task)
	default:
		r.log.Warn().Str("op", string(task.Op)).Msg("unknown reflection op, dropping")
	}

	if err != nil {
		r.fail(ctx, item, task, err)
		return
	}
	if err := r.queue.Complete(ctx, item.ID); err != nil {
		r.log.Warn().Err(err).Str("id", item.ID).Msg("failed to ack reflection item")
	}
}

// ensureLabel is idempotent: it reuses a cached or provider-discovered label
// before ever calling CreateLabel (§4.8 "ensure_label ... idempotent").
func (r *Reflector) ensureLabel(ctx context.Context, userID, projectID string) (string, error) {
	cacheKey := userID + "|" + projectID
	r.mu.Lock()
	if id, ok := r.labelByID[cacheKey]; ok {
		r.mu.Unlock()
		return id, nil
	}
	r.mu.Unlock()

	project, err := r.projects.Get(ctx, userID, projectID)
	if err != nil {
		return "", err
	}
	labelName := labelNameFor(project)

	existing, err := r.provider.ListLabels(ctx, userID)
	if err != nil {
		return "", err
	}
	for _, l := range existing {
		if strings.EqualFold(l.Name, labelName) {
			r.cacheLabel(cacheKey, l.ID)
			return l.ID, nil
		}
	}

	created, err := r.provider.CreateLabel(ctx, userID, labelName)
	if err != nil {
		return "", err
	}
	r.cacheLabel(cacheKey, created.ID)
	return created.ID, nil
}

func (r *Reflector) cacheLabel(key, id string) {
	r.mu.Lock()
	r.labelByID[key] = id
	r.mu.Unlock()
}

func labelNameFor(p *domain.Project) string {
	return "Projects/" + p.Name
}

func (r *Reflector) apply(ctx context.Context, task domain.ReflectionTask) error {
	labelID, err := r.ensureLabel(ctx, task.UserID, task.ProjectID)
	if err != nil {
		return err
	}
	if err := r.provider.ModifyMessage(ctx, task.UserID, task.MessageID, []string{labelID}, nil); err != nil {
		return err
	}
	return r.mappings.MarkReflectionPending(ctx, task.UserID, task.MessageID, false)
}

func (r *Reflector) applyThread(ctx context.Context, task domain.ReflectionTask) error {
	labelID, err := r.ensureLabel(ctx, task.UserID, task.ProjectID)
	if err != nil {
		return err
	}
	listed, err := r.provider.ListMessages(ctx, task.UserID, out.ListQuery{Query: "threadId:" + task.ThreadID, PageSize: r.batchMax})
	if err != nil {
		return err
	}
	if len(listed.MessageIDs) == 0 {
		return nil
	}
	ids := listed.MessageIDs
	if len(ids) > r.batchMax {
		ids = ids[:r.batchMax]
	}
	return r.provider.BatchModify(ctx, task.UserID, ids, []string{labelID}, nil)
}

func (r *Reflector) remove(ctx context.Context, task domain.ReflectionTask) error {
	project, err := r.projects.Get(ctx, task.UserID, task.ProjectID)
	if err != nil {
		return err
	}
	if isSystemLabel(project.Name) {
		return apperr.BadRequest("refusing to remove a system label")
	}
	labelID, err := r.ensureLabel(ctx, task.UserID, task.ProjectID)
	if err != nil {
		return err
	}
	return r.provider.ModifyMessage(ctx, task.UserID, task.MessageID, nil, []string{labelID})
}

func (r *Reflector) fail(ctx context.Context, item out.ReservedItem, task domain.ReflectionTask, err error) {
	appErr := apperr.AsAppError(err)
	retryable := apperr.IsRetryable(err)
	if !retryable || item.Attempts+1 >= r.maxAttempts {
		if task.MessageID != "" {
			_ = r.mappings.MarkReflectionPending(ctx, task.UserID, task.MessageID, true)
		}
	}
	_ = r.queue.Fail(ctx, item.ID, err, out.RetryPolicy{
		Retryable:   retryable,
		MaxAttempts: r.maxAttempts,
		BackoffBase: time.Second,
	})
}
