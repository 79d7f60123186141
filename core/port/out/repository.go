package out

import (
	"context"
	"time"

	"mailgrouper/core/domain"
)

// UserRepository is the C11 Metastore's User slice.
type UserRepository interface {
	Get(ctx context.Context, userID string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Save(ctx context.Context, u *domain.User) error
	ListActive(ctx context.Context) ([]*domain.User, error)
}

// ProjectFilter narrows GET /projects results (§6).
type ProjectFilter struct {
	Status domain.ProjectStatus
}

// ProjectRepository is the C11 Metastore's Project slice.
type ProjectRepository interface {
	Get(ctx context.Context, userID, projectID string) (*domain.Project, error)
	List(ctx context.Context, userID string, filter ProjectFilter) ([]*domain.Project, error)
	ListCandidates(ctx context.Context, userID string) ([]*domain.Project, error)
	Create(ctx context.Context, p *domain.Project) error
	Update(ctx context.Context, p *domain.Project) error
	// RecomputeCounters recalculates EmailCount/LastEmailAt from active
	// mappings, restoring the §3 invariant after assign/unassign/merge/split.
	RecomputeCounters(ctx context.Context, userID, projectID string) error
}

// MappingRepository is the C11 Metastore's EmailProjectMapping slice.
type MappingRepository interface {
	Get(ctx context.Context, userID, messageID string) (*domain.EmailProjectMapping, error)
	GetByThread(ctx context.Context, userID, threadID string) ([]*domain.EmailProjectMapping, error)
	ListActiveByProject(ctx context.Context, userID, projectID string) ([]*domain.EmailProjectMapping, error)
	ListSendersByProject(ctx context.Context, userID, projectID string) ([]string, error)
	RecentByProject(ctx context.Context, userID, projectID string, limit int) ([]*domain.EmailProjectMapping, error)
	// ListNeedsReview returns every mapping flagged needs_review, including
	// unassigned multi_project_detected mappings (§4.7, §6), newest first.
	ListNeedsReview(ctx context.Context, userID string) ([]*domain.EmailProjectMapping, error)

	// ResolveMessage atomically persists a new mapping, deactivating any
	// prior active mapping for the same (user, message_id) first — the
	// single-transaction write the spec requires in §4.11.
	ResolveMessage(ctx context.Context, m *domain.EmailProjectMapping) error
	Deactivate(ctx context.Context, userID, messageID string) error
	Repoint(ctx context.Context, userID string, messageIDs []string, newProjectID string) error
	// MarkReflectionPending flags a mapping whose provider-side label
	// application exhausted its retries, per §4.8.
	MarkReflectionPending(ctx context.Context, userID, messageID string, pending bool) error
}

// AttachmentRepository is the C11 Metastore's Attachment slice.
type AttachmentRepository interface {
	Save(ctx context.Context, a *domain.AttachmentDescriptor) error
	ListByMessage(ctx context.Context, userID, messageID string) ([]*domain.AttachmentDescriptor, error)
	ReassignProject(ctx context.Context, userID, messageID, projectID string) error
}

// CorrectionRepository is the C9 CorrectionStore's persistence.
type CorrectionRepository interface {
	Append(ctx context.Context, c *domain.Correction) error
	ListUnprocessed(ctx context.Context, userID string, limit int) ([]*domain.Correction, error)
	MarkProcessed(ctx context.Context, id string) error
}

// PatternRepository is the C9 learning-pattern store.
type PatternRepository interface {
	ListActive(ctx context.Context, userID string) ([]*domain.LearningPattern, error)
	Upsert(ctx context.Context, p *domain.LearningPattern) error
}

// MessageRepository stores the audit-only MessageSnapshot projection and
// serves the similarity signal's sampling of recent project messages.
type MessageRepository interface {
	Save(ctx context.Context, s *domain.MessageSnapshot) error
	RecentByProject(ctx context.Context, userID, projectID string, limit int) ([]*domain.MessageSnapshot, error)
}

// SubscriptionRepository is the C3 WatchCoordinator's persistence.
type SubscriptionRepository interface {
	Get(ctx context.Context, userID string) (*domain.WatchSubscription, error)
	Save(ctx context.Context, s *domain.WatchSubscription) error
	ListExpiringBefore(ctx context.Context, cutoff time.Time) ([]*domain.WatchSubscription, error)
	ListAll(ctx context.Context) ([]*domain.WatchSubscription, error)
}
