package aiprocess

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mailgrouper/core/domain"
	"mailgrouper/core/port/out"
	"mailgrouper/core/service/resolver"
)

type memQueue struct {
	items []out.ReservedItem
	dead  []out.ReservedItem
}

func (q *memQueue) Enqueue(ctx context.Context, dedupKey string, priority int, payload []byte) error {
	q.items = append(q.items, out.ReservedItem{ID: dedupKey, Payload: payload, Priority: priority, DedupKey: dedupKey})
	return nil
}
func (q *memQueue) Reserve(ctx context.Context, worker string, n int, lease time.Duration) ([]out.ReservedItem, error) {
	items := q.items
	q.items = nil
	return items, nil
}
func (q *memQueue) Complete(ctx context.Context, id string) error { return nil }
func (q *memQueue) Fail(ctx context.Context, id string, cause error, policy out.RetryPolicy) error {
	q.dead = append(q.dead, out.ReservedItem{ID: id})
	return nil
}
func (q *memQueue) PeekStats(ctx context.Context) (out.QueueStats, error) { return out.QueueStats{}, nil }
func (q *memQueue) ListDead(ctx context.Context, limit int) ([]out.ReservedItem, error) {
	return q.dead, nil
}

type stubExtractor struct {
	result *domain.ExtractedEntities
}

func (s *stubExtractor) Extract(ctx context.Context, in out.ExtractionInput) (*domain.ExtractedEntities, error) {
	return s.result, nil
}
func (s *stubExtractor) Compare(ctx context.Context, a, b out.SimilarityInput) (*domain.SimilarityResult, error) {
	return &domain.SimilarityResult{}, nil
}

type memProjects struct {
	created []*domain.Project
	list    []*domain.Project
}

func (p *memProjects) Get(ctx context.Context, userID, projectID string) (*domain.Project, error) {
	for _, pr := range p.list {
		if pr.ID == projectID {
			return pr, nil
		}
	}
	return nil, nil
}
func (p *memProjects) List(ctx context.Context, userID string, filter out.ProjectFilter) ([]*domain.Project, error) {
	return p.list, nil
}
func (p *memProjects) ListCandidates(ctx context.Context, userID string) ([]*domain.Project, error) {
	return p.list, nil
}
func (p *memProjects) Create(ctx context.Context, pr *domain.Project) error {
	p.created = append(p.created, pr)
	p.list = append(p.list, pr)
	return nil
}
func (p *memProjects) Update(ctx context.Context, pr *domain.Project) error { return nil }
func (p *memProjects) RecomputeCounters(ctx context.Context, userID, projectID string) error {
	return nil
}

type memMappings struct {
	saved []*domain.EmailProjectMapping
}

func (m *memMappings) Get(ctx context.Context, userID, messageID string) (*domain.EmailProjectMapping, error) {
	return nil, nil
}
func (m *memMappings) GetByThread(ctx context.Context, userID, threadID string) ([]*domain.EmailProjectMapping, error) {
	return nil, nil
}
func (m *memMappings) ListActiveByProject(ctx context.Context, userID, projectID string) ([]*domain.EmailProjectMapping, error) {
	return nil, nil
}
func (m *memMappings) ListSendersByProject(ctx context.Context, userID, projectID string) ([]string, error) {
	return nil, nil
}
func (m *memMappings) RecentByProject(ctx context.Context, userID, projectID string, limit int) ([]*domain.EmailProjectMapping, error) {
	return nil, nil
}
func (m *memMappings) ResolveMessage(ctx context.Context, mp *domain.EmailProjectMapping) error {
	m.saved = append(m.saved, mp)
	return nil
}
func (m *memMappings) ListNeedsReview(ctx context.Context, userID string) ([]*domain.EmailProjectMapping, error) {
	return nil, nil
}

func (m *memMappings) MarkReflectionPending(ctx context.Context, userID, messageID string, pending bool) error {
	return nil
}

func (m *memMappings) Deactivate(ctx context.Context, userID, messageID string) error { return nil }
func (m *memMappings) Repoint(ctx context.Context, userID string, messageIDs []string, newProjectID string) error {
	return nil
}

type memAttachments struct{ saved []*domain.AttachmentDescriptor }

func (a *memAttachments) Save(ctx context.Context, d *domain.AttachmentDescriptor) error {
	a.saved = append(a.saved, d)
	return nil
}
func (a *memAttachments) ListByMessage(ctx context.Context, userID, messageID string) ([]*domain.AttachmentDescriptor, error) {
	return nil, nil
}
func (a *memAttachments) ReassignProject(ctx context.Context, userID, messageID, projectID string) error {
	return nil
}

type memSnaps struct{ saved []*domain.MessageSnapshot }

func (s *memSnaps) Save(ctx context.Context, snap *domain.MessageSnapshot) error {
	s.saved = append(s.saved, snap)
	return nil
}
func (s *memSnaps) RecentByProject(ctx context.Context, userID, projectID string, limit int) ([]*domain.MessageSnapshot, error) {
	return nil, nil
}

func TestHandleExtractCreatesNewProjectWhenNoMatch(t *testing.T) {
	extractor := &stubExtractor{result: &domain.ExtractedEntities{
		ProjectNames:      []domain.ScoredProjectName{{Value: "Riverside Extension", Confidence: 0.9}},
		OverallConfidence: 0.85,
	}}
	projects := &memProjects{}
	mappings := &memMappings{}
	attachments := &memAttachments{}
	snaps := &memSnaps{}
	res := resolver.New(projects, mappings, snaps, &noopPatterns{}, extractor, resolver.DefaultThresholds())
	reflection := &memQueue{}
	processing := &memQueue{}

	w := New(processing, reflection, extractor, res, projects, mappings, attachments, snaps, nil, 3, zerolog.Nop())

	msg := &domain.Message{ProviderID: "m1", ThreadID: "t1", From: domain.EmailAddress{Mailbox: "a@b.com"}, Subject: "Riverside update"}
	task := domain.ProcessingTask{Kind: domain.TaskExtract, UserID: "u1", MessageID: "m1", ThreadID: "t1"}

	if err := w.handleExtract(context.Background(), task, msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(projects.created) != 1 {
		t.Fatalf("expected one project created, got %d", len(projects.created))
	}
	if len(mappings.saved) != 1 || mappings.saved[0].ProjectID != projects.created[0].ID {
		t.Fatalf("expected mapping pointing at created project")
	}
	if len(reflection.items) != 1 {
		t.Fatalf("expected one reflection task enqueued, got %d", len(reflection.items))
	}
	var rt domain.ReflectionTask
	if err := json.Unmarshal(reflection.items[0].Payload, &rt); err != nil {
		t.Fatalf("bad reflection payload: %v", err)
	}
	if rt.ProjectID != projects.created[0].ID {
		t.Fatalf("reflection task project id mismatch")
	}
}

type noopPatterns struct{}

func (n *noopPatterns) ListActive(ctx context.Context, userID string) ([]*domain.LearningPattern, error) {
	return nil, nil
}
func (n *noopPatterns) Upsert(ctx context.Context, p *domain.LearningPattern) error { return nil }
