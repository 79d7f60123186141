package reflector

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mailgrouper/core/domain"
	"mailgrouper/core/port/out"
)

type memQueue struct {
	items []out.ReservedItem
	failed []string
}

func (q *memQueue) Enqueue(ctx context.Context, dedupKey string, priority int, payload []byte) error {
	q.items = append(q.items, out.ReservedItem{ID: dedupKey, Payload: payload, DedupKey: dedupKey})
	return nil
}
func (q *memQueue) Reserve(ctx context.Context, worker string, n int, lease time.Duration) ([]out.ReservedItem, error) {
	items := q.items
	q.items = nil
	return items, nil
}
func (q *memQueue) Complete(ctx context.Context, id string) error { return nil }
func (q *memQueue) Fail(ctx context.Context, id string, cause error, policy out.RetryPolicy) error {
	q.failed = append(q.failed, id)
	return nil
}
func (q *memQueue) PeekStats(ctx context.Context) (out.QueueStats, error) { return out.QueueStats{}, nil }
func (q *memQueue) ListDead(ctx context.Context, limit int) ([]out.ReservedItem, error) { return nil, nil }

type fakeProvider struct {
	labels  []out.ProviderLabel
	created []string
	modified map[string][]string
}

func (p *fakeProvider) Profile(ctx context.Context, userID string) (*out.ProviderProfile, error) {
	return nil, nil
}
func (p *fakeProvider) ListMessages(ctx context.Context, userID string, q out.ListQuery) (*out.ListResult, error) {
	return &out.ListResult{MessageIDs: []string{"m1", "m2"}}, nil
}
func (p *fakeProvider) FetchMessage(ctx context.Context, userID, messageID string, includeBody bool) (*domain.Message, error) {
	return nil, nil
}
func (p *fakeProvider) ListLabels(ctx context.Context, userID string) ([]out.ProviderLabel, error) {
	return p.labels, nil
}
func (p *fakeProvider) CreateLabel(ctx context.Context, userID, name string) (*out.ProviderLabel, error) {
	p.created = append(p.created, name)
	l := out.ProviderLabel{ID: "label-" + name, Name: name, Type: "user"}
	p.labels = append(p.labels, l)
	return &l, nil
}
func (p *fakeProvider) ModifyMessage(ctx context.Context, userID, messageID string, add, remove []string) error {
	if p.modified == nil {
		p.modified = make(map[string][]string)
	}
	p.modified[messageID] = add
	return nil
}
func (p *fakeProvider) BatchModify(ctx context.Context, userID string, messageIDs []string, add, remove []string) error {
	return nil
}
func (p *fakeProvider) StartWatch(ctx context.Context, userID string, topic string, labelFilter []string) (*out.WatchResult, error) {
	return nil, nil
}
func (p *fakeProvider) StopWatch(ctx context.Context, userID string) error { return nil }
func (p *fakeProvider) GetHistory(ctx context.Context, userID, sinceCursor string) (*out.HistoryResult, error) {
	return nil, nil
}

type fakeProjects struct{ p *domain.Project }

func (f *fakeProjects) Get(ctx context.Context, userID, projectID string) (*domain.Project, error) {
	return f.p, nil
}
func (f *fakeProjects) List(ctx context.Context, userID string, filter out.ProjectFilter) ([]*domain.Project, error) {
	return nil, nil
}
func (f *fakeProjects) ListCandidates(ctx context.Context, userID string) ([]*domain.Project, error) {
	return nil, nil
}
func (f *fakeProjects) Create(ctx context.Context, p *domain.Project) error { return nil }
func (f *fakeProjects) Update(ctx context.Context, p *domain.Project) error { return nil }
func (f *fakeProjects) RecomputeCounters(ctx context.Context, userID, projectID string) error {
	return nil
}

type fakeMappings struct{ pending map[string]bool }

func (m *fakeMappings) Get(ctx context.Context, userID, messageID string) (*domain.EmailProjectMapping, error) {
	return nil, nil
}
func (m *fakeMappings) GetByThread(ctx context.Context, userID, threadID string) ([]*domain.EmailProjectMapping, error) {
	return nil, nil
}
func (m *fakeMappings) ListActiveByProject(ctx context.Context, userID, projectID string) ([]*domain.EmailProjectMapping, error) {
	return nil, nil
}
func (m *fakeMappings) ListSendersByProject(ctx context.Context, userID, projectID string) ([]string, error) {
	return nil, nil
}
func (m *fakeMappings) RecentByProject(ctx context.Context, userID, projectID string, limit int) ([]*domain.EmailProjectMapping, error) {
	return nil, nil
}
func (m *fakeMappings) ResolveMessage(ctx context.Context, mp *domain.EmailProjectMapping) error {
	return nil
}
func (m *fakeMappings) ListNeedsReview(ctx context.Context, userID string) ([]*domain.EmailProjectMapping, error) {
	return nil, nil
}

func (m *fakeMappings) Deactivate(ctx context.Context, userID, messageID string) error { return nil }
func (m *fakeMappings) Repoint(ctx context.Context, userID string, messageIDs []string, newProjectID string) error {
	return nil
}
func (m *fakeMappings) MarkReflectionPending(ctx context.Context, userID, messageID string, pending bool) error {
	if m.pending == nil {
		m.pending = make(map[string]bool)
	}
	m.pending[messageID] = pending
	return nil
}

func TestApplyCreatesLabelOnceAndModifiesMessage(t *testing.T) {
	provider := &fakeProvider{}
	projects := &fakeProjects{p: &domain.Project{ID: "p1", Name: "Maple House"}}
	mappings := &fakeMappings{}
	q := &memQueue{}
	r := New(q, provider, projects, mappings, 3, 50, zerolog.Nop())

	task := domain.ReflectionTask{Op: domain.ReflectionApply, UserID: "u1", ProjectID: "p1", MessageID: "m1", ThreadID: "t1"}
	payload, _ := json.Marshal(task)
	q.items = append(q.items, out.ReservedItem{ID: "r1", Payload: payload})

	n, err := r.RunOnce(context.Background(), "w1", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 item processed, got %d", n)
	}
	if len(provider.created) != 1 {
		t.Fatalf("expected one label created, got %d", len(provider.created))
	}
	if provider.modified["m1"] == nil {
		t.Fatalf("expected message m1 to be modified")
	}

	// Second apply on a different message reuses the cached label.
	task2 := domain.ReflectionTask{Op: domain.ReflectionApply, UserID: "u1", ProjectID: "p1", MessageID: "m2", ThreadID: "t1"}
	payload2, _ := json.Marshal(task2)
	q.items = append(q.items, out.ReservedItem{ID: "r2", Payload: payload2})
	if _, err := r.RunOnce(context.Background(), "w1", 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(provider.created) != 1 {
		t.Fatalf("expected label to be reused, not recreated, got %d creates", len(provider.created))
	}
}

func TestRemoveRefusesSystemLabel(t *testing.T) {
	provider := &fakeProvider{}
	projects := &fakeProjects{p: &domain.Project{ID: "p1", Name: "INBOX"}}
	mappings := &fakeMappings{}
	r := New(&memQueue{}, provider, projects, mappings, 3, 50, zerolog.Nop())

	err := r.remove(context.Background(), domain.ReflectionTask{Op: domain.ReflectionRemove, UserID: "u1", ProjectID: "p1", MessageID: "m1"})
	if err == nil {
		t.Fatal("expected error refusing system label removal")
	}
}
