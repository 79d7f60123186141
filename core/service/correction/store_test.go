package correction

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"mailgrouper/core/domain"
	"mailgrouper/core/port/out"
	"mailgrouper/pkg/snowflake"
)

type memCorrections struct {
	items []*domain.Correction
}

func (m *memCorrections) Append(ctx context.Context, c *domain.Correction) error {
	m.items = append(m.items, c)
	return nil
}
func (m *memCorrections) ListUnprocessed(ctx context.Context, userID string, limit int) ([]*domain.Correction, error) {
	var out []*domain.Correction
	for _, c := range m.items {
		if !c.Processed {
			out = append(out, c)
		}
	}
	return out, nil
}
func (m *memCorrections) MarkProcessed(ctx context.Context, id string) error {
	for _, c := range m.items {
		if c.ID == id {
			c.Processed = true
		}
	}
	return nil
}

type memPatterns struct {
	upserted []*domain.LearningPattern
}

func (m *memPatterns) ListActive(ctx context.Context, userID string) ([]*domain.LearningPattern, error) {
	return m.upserted, nil
}
func (m *memPatterns) Upsert(ctx context.Context, p *domain.LearningPattern) error {
	m.upserted = append(m.upserted, p)
	return nil
}

type nopMappings struct{}

func (n *nopMappings) Get(ctx context.Context, userID, messageID string) (*domain.EmailProjectMapping, error) {
	return nil, nil
}
func (n *nopMappings) GetByThread(ctx context.Context, userID, threadID string) ([]*domain.EmailProjectMapping, error) {
	return nil, nil
}
func (n *nopMappings) ListActiveByProject(ctx context.Context, userID, projectID string) ([]*domain.EmailProjectMapping, error) {
	return nil, nil
}
func (n *nopMappings) ListSendersByProject(ctx context.Context, userID, projectID string) ([]string, error) {
	return nil, nil
}
func (n *nopMappings) RecentByProject(ctx context.Context, userID, projectID string, limit int) ([]*domain.EmailProjectMapping, error) {
	return nil, nil
}
func (n *nopMappings) ResolveMessage(ctx context.Context, m *domain.EmailProjectMapping) error { return nil }
func (n *nopMappings) ListNeedsReview(ctx context.Context, userID string) ([]*domain.EmailProjectMapping, error) {
	return nil, nil
}

func (n *nopMappings) Deactivate(ctx context.Context, userID, messageID string) error { return nil }
func (n *nopMappings) Repoint(ctx context.Context, userID string, messageIDs []string, newProjectID string) error {
	return nil
}
func (n *nopMappings) MarkReflectionPending(ctx context.Context, userID, messageID string, pending bool) error {
	return nil
}

type nopProjects struct{}

func (n *nopProjects) Get(ctx context.Context, userID, projectID string) (*domain.Project, error) {
	return &domain.Project{ID: projectID}, nil
}
func (n *nopProjects) List(ctx context.Context, userID string, filter out.ProjectFilter) ([]*domain.Project, error) {
	return nil, nil
}
func (n *nopProjects) ListCandidates(ctx context.Context, userID string) ([]*domain.Project, error) {
	return nil, nil
}
func (n *nopProjects) Create(ctx context.Context, p *domain.Project) error { return nil }
func (n *nopProjects) Update(ctx context.Context, p *domain.Project) error { return nil }
func (n *nopProjects) RecomputeCounters(ctx context.Context, userID, projectID string) error {
	return nil
}

func TestProcessCorrectionsDerivesAliasPatternAtMinSupport(t *testing.T) {
	corrections := &memCorrections{}
	patterns := &memPatterns{}
	gen, _ := snowflake.NewGenerator(1)
	store := New(corrections, patterns, &nopMappings{}, &nopProjects{}, gen, 3, zerolog.Nop())

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := store.RecordAssign(ctx, "u1", "m"+string(rune('0'+i)), "", "p1", "client@example.com", "Riverside Extension", "manual fix"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	n, err := store.ProcessCorrections(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 corrections processed, got %d", n)
	}
	if len(patterns.upserted) == 0 {
		t.Fatal("expected at least one learning pattern derived")
	}
	found := false
	for _, p := range patterns.upserted {
		if p.Type == domain.PatternAlias && p.ProjectID == "p1" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected an alias pattern for project p1")
	}
	for _, c := range corrections.items {
		if !c.Processed {
			t.Fatal("expected all corrections marked processed")
		}
	}
}

func TestProcessCorrectionsSkipsBelowMinSupport(t *testing.T) {
	corrections := &memCorrections{}
	patterns := &memPatterns{}
	gen, _ := snowflake.NewGenerator(1)
	store := New(corrections, patterns, &nopMappings{}, &nopProjects{}, gen, 3, zerolog.Nop())

	ctx := context.Background()
	_ = store.RecordAssign(ctx, "u1", "m0", "", "p1", "client@example.com", "Riverside Extension", "manual fix")

	if _, err := store.ProcessCorrections(ctx, "u1", 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(patterns.upserted) != 0 {
		t.Fatalf("expected no pattern below min support, got %d", len(patterns.upserted))
	}
}
