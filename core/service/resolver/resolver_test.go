package resolver

import (
	"context"
	"testing"

	"mailgrouper/core/domain"
	"mailgrouper/core/port/out"
	"mailgrouper/pkg/apperr"
)

type fakeProjects struct {
	list []*domain.Project
}

func (f *fakeProjects) Get(ctx context.Context, userID, projectID string) (*domain.Project, error) {
	for _, p := range f.list {
		if p.ID == projectID {
			return p, nil
		}
	}
	return nil, apperr.ErrNotFound
}
func (f *fakeProjects) List(ctx context.Context, userID string, filter out.ProjectFilter) ([]*domain.Project, error) {
	return f.list, nil
}
func (f *fakeProjects) ListCandidates(ctx context.Context, userID string) ([]*domain.Project, error) {
	return f.list, nil
}
func (f *fakeProjects) Create(ctx context.Context, p *domain.Project) error { return nil }
func (f *fakeProjects) Update(ctx context.Context, p *domain.Project) error { return nil }
func (f *fakeProjects) RecomputeCounters(ctx context.Context, userID, projectID string) error {
	return nil
}

type fakeMappings struct {
	thread  map[string][]*domain.EmailProjectMapping
	senders map[string][]string
}

func (f *fakeMappings) Get(ctx context.Context, userID, messageID string) (*domain.EmailProjectMapping, error) {
	return nil, apperr.ErrNotFound
}
func (f *fakeMappings) GetByThread(ctx context.Context, userID, threadID string) ([]*domain.EmailProjectMapping, error) {
	return f.thread[threadID], nil
}
func (f *fakeMappings) ListActiveByProject(ctx context.Context, userID, projectID string) ([]*domain.EmailProjectMapping, error) {
	return nil, nil
}
func (f *fakeMappings) ListSendersByProject(ctx context.Context, userID, projectID string) ([]string, error) {
	return f.senders[projectID], nil
}
func (f *fakeMappings) RecentByProject(ctx context.Context, userID, projectID string, limit int) ([]*domain.EmailProjectMapping, error) {
	return nil, nil
}
func (f *fakeMappings) ResolveMessage(ctx context.Context, m *domain.EmailProjectMapping) error {
	return nil
}
func (f *fakeMappings) ListNeedsReview(ctx context.Context, userID string) ([]*domain.EmailProjectMapping, error) {
	return nil, nil
}

func (f *fakeMappings) MarkReflectionPending(ctx context.Context, userID, messageID string, pending bool) error {
	return nil
}

func (f *fakeMappings) Deactivate(ctx context.Context, userID, messageID string) error { return nil }
func (f *fakeMappings) Repoint(ctx context.Context, userID string, messageIDs []string, newProjectID string) error {
	return nil
}

type fakeMessages struct{}

func (f *fakeMessages) Save(ctx context.Context, s *domain.MessageSnapshot) error { return nil }
func (f *fakeMessages) RecentByProject(ctx context.Context, userID, projectID string, limit int) ([]*domain.MessageSnapshot, error) {
	return nil, nil
}

type fakePatterns struct {
	list []*domain.LearningPattern
}

func (f *fakePatterns) ListActive(ctx context.Context, userID string) ([]*domain.LearningPattern, error) {
	return f.list, nil
}
func (f *fakePatterns) Upsert(ctx context.Context, p *domain.LearningPattern) error { return nil }

func newMessage(threadID, from, subject string) *domain.Message {
	return &domain.Message{
		ProviderID: "m1",
		ThreadID:   threadID,
		From:       domain.EmailAddress{Mailbox: from},
		Subject:    subject,
	}
}

func TestResolveAutoAssignOnAddressMatch(t *testing.T) {
	p := &domain.Project{
		ID:      "p1",
		Name:    "Maple House",
		Address: domain.Address{Street: "12 Maple Street", Postcode: "AB1 2CD"},
	}
	r := New(&fakeProjects{list: []*domain.Project{p}}, &fakeMappings{thread: map[string][]*domain.EmailProjectMapping{}}, &fakeMessages{}, &fakePatterns{}, nil, DefaultThresholds())

	entities := &domain.ExtractedEntities{
		Address:           &domain.ScoredAddress{Street: "12 Maple Street", Postcode: "AB1 2CD", Confidence: 0.9},
		JobNumbers:        []domain.ScoredJobNumber{},
		OverallConfidence: 1.0,
	}

	result, err := r.Resolve(context.Background(), "u1", newMessage("t1", "client@example.com", "update"), entities)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Action != domain.ActionAutoAssign {
		t.Fatalf("expected auto_assign, got %s (score %f)", result.Action, result.Confidence)
	}
	if result.ProjectID != "p1" {
		t.Fatalf("expected p1, got %s", result.ProjectID)
	}
}

func TestResolveNewProjectWhenNoSignalsMatch(t *testing.T) {
	p := &domain.Project{ID: "p1", Name: "Oak House", Address: domain.Address{Street: "9 Oak Lane"}}
	r := New(&fakeProjects{list: []*domain.Project{p}}, &fakeMappings{thread: map[string][]*domain.EmailProjectMapping{}}, &fakeMessages{}, &fakePatterns{}, nil, DefaultThresholds())

	entities := &domain.ExtractedEntities{OverallConfidence: 0.9}
	result, err := r.Resolve(context.Background(), "u1", newMessage("t2", "someone@else.com", "hello"), entities)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Action != domain.ActionNewProject {
		t.Fatalf("expected new_project, got %s", result.Action)
	}
}

func TestResolveThreadSignalAssignsWithReview(t *testing.T) {
	p := &domain.Project{ID: "p1", Name: "Birch Court"}
	mappings := &fakeMappings{
		thread: map[string][]*domain.EmailProjectMapping{
			"t3": {{ProjectID: "p1", Active: true}},
		},
	}
	r := New(&fakeProjects{list: []*domain.Project{p}}, mappings, &fakeMessages{}, &fakePatterns{}, nil, DefaultThresholds())

	entities := &domain.ExtractedEntities{OverallConfidence: 0.9}
	result, err := r.Resolve(context.Background(), "u1", newMessage("t3", "a@b.com", "re: thread"), entities)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Action != domain.ActionAssignReview {
		t.Fatalf("expected assign_review from thread-only signal, got %s (score %f)", result.Action, result.Confidence)
	}
	if result.ProjectID != "p1" {
		t.Fatalf("expected p1, got %s", result.ProjectID)
	}
}

// TestResolveAssignsReviewAndTagsMultiProjectWhenTwoNamesDetected covers the
// multi_project_detected scenario (§4.7, §8 E4): the extractor finds two
// strong project-name candidates, one of which also carries an address match
// that lands it in the assign-with-review band. The resolver still assigns
// to the stronger candidate but tags both names as a pending ambiguity
// instead of silently dropping the second.
func TestResolveAssignsReviewAndTagsMultiProjectWhenTwoNamesDetected(t *testing.T) {
	maple := &domain.Project{ID: "p-maple", Name: "Maple House", Address: domain.Address{Street: "12 Maple Street", Postcode: "AB1 2CD"}}
	oak := &domain.Project{ID: "p-oak", Name: "Oak Villa"}
	r := New(&fakeProjects{list: []*domain.Project{maple, oak}}, &fakeMappings{thread: map[string][]*domain.EmailProjectMapping{}}, &fakeMessages{}, &fakePatterns{}, nil, DefaultThresholds())

	entities := &domain.ExtractedEntities{
		Address:           &domain.ScoredAddress{Street: "12 Maple Street", Postcode: "AB1 2CD", Confidence: 0.9},
		ProjectNames:      []domain.ScoredProjectName{{Value: "Maple House", Confidence: 0.72}, {Value: "Oak Villa", Confidence: 0.70}},
		JobNumbers:        []domain.ScoredJobNumber{},
		OverallConfidence: 0.9,
	}

	result, err := r.Resolve(context.Background(), "u1", newMessage("t4", "someone@example.com", "two jobs"), entities)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Action != domain.ActionAssignReview {
		t.Fatalf("expected assign_review, got %s (score %f)", result.Action, result.Confidence)
	}
	if result.ProjectID != "p-maple" {
		t.Fatalf("expected assignment to p-maple, got %s", result.ProjectID)
	}
	if !result.NeedsReview {
		t.Fatalf("expected needs_review to be set")
	}
	if len(result.MultiProjectIDs) != 2 {
		t.Fatalf("expected multi_project_detected to list both candidates, got %v", result.MultiProjectIDs)
	}
	seen := map[string]bool{}
	for _, id := range result.MultiProjectIDs {
		seen[id] = true
	}
	if !seen["p-maple"] || !seen["p-oak"] {
		t.Fatalf("expected both p-maple and p-oak in MultiProjectIDs, got %v", result.MultiProjectIDs)
	}
}

func TestApplyLearningAliasPromotesPartialNameMatch(t *testing.T) {
	p := &domain.Project{ID: "p1", Name: "123 Main Street Renovation"}
	patterns := []*domain.LearningPattern{
		domain.NewLearningPattern("pat1", "u1", "p1", domain.PatternAlias, map[string]string{"alias": "main street"}, 0.8),
	}
	entities := &domain.ExtractedEntities{ProjectNames: []domain.ScoredProjectName{{Value: "Main Street job", Confidence: 0.7}}}

	bonus, details := applyLearning(patterns, p, entities, false)
	if bonus != WeightName {
		t.Fatalf("expected alias bonus to equal WeightName (%f), got %f", WeightName, bonus)
	}
	if len(details) != 1 {
		t.Fatalf("expected one detail, got %d", len(details))
	}
}

func TestApplyLearningSkipsAliasWhenNameAlreadyMatched(t *testing.T) {
	p := &domain.Project{ID: "p1", Name: "Main Street Renovation"}
	patterns := []*domain.LearningPattern{
		domain.NewLearningPattern("pat1", "u1", "p1", domain.PatternAlias, map[string]string{"alias": "main street"}, 0.8),
	}
	entities := &domain.ExtractedEntities{ProjectNames: []domain.ScoredProjectName{{Value: "Main Street Renovation", Confidence: 0.9}}}

	bonus, _ := applyLearning(patterns, p, entities, true)
	if bonus != 0 {
		t.Fatalf("expected no bonus when name already matched exactly, got %f", bonus)
	}
}
