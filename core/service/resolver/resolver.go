// Package resolver implements C7, the heart of the system: matching a
// message's extracted entities to an existing project or creating a new
// one. The weighted multi-signal scoring design is conceptually grounded
// on the teacher's staged ScoreClassifier pipeline
// (core/service/classification/worker_score_classifier.go) — generalized
// here from inbox-category classification to project-identity matching.
package resolver

import (
	"context"
	"math"
	"sort"

	"mailgrouper/core/domain"
	"mailgrouper/core/port/out"
)

type Thresholds struct {
	Auto   float64
	Review float64
	New    float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{Auto: 0.80, Review: 0.60, New: 0.40}
}

type Resolver struct {
	projects  out.ProjectRepository
	mappings  out.MappingRepository
	messages  out.MessageRepository
	patterns  out.PatternRepository
	extractor out.EntityExtractor
	thresholds Thresholds
}

func New(projects out.ProjectRepository, mappings out.MappingRepository, messages out.MessageRepository, patterns out.PatternRepository, extractor out.EntityExtractor, thresholds Thresholds) *Resolver {
	return &Resolver{
		projects:   projects,
		mappings:   mappings,
		messages:   messages,
		patterns:   patterns,
		extractor:  extractor,
		thresholds: thresholds,
	}
}

// Resolve decides which project msg belongs to. It is side-effect free on
// storage — the caller persists the mapping, updates counters, and enqueues
// reflection, in that order, per §4.7.
func (r *Resolver) Resolve(ctx context.Context, userID string, msg *domain.Message, entities *domain.ExtractedEntities) (*domain.ResolutionResult, error) {
	candidates, err := r.projects.ListCandidates(ctx, userID)
	if err != nil {
		return nil, err
	}
	patterns, err := r.patterns.ListActive(ctx, userID)
	if err != nil {
		return nil, err
	}

	cc, err := r.buildContext(ctx, userID, msg, entities, candidates)
	if err != nil {
		return nil, err
	}

	scores := make([]domain.CandidateScore, 0, len(candidates))
	for _, p := range candidates {
		scores = append(scores, r.score(p, entities, patterns, cc))
	}

	best, ok := pickBest(scores, candidates)
	result := &domain.ResolutionResult{Candidates: scores}

	if !ok || best.Score < r.thresholds.New {
		result.Action = domain.ActionNewProject
		result.NeedsReview = entities.OverallConfidence < 0.60
		r.tagMultiProject(result, entities, scores, candidates)
		return result, nil
	}

	result.ProjectID = best.ProjectID
	result.Confidence = best.Score

	switch {
	case best.Score >= r.thresholds.Auto:
		result.Action = domain.ActionAutoAssign
	case best.Score >= r.thresholds.Review:
		result.Action = domain.ActionAssignReview
		result.NeedsReview = true
	default: // thresholds.New <= score < thresholds.Review
		result.Action = domain.ActionAmbiguous
		result.NeedsReview = true
		if withinBand(scores, best.Score, 0.05) {
			result.Action = domain.ActionMultiProject
			result.ProjectID = ""
			result.MultiProjectIDs = closeCandidateIDs(scores, best.Score, 0.05)
		}
	}

	if cc.threadConsensusProjectID != "" && result.ProjectID != "" && result.ProjectID != cc.threadConsensusProjectID && best.Score >= r.thresholds.Auto {
		result.SplitFromThread = true
	}

	r.tagMultiProject(result, entities, scores, candidates)
	return result, nil
}

func (r *Resolver) buildContext(ctx context.Context, userID string, msg *domain.Message, entities *domain.ExtractedEntities, candidates []*domain.Project) (candidateContext, error) {
	cc := candidateContext{
		senderEmail: msg.From.Mailbox,
		senders:     make(map[string][]string),
		similar:     make(map[string]bool),
	}

	threadMappings, err := r.mappings.GetByThread(ctx, userID, msg.ThreadID)
	if err != nil {
		return cc, err
	}
	cc.threadConsensusProjectID = threadConsensus(threadMappings)

	for _, p := range candidates {
		senders, err := r.mappings.ListSendersByProject(ctx, userID, p.ID)
		if err == nil {
			cc.senders[p.ID] = senders
		}
	}

	if r.extractor != nil {
		for _, p := range candidates {
			recent, err := r.messages.RecentByProject(ctx, userID, p.ID, 3)
			if err != nil || len(recent) == 0 {
				continue
			}
			for _, snap := range recent {
				res, err := r.extractor.Compare(ctx,
					out.SimilarityInput{Subject: msg.Subject, BodyText: msg.BodyText, SenderEmail: msg.From.Mailbox},
					out.SimilarityInput{Subject: snap.Subject, BodyText: snap.Snippet, SenderEmail: snap.SenderEmail},
				)
				if err == nil && res.Score >= 0.8 {
					cc.similar[p.ID] = true
					break
				}
			}
		}
	}

	return cc, nil
}

// threadConsensus returns the single project all active thread mappings
// agree on, or "" if the thread has no mappings or disagrees.
func threadConsensus(mappings []*domain.EmailProjectMapping) string {
	seen := ""
	for _, m := range mappings {
		if !m.Active {
			continue
		}
		if seen == "" {
			seen = m.ProjectID
		} else if seen != m.ProjectID {
			return ""
		}
	}
	return seen
}

func (r *Resolver) score(p *domain.Project, e *domain.ExtractedEntities, patterns []*domain.LearningPattern, cc candidateContext) domain.CandidateScore {
	var matches []domain.SignalMatch
	var raw float64

	if ok, detail := matchAddress(p, e); ok {
		matches = append(matches, domain.SignalMatch{Name: "address", Weight: WeightAddress, Detail: detail})
		raw += WeightAddress
	}
	if ok, detail := matchJobNumber(p, e); ok {
		matches = append(matches, domain.SignalMatch{Name: "job_number", Weight: WeightJobNumber, Detail: detail})
		raw += WeightJobNumber
	}
	if ok, detail := matchThread(p, cc); ok {
		matches = append(matches, domain.SignalMatch{Name: "thread", Weight: WeightThread, Detail: detail})
		raw += WeightThread
	}
	nameMatched, detail := matchName(p, e)
	if nameMatched {
		matches = append(matches, domain.SignalMatch{Name: "name", Weight: WeightName, Detail: detail})
		raw += WeightName
	}
	if ok, detail := matchClient(p, e, cc); ok {
		matches = append(matches, domain.SignalMatch{Name: "client", Weight: WeightClient, Detail: detail})
		raw += WeightClient
	}
	if ok, detail := matchSimilarity(p, cc); ok {
		matches = append(matches, domain.SignalMatch{Name: "similarity", Weight: WeightSimilarity, Detail: detail})
		raw += WeightSimilarity
	}

	bonus, bonusDetails := applyLearning(patterns, p, e, nameMatched)
	raw += bonus
	for _, d := range bonusDetails {
		matches = append(matches, domain.SignalMatch{Name: "learning", Weight: LearningBonus, Detail: d})
	}

	raw = math.Min(raw, 1.0)
	score := raw * e.OverallConfidence

	return domain.CandidateScore{ProjectID: p.ID, Score: score, Matches: matches}
}

func pickBest(scores []domain.CandidateScore, projects []*domain.Project) (domain.CandidateScore, bool) {
	if len(scores) == 0 {
		return domain.CandidateScore{}, false
	}
	byID := make(map[string]*domain.Project, len(projects))
	for _, p := range projects {
		byID[p.ID] = p
	}

	sorted := append([]domain.CandidateScore(nil), scores...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		pi, pj := byID[sorted[i].ProjectID], byID[sorted[j].ProjectID]
		if pi != nil && pj != nil && !pi.LastEmailAt.Equal(pj.LastEmailAt) {
			return pi.LastEmailAt.After(pj.LastEmailAt)
		}
		return sorted[i].ProjectID < sorted[j].ProjectID
	})
	return sorted[0], true
}

func withinBand(scores []domain.CandidateScore, best float64, band float64) bool {
	count := 0
	for _, s := range scores {
		if best-s.Score <= band {
			count++
		}
	}
	return count > 1
}

func closeCandidateIDs(scores []domain.CandidateScore, best float64, band float64) []string {
	var ids []string
	for _, s := range scores {
		if best-s.Score <= band {
			ids = append(ids, s.ProjectID)
		}
	}
	return ids
}

// tagMultiProject sets MultiProjectIDs when the extractor itself reported
// multiple independent project-name candidates with confidence >= 0.6
// (§4.7 "multi-project emails") — distinct from the score-closeness
// ambiguity case handled above. The caller emits a multi_project_detected
// UI event whenever MultiProjectIDs is non-empty.
func (r *Resolver) tagMultiProject(result *domain.ResolutionResult, e *domain.ExtractedEntities, scores []domain.CandidateScore, projects []*domain.Project) {
	if result.MultiProjectIDs != nil {
		return
	}
	strong := 0
	for _, n := range e.ProjectNames {
		if n.Confidence >= 0.6 {
			strong++
		}
	}
	if strong < 2 {
		return
	}
	byName := make(map[string]string)
	for _, p := range projects {
		for _, n := range e.ProjectNames {
			if p.MatchesNameOrAlias(n.Value) {
				byName[n.Value] = p.ID
			}
		}
	}
	if len(byName) < 2 {
		return
	}
	ids := make([]string, 0, len(byName))
	for _, id := range byName {
		ids = append(ids, id)
	}
	result.MultiProjectIDs = ids
}
