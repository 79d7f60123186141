package extractor

import (
	"context"
	"regexp"
	"strings"

	"mailgrouper/core/domain"
	"mailgrouper/core/port/out"
)

// StubExtractor is a deterministic, LLM-free EntityExtractor for local dev
// (AI_PROVIDER=stub) and tests that don't want a network dependency. It
// pulls job numbers via a regex and treats the subject line as the sole
// project-name candidate.
type StubExtractor struct{}

func NewStubExtractor() *StubExtractor { return &StubExtractor{} }

var jobNumberPattern = regexp.MustCompile(`\b(?:JOB|JN|REF)[-\s]?(\d{3,8})\b`)

func (s *StubExtractor) Extract(ctx context.Context, in out.ExtractionInput) (*domain.ExtractedEntities, error) {
	entities := &domain.ExtractedEntities{OverallConfidence: 0.5}

	subject := strings.TrimSpace(in.Subject)
	if subject != "" {
		entities.ProjectNames = append(entities.ProjectNames, domain.ScoredProjectName{Value: subject, Confidence: 0.4})
	}

	for _, m := range jobNumberPattern.FindAllStringSubmatch(in.Subject+" "+in.BodyText, -1) {
		entities.JobNumbers = append(entities.JobNumbers, domain.ScoredJobNumber{Value: m[1], Source: domain.JobNumberFromSubject, Confidence: 0.6})
	}

	entities.Client = domain.ScoredClient{Name: in.SenderName, Email: in.SenderEmail, Confidence: 0.5}
	return entities, nil
}

func (s *StubExtractor) Compare(ctx context.Context, a, b out.SimilarityInput) (*domain.SimilarityResult, error) {
	score := 0.0
	if strings.EqualFold(a.SenderEmail, b.SenderEmail) {
		score += 0.5
	}
	if strings.EqualFold(strings.TrimSpace(a.Subject), strings.TrimSpace(b.Subject)) {
		score += 0.5
	}
	return &domain.SimilarityResult{SameProject: score >= 0.5, Score: score}, nil
}

var _ out.EntityExtractor = (*StubExtractor)(nil)
