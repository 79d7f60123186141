package out

import (
	"context"

	"mailgrouper/core/domain"
)

// ExtractionInput is the parsed message content handed to the extractor,
// plus optional context the resolver wants considered (§4.5: "any context
// ... is passed in explicitly").
type ExtractionInput struct {
	Subject           string
	BodyText          string
	SenderName        string
	SenderEmail       string
	ExistingProjectHints []string
}

// SimilarityInput is one side of a pairwise similarity comparison.
type SimilarityInput struct {
	Subject     string
	BodyText    string
	SenderEmail string
}

// EntityExtractor is the sole LLM-facing port (§4.5, C5). It is stateless
// between calls: the resolver depends only on this interface, never on a
// vendor SDK, so the extractor backing can be swapped (OpenAI, Ollama, a
// deterministic stub for tests) without touching C7.
type EntityExtractor interface {
	Extract(ctx context.Context, in ExtractionInput) (*domain.ExtractedEntities, error)
	Compare(ctx context.Context, a, b SimilarityInput) (*domain.SimilarityResult, error)
}
