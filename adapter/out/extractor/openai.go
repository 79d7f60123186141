// Package extractor implements the EntityExtractor port (C5, §4.5): turning
// a message's subject/body into structured project entities via an LLM, with
// JSON-Schema validation and a bounded retry-with-stricter-preamble loop.
// Grounded on the teacher's core/agent/llm client (CompleteWithSystem +
// fence-stripped JSON parsing), generalized from ad-hoc single-shot
// extraction to schema-validated, retried extraction.
package extractor

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	openai "github.com/sashabaranov/go-openai"

	"mailgrouper/core/domain"
	"mailgrouper/core/port/out"
	"mailgrouper/pkg/apperr"
)

const maxParseRetries = 2

type OpenAIExtractor struct {
	client *openai.Client
	model  string
}

func NewOpenAIExtractor(apiKey, model string) *OpenAIExtractor {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIExtractor{client: openai.NewClient(apiKey), model: model}
}

func (e *OpenAIExtractor) Extract(ctx context.Context, in out.ExtractionInput) (*domain.ExtractedEntities, error) {
	userPrompt := buildUserPrompt(in.Subject, in.BodyText, in.SenderName, in.SenderEmail, in.ExistingProjectHints)
	sys := systemPrompt

	var lastErr error
	var lastRaw string
	for attempt := 0; attempt <= maxParseRetries; attempt++ {
		raw, err := e.complete(ctx, sys, userPrompt)
		if err != nil {
			return nil, apperr.InternalWithError(fmt.Errorf("extractor: completion failed: %w", err))
		}
		lastRaw = raw
		cleaned := stripFences(raw)

		if err := validateEntityJSON([]byte(cleaned)); err != nil {
			lastErr = err
			sys = systemPrompt + strictRetrySuffix
			continue
		}

		var wire wireEntities
		if err := json.Unmarshal([]byte(cleaned), &wire); err != nil {
			lastErr = err
			sys = systemPrompt + strictRetrySuffix
			continue
		}
		return wire.toDomain(), nil
	}

	return nil, apperr.ExtractionParseError(lastRaw, lastErr)
}

func (e *OpenAIExtractor) Compare(ctx context.Context, a, b out.SimilarityInput) (*domain.SimilarityResult, error) {
	prompt := fmt.Sprintf(`Compare these two emails and decide whether they concern the same project.

Email A:
From: %s
Subject: %s
%s

Email B:
From: %s
Subject: %s
%s

Respond with JSON: {"same_project": true|false, "score": 0.0, "reason": "..."}`,
		a.SenderEmail, a.Subject, truncate(a.BodyText, 1500),
		b.SenderEmail, b.Subject, truncate(b.BodyText, 1500))

	raw, err := e.complete(ctx, "You are an email similarity classifier.", prompt)
	if err != nil {
		return nil, apperr.InternalWithError(fmt.Errorf("extractor: comparison failed: %w", err))
	}

	var result struct {
		SameProject bool    `json:"same_project"`
		Score       float64 `json:"score"`
		Reason      string  `json:"reason"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &result); err != nil {
		return nil, apperr.ExtractionParseError(raw, err)
	}

	return &domain.SimilarityResult{
		SameProject: result.SameProject,
		Score:       result.Score,
		Reason:      result.Reason,
	}, nil
}

func (e *OpenAIExtractor) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "{}", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// wireEntities is the JSON wire shape the schema validates; toDomain copies
// it into domain.ExtractedEntities field by field rather than tagging the
// domain type itself with json annotations it has no other use for.
type wireEntities struct {
	ProjectNames []struct {
		Value      string   `json:"value"`
		Confidence float64  `json:"confidence"`
		Aliases    []string `json:"aliases"`
	} `json:"project_names"`
	Address *struct {
		Full       string  `json:"full"`
		Street     string  `json:"street"`
		Locality   string  `json:"locality"`
		Region     string  `json:"region"`
		Postcode   string  `json:"postcode"`
		Confidence float64 `json:"confidence"`
	} `json:"address"`
	JobNumbers []struct {
		Value      string  `json:"value"`
		Source     string  `json:"source"`
		Confidence float64 `json:"confidence"`
	} `json:"job_numbers"`
	Client struct {
		Name       string  `json:"name"`
		Email      string  `json:"email"`
		Phone      string  `json:"phone"`
		Company    string  `json:"company"`
		Confidence float64 `json:"confidence"`
	} `json:"client"`
	ProjectType        string   `json:"project_type"`
	Keywords           []string `json:"keywords"`
	OverallConfidence  float64  `json:"overall_confidence"`
}

func (w wireEntities) toDomain() *domain.ExtractedEntities {
	e := &domain.ExtractedEntities{
		ProjectType:       w.ProjectType,
		Keywords:          w.Keywords,
		OverallConfidence: w.OverallConfidence,
		Client: domain.ScoredClient{
			Name:       w.Client.Name,
			Email:      w.Client.Email,
			Phone:      w.Client.Phone,
			Company:    w.Client.Company,
			Confidence: w.Client.Confidence,
		},
	}
	for _, n := range w.ProjectNames {
		e.ProjectNames = append(e.ProjectNames, domain.ScoredProjectName{Value: n.Value, Confidence: n.Confidence, Aliases: n.Aliases})
	}
	if w.Address != nil {
		e.Address = &domain.ScoredAddress{
			Full:       w.Address.Full,
			Street:     w.Address.Street,
			Locality:   w.Address.Locality,
			Region:     w.Address.Region,
			Postcode:   w.Address.Postcode,
			Confidence: w.Address.Confidence,
		}
	}
	for _, jn := range w.JobNumbers {
		e.JobNumbers = append(e.JobNumbers, domain.ScoredJobNumber{Value: jn.Value, Source: domain.JobNumberSource(jn.Source), Confidence: jn.Confidence})
	}
	return e
}

var _ out.EntityExtractor = (*OpenAIExtractor)(nil)
