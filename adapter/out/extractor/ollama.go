package extractor

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"

	"mailgrouper/core/domain"
	"mailgrouper/core/port/out"
	"mailgrouper/pkg/apperr"
)

// OllamaExtractor talks to a local Ollama server's /api/chat endpoint. No
// example repo in the retrieval pack carries an Ollama SDK, so this speaks
// Ollama's plain REST API directly over net/http rather than inventing a
// dependency the corpus never uses.
type OllamaExtractor struct {
	baseURL string
	model   string
	http    *http.Client
}

func NewOllamaExtractor(baseURL, model string) *OllamaExtractor {
	if model == "" {
		model = "llama3.1"
	}
	return &OllamaExtractor{baseURL: baseURL, model: model, http: &http.Client{}}
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Format   string              `json:"format"`
	Stream   bool                `json:"stream"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
}

func (e *OllamaExtractor) Extract(ctx context.Context, in out.ExtractionInput) (*domain.ExtractedEntities, error) {
	userPrompt := buildUserPrompt(in.Subject, in.BodyText, in.SenderName, in.SenderEmail, in.ExistingProjectHints)
	sys := systemPrompt

	var lastErr error
	var lastRaw string
	for attempt := 0; attempt <= maxParseRetries; attempt++ {
		raw, err := e.chat(ctx, sys, userPrompt)
		if err != nil {
			return nil, apperr.InternalWithError(fmt.Errorf("ollama extractor: %w", err))
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

func (e *OllamaExtractor) Compare(ctx context.Context, a, b out.SimilarityInput) (*domain.SimilarityResult, error) {
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

	raw, err := e.chat(ctx, "You are an email similarity classifier.", prompt)
	if err != nil {
		return nil, apperr.InternalWithError(fmt.Errorf("ollama extractor: %w", err))
	}
	var result struct {
		SameProject bool    `json:"same_project"`
		Score       float64 `json:"score"`
		Reason      string  `json:"reason"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &result); err != nil {
		return nil, apperr.ExtractionParseError(raw, err)
	}
	return &domain.SimilarityResult{SameProject: result.SameProject, Score: result.Score, Reason: result.Reason}, nil
}

func (e *OllamaExtractor) chat(ctx context.Context, system, user string) (string, error) {
	body, err := json.Marshal(ollamaChatRequest{
		Model: e.model,
		Messages: []ollamaChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Format: "json",
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	var parsed ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	return parsed.Message.Content, nil
}

var _ out.EntityExtractor = (*OllamaExtractor)(nil)
