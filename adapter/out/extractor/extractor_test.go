package extractor

import (
	"context"
	"testing"

	"mailgrouper/core/port/out"
)

func TestValidateEntityJSONAcceptsMinimalDocument(t *testing.T) {
	if err := validateEntityJSON([]byte(`{"overall_confidence": 0.8}`)); err != nil {
		t.Fatalf("expected minimal document to validate, got: %v", err)
	}
}

func TestValidateEntityJSONRejectsMissingConfidence(t *testing.T) {
	if err := validateEntityJSON([]byte(`{"project_names": []}`)); err == nil {
		t.Fatal("expected validation error for missing overall_confidence")
	}
}

func TestValidateEntityJSONRejectsOutOfRangeConfidence(t *testing.T) {
	if err := validateEntityJSON([]byte(`{"overall_confidence": 1.5}`)); err == nil {
		t.Fatal("expected validation error for confidence > 1")
	}
}

func TestStripFencesRemovesMarkdownWrapper(t *testing.T) {
	in := "```json\n{\"a\":1}\n```"
	if got := stripFences(in); got != `{"a":1}` {
		t.Fatalf("expected fenced wrapper stripped, got %q", got)
	}
}

func TestStubExtractorFindsJobNumber(t *testing.T) {
	s := NewStubExtractor()
	entities, err := s.Extract(context.Background(), out.ExtractionInput{
		Subject:     "Re: JOB-4821 site visit",
		BodyText:    "see attached plans",
		SenderName:  "Pat Builder",
		SenderEmail: "pat@example.com",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entities.JobNumbers) != 1 || entities.JobNumbers[0].Value != "4821" {
		t.Fatalf("expected job number 4821 extracted, got %+v", entities.JobNumbers)
	}
	if len(entities.ProjectNames) != 1 {
		t.Fatalf("expected subject used as project name candidate")
	}
}

func TestStubExtractorCompareSameSenderAndSubject(t *testing.T) {
	s := NewStubExtractor()
	res, err := s.Compare(context.Background(),
		out.SimilarityInput{Subject: "Update", SenderEmail: "a@b.com"},
		out.SimilarityInput{Subject: "update", SenderEmail: "A@B.com"},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.SameProject {
		t.Fatalf("expected same_project true for matching sender+subject, got score %f", res.Score)
	}
}
