package domain

import "time"

type CorrectionType string

const (
	CorrectionAssign   CorrectionType = "assign"
	CorrectionUnassign CorrectionType = "unassign"
	CorrectionMerge    CorrectionType = "merge"
	CorrectionSplit    CorrectionType = "split"
	CorrectionRename   CorrectionType = "rename"
)

// Correction is append-only (§3/§4.9): once written it is never mutated,
// only consumed by the learning pass which may derive LearningPatterns.
type Correction struct {
	ID               string
	UserID           string
	Type             CorrectionType
	MessageID        string
	ProjectID        string
	OriginalResult   map[string]any
	CorrectedResult  map[string]any
	Reason           string
	Processed        bool
	CreatedAt        time.Time
}

func NewCorrection(id, userID string, typ CorrectionType, original, corrected map[string]any, reason string) *Correction {
	return &Correction{
		ID:              id,
		UserID:          userID,
		Type:            typ,
		OriginalResult:  original,
		CorrectedResult: corrected,
		Reason:          reason,
		Processed:       false,
		CreatedAt:       time.Now(),
	}
}

type PatternType string

const (
	PatternAlias          PatternType = "alias"
	PatternSenderProject  PatternType = "sender_to_project"
	PatternAddressProject PatternType = "address_to_project"
)

// LearningPattern biases future ProjectResolver decisions for one user.
// Derived from Corrections; may be deactivated but never destructively
// edited (§3).
type LearningPattern struct {
	ID         string
	UserID     string
	ProjectID  string
	Type       PatternType
	Body       map[string]string
	Confidence float64
	UsageCount int
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func NewLearningPattern(id, userID, projectID string, typ PatternType, body map[string]string, confidence float64) *LearningPattern {
	now := time.Now()
	return &LearningPattern{
		ID:         id,
		UserID:     userID,
		ProjectID:  projectID,
		Type:       typ,
		Body:       body,
		Confidence: confidence,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (p *LearningPattern) RecordUsage() {
	p.UsageCount++
	p.UpdatedAt = time.Now()
}
