package persistence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"mailgrouper/core/domain"
	"mailgrouper/core/port/out"
	"mailgrouper/pkg/apperr"
)

// PatternAdapter implements out.PatternRepository using PostgreSQL.
type PatternAdapter struct {
	db *sqlx.DB
}

func NewPatternAdapter(db *sqlx.DB) *PatternAdapter {
	return &PatternAdapter{db: db}
}

type patternRow struct {
	ID         string    `db:"id"`
	UserID     string    `db:"user_id"`
	ProjectID  string    `db:"project_id"`
	Type       string    `db:"type"`
	Body       []byte    `db:"body"`
	Confidence float64   `db:"confidence"`
	UsageCount int       `db:"usage_count"`
	Active     bool      `db:"active"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r *patternRow) toEntity() (*domain.LearningPattern, error) {
	p := &domain.LearningPattern{
		ID:         r.ID,
		UserID:     r.UserID,
		ProjectID:  r.ProjectID,
		Type:       domain.PatternType(r.Type),
		Confidence: r.Confidence,
		UsageCount: r.UsageCount,
		Active:     r.Active,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if len(r.Body) > 0 {
		if err := json.Unmarshal(r.Body, &p.Body); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (a *PatternAdapter) ListActive(ctx context.Context, userID string) ([]*domain.LearningPattern, error) {
	var rows []patternRow
	query := `SELECT * FROM learning_patterns WHERE user_id = $1 AND active = true ORDER BY confidence DESC`
	if err := a.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, apperr.DatabaseError("list active patterns", err)
	}
	result := make([]*domain.LearningPattern, 0, len(rows))
	for _, row := range rows {
		p, err := row.toEntity()
		if err != nil {
			return nil, apperr.InternalWithError(err)
		}
		result = append(result, p)
	}
	return result, nil
}

// Upsert keys on (user, project, type, body) — the learning pass (C9) never
// creates a duplicate pattern for the same signal value, only bumps its
// confidence/usage on repeat support.
func (a *PatternAdapter) Upsert(ctx context.Context, p *domain.LearningPattern) error {
	body, err := json.Marshal(p.Body)
	if err != nil {
		return apperr.InternalWithError(err)
	}
	p.UpdatedAt = time.Now()
	query := `
		INSERT INTO learning_patterns (id, user_id, project_id, type, body, confidence, usage_count, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (user_id, project_id, type, body) DO UPDATE SET
			confidence = EXCLUDED.confidence,
			usage_count = learning_patterns.usage_count + 1,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at`
	_, err = a.db.ExecContext(ctx, query,
		p.ID, p.UserID, p.ProjectID, string(p.Type), body, p.Confidence, p.UsageCount, p.Active, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return apperr.DatabaseError("upsert learning pattern", err)
	}
	return nil
}

var _ out.PatternRepository = (*PatternAdapter)(nil)
