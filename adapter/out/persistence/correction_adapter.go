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

// CorrectionAdapter implements out.CorrectionRepository using PostgreSQL.
// Corrections are append-only (§3): no Update method exists on this adapter.
type CorrectionAdapter struct {
	db *sqlx.DB
}

func NewCorrectionAdapter(db *sqlx.DB) *CorrectionAdapter {
	return &CorrectionAdapter{db: db}
}

type correctionRow struct {
	ID              string    `db:"id"`
	UserID          string    `db:"user_id"`
	Type            string    `db:"type"`
	MessageID       string    `db:"message_id"`
	ProjectID       string    `db:"project_id"`
	OriginalResult  []byte    `db:"original_result"`
	CorrectedResult []byte    `db:"corrected_result"`
	Reason          string    `db:"reason"`
	Processed       bool      `db:"processed"`
	CreatedAt       time.Time `db:"created_at"`
}

func (r *correctionRow) toEntity() (*domain.Correction, error) {
	c := &domain.Correction{
		ID:        r.ID,
		UserID:    r.UserID,
		Type:      domain.CorrectionType(r.Type),
		MessageID: r.MessageID,
		ProjectID: r.ProjectID,
		Reason:    r.Reason,
		Processed: r.Processed,
		CreatedAt: r.CreatedAt,
	}
	if len(r.OriginalResult) > 0 {
		if err := json.Unmarshal(r.OriginalResult, &c.OriginalResult); err != nil {
			return nil, err
		}
	}
	if len(r.CorrectedResult) > 0 {
		if err := json.Unmarshal(r.CorrectedResult, &c.CorrectedResult); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (a *CorrectionAdapter) Append(ctx context.Context, c *domain.Correction) error {
	original, err := json.Marshal(c.OriginalResult)
	if err != nil {
		return apperr.InternalWithError(err)
	}
	corrected, err := json.Marshal(c.CorrectedResult)
	if err != nil {
		return apperr.InternalWithError(err)
	}
	query := `
		INSERT INTO corrections (id, user_id, type, message_id, project_id, original_result, corrected_result, reason, processed, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	_, err = a.db.ExecContext(ctx, query,
		c.ID, c.UserID, string(c.Type), c.MessageID, c.ProjectID, original, corrected, c.Reason, c.Processed, c.CreatedAt,
	)
	if err != nil {
		return apperr.DatabaseError("append correction", err)
	}
	return nil
}

func (a *CorrectionAdapter) ListUnprocessed(ctx context.Context, userID string, limit int) ([]*domain.Correction, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []correctionRow
	query := `SELECT * FROM corrections WHERE user_id = $1 AND processed = false ORDER BY created_at ASC LIMIT $2`
	if err := a.db.SelectContext(ctx, &rows, query, userID, limit); err != nil {
		return nil, apperr.DatabaseError("list unprocessed corrections", err)
	}
	result := make([]*domain.Correction, 0, len(rows))
	for _, row := range rows {
		c, err := row.toEntity()
		if err != nil {
			return nil, apperr.InternalWithError(err)
		}
		result = append(result, c)
	}
	return result, nil
}

func (a *CorrectionAdapter) MarkProcessed(ctx context.Context, id string) error {
	_, err := a.db.ExecContext(ctx, `UPDATE corrections SET processed = true WHERE id = $1`, id)
	if err != nil {
		return apperr.DatabaseError("mark correction processed", err)
	}
	return nil
}

var _ out.CorrectionRepository = (*CorrectionAdapter)(nil)
