package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"mailgrouper/core/domain"
	"mailgrouper/core/port/out"
	"mailgrouper/pkg/apperr"
)

// MappingAdapter implements out.MappingRepository using PostgreSQL.
type MappingAdapter struct {
	db *sqlx.DB
}

func NewMappingAdapter(db *sqlx.DB) *MappingAdapter {
	return &MappingAdapter{db: db}
}

type mappingRow struct {
	ID                string         `db:"id"`
	UserID            string         `db:"user_id"`
	MessageID         string         `db:"message_id"`
	ThreadID          string         `db:"thread_id"`
	ProjectID         sql.NullString `db:"project_id"`
	Confidence        float64        `db:"confidence"`
	AssociationMethod string         `db:"association_method"`
	Primary           bool           `db:"is_primary"`
	Active            bool           `db:"active"`
	NeedsReview       bool           `db:"needs_review"`
	SplitFromThread   bool           `db:"split_from_thread"`
	ReflectionPending bool           `db:"reflection_pending"`
	MultiProjectIDs   pq.StringArray `db:"multi_project_ids"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

func (r *mappingRow) toEntity() *domain.EmailProjectMapping {
	return &domain.EmailProjectMapping{
		ID:                r.ID,
		UserID:            r.UserID,
		MessageID:         r.MessageID,
		ThreadID:          r.ThreadID,
		ProjectID:         r.ProjectID.String,
		Confidence:        r.Confidence,
		AssociationMethod: domain.AssociationMethod(r.AssociationMethod),
		Primary:           r.Primary,
		Active:            r.Active,
		NeedsReview:       r.NeedsReview,
		SplitFromThread:   r.SplitFromThread,
		ReflectionPending: r.ReflectionPending,
		MultiProjectIDs:   []string(r.MultiProjectIDs),
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

func (a *MappingAdapter) Get(ctx context.Context, userID, messageID string) (*domain.EmailProjectMapping, error) {
	var row mappingRow
	query := `SELECT * FROM email_project_mappings WHERE user_id = $1 AND message_id = $2 AND active = true`
	err := a.db.GetContext(ctx, &row, query, userID, messageID)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("mapping")
	}
	if err != nil {
		return nil, apperr.DatabaseError("get mapping", err)
	}
	return row.toEntity(), nil
}

func (a *MappingAdapter) GetByThread(ctx context.Context, userID, threadID string) ([]*domain.EmailProjectMapping, error) {
	var rows []mappingRow
	query := `SELECT * FROM email_project_mappings WHERE user_id = $1 AND thread_id = $2 AND active = true ORDER BY created_at`
	if err := a.db.SelectContext(ctx, &rows, query, userID, threadID); err != nil {
		return nil, apperr.DatabaseError("get mappings by thread", err)
	}
	return toMappingEntities(rows), nil
}

func (a *MappingAdapter) ListActiveByProject(ctx context.Context, userID, projectID string) ([]*domain.EmailProjectMapping, error) {
	var rows []mappingRow
	query := `SELECT * FROM email_project_mappings WHERE user_id = $1 AND project_id = $2 AND active = true ORDER BY created_at DESC`
	if err := a.db.SelectContext(ctx, &rows, query, userID, projectID); err != nil {
		return nil, apperr.DatabaseError("list active mappings by project", err)
	}
	return toMappingEntities(rows), nil
}

// ListSendersByProject returns the distinct sender addresses behind a
// project's mapped messages, sourced from the message snapshot join since
// the mapping row itself carries no sender field.
func (a *MappingAdapter) ListSendersByProject(ctx context.Context, userID, projectID string) ([]string, error) {
	var senders []string
	query := `
		SELECT DISTINCT ms.sender_email
		FROM email_project_mappings m
		JOIN message_snapshots ms ON ms.message_id = m.message_id
		WHERE m.user_id = $1 AND m.project_id = $2 AND m.active = true AND ms.sender_email != ''`
	if err := a.db.SelectContext(ctx, &senders, query, userID, projectID); err != nil {
		return nil, apperr.DatabaseError("list senders by project", err)
	}
	return senders, nil
}

func (a *MappingAdapter) RecentByProject(ctx context.Context, userID, projectID string, limit int) ([]*domain.EmailProjectMapping, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []mappingRow
	query := `SELECT * FROM email_project_mappings WHERE user_id = $1 AND project_id = $2 AND active = true ORDER BY created_at DESC LIMIT $3`
	if err := a.db.SelectContext(ctx, &rows, query, userID, projectID, limit); err != nil {
		return nil, apperr.DatabaseError("list recent mappings by project", err)
	}
	return toMappingEntities(rows), nil
}

// ListNeedsReview surfaces both the assign-with-review-flag case (§4.7's
// 0.60-0.79 / 0.40-0.59 score bands) and multi_project_detected mappings,
// whether left unassigned (inactive) or assigned with the candidate list
// attached, since both still need a human decision. Ordered
// newest first so a reviewer works the freshest ambiguity first.
func (a *MappingAdapter) ListNeedsReview(ctx context.Context, userID string) ([]*domain.EmailProjectMapping, error) {
	var rows []mappingRow
	query := `
		SELECT * FROM email_project_mappings
		WHERE user_id = $1 AND (needs_review = true OR multi_project_ids IS NOT NULL)
		ORDER BY created_at DESC`
	if err := a.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, apperr.DatabaseError("list needs-review mappings", err)
	}
	return toMappingEntities(rows), nil
}

// nullableProjectID converts the mapping's project id into sql.NullString
// so a multi_project_detected mapping (left unassigned, ProjectID == "")
// stores SQL NULL rather than violating the projects foreign key with an
// empty string.
func nullableProjectID(id string) sql.NullString {
	if id == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: id, Valid: true}
}

// ResolveMessage atomically deactivates any prior active mapping for
// (user, message_id) and inserts the new one, the single-transaction write
// the invariant in §4.11 requires.
func (a *MappingAdapter) ResolveMessage(ctx context.Context, m *domain.EmailProjectMapping) error {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.DatabaseError("begin resolve message tx", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE email_project_mappings SET active = false, updated_at = NOW() WHERE user_id = $1 AND message_id = $2 AND active = true`,
		m.UserID, m.MessageID,
	)
	if err != nil {
		return apperr.DatabaseError("deactivate prior mapping", err)
	}

	query := `
		INSERT INTO email_project_mappings (
			id, user_id, message_id, thread_id, project_id, confidence, association_method,
			is_primary, active, needs_review, split_from_thread, reflection_pending,
			multi_project_ids, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`
	_, err = tx.ExecContext(ctx, query,
		m.ID, m.UserID, m.MessageID, m.ThreadID, nullableProjectID(m.ProjectID), m.Confidence, string(m.AssociationMethod),
		m.Primary, m.Active, m.NeedsReview, m.SplitFromThread, m.ReflectionPending,
		pq.Array(m.MultiProjectIDs), m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return apperr.DatabaseError("insert mapping", err)
	}

	if err := tx.Commit(); err != nil {
		return apperr.DatabaseError("commit resolve message tx", err)
	}
	return nil
}

func (a *MappingAdapter) Deactivate(ctx context.Context, userID, messageID string) error {
	res, err := a.db.ExecContext(ctx,
		`UPDATE email_project_mappings SET active = false, updated_at = NOW() WHERE user_id = $1 AND message_id = $2 AND active = true`,
		userID, messageID,
	)
	if err != nil {
		return apperr.DatabaseError("deactivate mapping", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return apperr.NotFound("mapping")
	}
	return nil
}

// Repoint bulk-reassigns a set of messages to a new project, used by
// Merge/Split (§4.9). One statement, one transaction boundary.
func (a *MappingAdapter) Repoint(ctx context.Context, userID string, messageIDs []string, newProjectID string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	query := `
		UPDATE email_project_mappings
		SET project_id = $1, updated_at = NOW()
		WHERE user_id = $2 AND message_id = ANY($3) AND active = true`
	_, err := a.db.ExecContext(ctx, query, newProjectID, userID, pq.Array(messageIDs))
	if err != nil {
		return apperr.DatabaseError("repoint mappings", err)
	}
	return nil
}

func (a *MappingAdapter) MarkReflectionPending(ctx context.Context, userID, messageID string, pending bool) error {
	_, err := a.db.ExecContext(ctx,
		`UPDATE email_project_mappings SET reflection_pending = $3, updated_at = NOW() WHERE user_id = $1 AND message_id = $2 AND active = true`,
		userID, messageID, pending,
	)
	if err != nil {
		return apperr.DatabaseError("mark reflection pending", err)
	}
	return nil
}

func toMappingEntities(rows []mappingRow) []*domain.EmailProjectMapping {
	result := make([]*domain.EmailProjectMapping, len(rows))
	for i, row := range rows {
		result[i] = row.toEntity()
	}
	return result
}

var _ out.MappingRepository = (*MappingAdapter)(nil)
