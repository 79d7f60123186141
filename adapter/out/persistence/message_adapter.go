package persistence

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"mailgrouper/core/domain"
	"mailgrouper/core/port/out"
	"mailgrouper/pkg/apperr"
)

// MessageAdapter implements out.MessageRepository using PostgreSQL. It holds
// the durable audit-only MessageSnapshot projection — never the raw body
// (§3: "bodies are held only for the duration of one processing attempt").
type MessageAdapter struct {
	db *sqlx.DB
}

func NewMessageAdapter(db *sqlx.DB) *MessageAdapter {
	return &MessageAdapter{db: db}
}

type messageSnapshotRow struct {
	MessageID   string         `db:"message_id"`
	ThreadID    string         `db:"thread_id"`
	ProjectID   string         `db:"project_id"`
	Subject     string         `db:"subject"`
	SenderEmail string         `db:"sender_email"`
	Snippet     string         `db:"snippet"`
	LabelIDs    pq.StringArray `db:"label_ids"`
	CreatedAt   time.Time      `db:"created_at"`
}

func (r *messageSnapshotRow) toEntity() *domain.MessageSnapshot {
	return &domain.MessageSnapshot{
		MessageID:   r.MessageID,
		ThreadID:    r.ThreadID,
		ProjectID:   r.ProjectID,
		Subject:     r.Subject,
		SenderEmail: r.SenderEmail,
		Snippet:     r.Snippet,
		LabelIDs:    []string(r.LabelIDs),
		CreatedAt:   r.CreatedAt,
	}
}

func (a *MessageAdapter) Save(ctx context.Context, s *domain.MessageSnapshot) error {
	query := `
		INSERT INTO message_snapshots (message_id, thread_id, project_id, subject, sender_email, snippet, label_ids, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (message_id) DO UPDATE SET
			project_id = EXCLUDED.project_id, label_ids = EXCLUDED.label_ids`
	_, err := a.db.ExecContext(ctx, query,
		s.MessageID, s.ThreadID, s.ProjectID, s.Subject, s.SenderEmail, s.Snippet, pq.Array(s.LabelIDs), s.CreatedAt,
	)
	if err != nil {
		return apperr.DatabaseError("save message snapshot", err)
	}
	return nil
}

func (a *MessageAdapter) RecentByProject(ctx context.Context, userID, projectID string, limit int) ([]*domain.MessageSnapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []messageSnapshotRow
	query := `
		SELECT ms.* FROM message_snapshots ms
		JOIN email_project_mappings m ON m.message_id = ms.message_id
		WHERE m.user_id = $1 AND ms.project_id = $2
		ORDER BY ms.created_at DESC LIMIT $3`
	if err := a.db.SelectContext(ctx, &rows, query, userID, projectID, limit); err != nil {
		return nil, apperr.DatabaseError("list recent snapshots by project", err)
	}
	result := make([]*domain.MessageSnapshot, len(rows))
	for i, row := range rows {
		result[i] = row.toEntity()
	}
	return result, nil
}

var _ out.MessageRepository = (*MessageAdapter)(nil)
