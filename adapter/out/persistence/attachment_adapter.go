package persistence

import (
	"context"

	"github.com/jmoiron/sqlx"

	"mailgrouper/core/domain"
	"mailgrouper/core/port/out"
	"mailgrouper/pkg/apperr"
)

// AttachmentAdapter implements out.AttachmentRepository using PostgreSQL.
type AttachmentAdapter struct {
	db *sqlx.DB
}

func NewAttachmentAdapter(db *sqlx.DB) *AttachmentAdapter {
	return &AttachmentAdapter{db: db}
}

type attachmentRow struct {
	MessageID            string `db:"message_id"`
	ProviderAttachmentID string `db:"provider_attachment_id"`
	Filename             string `db:"filename"`
	MimeType             string `db:"mime_type"`
	Size                 int64  `db:"size"`
	Category             string `db:"category"`
	ProjectID            string `db:"project_id"`
}

func (r *attachmentRow) toEntity() *domain.AttachmentDescriptor {
	return &domain.AttachmentDescriptor{
		MessageID:            r.MessageID,
		ProviderAttachmentID: r.ProviderAttachmentID,
		Filename:             r.Filename,
		MimeType:             r.MimeType,
		Size:                 r.Size,
		Category:             domain.AttachmentCategory(r.Category),
		ProjectID:            r.ProjectID,
	}
}

func (a *AttachmentAdapter) Save(ctx context.Context, d *domain.AttachmentDescriptor) error {
	query := `
		INSERT INTO attachments (message_id, provider_attachment_id, filename, mime_type, size, category, project_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (message_id, provider_attachment_id) DO UPDATE SET
			filename = EXCLUDED.filename, mime_type = EXCLUDED.mime_type,
			size = EXCLUDED.size, category = EXCLUDED.category, project_id = EXCLUDED.project_id`
	_, err := a.db.ExecContext(ctx, query,
		d.MessageID, d.ProviderAttachmentID, d.Filename, d.MimeType, d.Size, string(d.Category), d.ProjectID,
	)
	if err != nil {
		return apperr.DatabaseError("save attachment", err)
	}
	return nil
}

func (a *AttachmentAdapter) ListByMessage(ctx context.Context, userID, messageID string) ([]*domain.AttachmentDescriptor, error) {
	var rows []attachmentRow
	query := `
		SELECT at.* FROM attachments at
		JOIN email_project_mappings m ON m.message_id = at.message_id
		WHERE m.user_id = $1 AND at.message_id = $2`
	if err := a.db.SelectContext(ctx, &rows, query, userID, messageID); err != nil {
		return nil, apperr.DatabaseError("list attachments by message", err)
	}
	result := make([]*domain.AttachmentDescriptor, len(rows))
	for i, row := range rows {
		result[i] = row.toEntity()
	}
	return result, nil
}

func (a *AttachmentAdapter) ReassignProject(ctx context.Context, userID, messageID, projectID string) error {
	query := `
		UPDATE attachments SET project_id = $3
		WHERE message_id = $2 AND EXISTS (
			SELECT 1 FROM email_project_mappings m WHERE m.user_id = $1 AND m.message_id = $2
		)`
	_, err := a.db.ExecContext(ctx, query, userID, messageID, projectID)
	if err != nil {
		return apperr.DatabaseError("reassign attachment project", err)
	}
	return nil
}

var _ out.AttachmentRepository = (*AttachmentAdapter)(nil)
