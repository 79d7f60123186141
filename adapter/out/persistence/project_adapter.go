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

// ProjectAdapter implements out.ProjectRepository using PostgreSQL.
type ProjectAdapter struct {
	db *sqlx.DB
}

func NewProjectAdapter(db *sqlx.DB) *ProjectAdapter {
	return &ProjectAdapter{db: db}
}

type projectRow struct {
	ID                 string         `db:"id"`
	UserID             string         `db:"user_id"`
	Name               string         `db:"name"`
	Aliases            pq.StringArray `db:"aliases"`
	AddressFull        sql.NullString `db:"address_full"`
	AddressStreet      sql.NullString `db:"address_street"`
	AddressLocality    sql.NullString `db:"address_locality"`
	AddressRegion      sql.NullString `db:"address_region"`
	AddressPostcode    sql.NullString `db:"address_postcode"`
	JobNumbers         pq.StringArray `db:"job_numbers"`
	ClientName         sql.NullString `db:"client_name"`
	ClientEmail        sql.NullString `db:"client_email"`
	ClientPhone        sql.NullString `db:"client_phone"`
	ClientCompany      sql.NullString `db:"client_company"`
	Status             string         `db:"status"`
	EmailCount         int            `db:"email_count"`
	LastEmailAt        sql.NullTime   `db:"last_email_at"`
	CreationConfidence float64        `db:"creation_confidence"`
	NeedsReview        bool           `db:"needs_review"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

func (r *projectRow) toEntity() *domain.Project {
	p := &domain.Project{
		ID:      r.ID,
		UserID:  r.UserID,
		Name:    r.Name,
		Aliases: []string(r.Aliases),
		Address: domain.Address{
			Full:     r.AddressFull.String,
			Street:   r.AddressStreet.String,
			Locality: r.AddressLocality.String,
			Region:   r.AddressRegion.String,
			Postcode: r.AddressPostcode.String,
		},
		JobNumbers: []string(r.JobNumbers),
		Client: domain.Contact{
			Name:    r.ClientName.String,
			Email:   r.ClientEmail.String,
			Phone:   r.ClientPhone.String,
			Company: r.ClientCompany.String,
		},
		Status:             domain.ProjectStatus(r.Status),
		EmailCount:         r.EmailCount,
		CreationConfidence: r.CreationConfidence,
		NeedsReview:        r.NeedsReview,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	if r.LastEmailAt.Valid {
		p.LastEmailAt = r.LastEmailAt.Time
	}
	return p
}

func (a *ProjectAdapter) Get(ctx context.Context, userID, projectID string) (*domain.Project, error) {
	var row projectRow
	err := a.db.GetContext(ctx, &row, `SELECT * FROM projects WHERE user_id = $1 AND id = $2`, userID, projectID)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("project")
	}
	if err != nil {
		return nil, apperr.DatabaseError("get project", err)
	}
	return row.toEntity(), nil
}

func (a *ProjectAdapter) List(ctx context.Context, userID string, filter out.ProjectFilter) ([]*domain.Project, error) {
	query := `SELECT * FROM projects WHERE user_id = $1`
	args := []any{userID}
	if filter.Status != "" {
		query += ` AND status = $2`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY last_email_at DESC NULLS LAST, created_at DESC`

	var rows []projectRow
	if err := a.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, apperr.DatabaseError("list projects", err)
	}
	result := make([]*domain.Project, len(rows))
	for i, row := range rows {
		result[i] = row.toEntity()
	}
	return result, nil
}

// ListCandidates returns every active/on_hold project for a user — the pool
// the resolver (C7) scores signals against for a new message.
func (a *ProjectAdapter) ListCandidates(ctx context.Context, userID string) ([]*domain.Project, error) {
	var rows []projectRow
	query := `SELECT * FROM projects WHERE user_id = $1 AND status IN ('active', 'on_hold') ORDER BY last_email_at DESC NULLS LAST`
	if err := a.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, apperr.DatabaseError("list project candidates", err)
	}
	result := make([]*domain.Project, len(rows))
	for i, row := range rows {
		result[i] = row.toEntity()
	}
	return result, nil
}

func (a *ProjectAdapter) Create(ctx context.Context, p *domain.Project) error {
	query := `
		INSERT INTO projects (
			id, user_id, name, aliases, address_full, address_street, address_locality,
			address_region, address_postcode, job_numbers, client_name, client_email,
			client_phone, client_company, status, email_count, last_email_at,
			creation_confidence, needs_review, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`
	_, err := a.db.ExecContext(ctx, query,
		p.ID, p.UserID, p.Name, pq.Array(p.Aliases),
		nullString(p.Address.Full), nullString(p.Address.Street), nullString(p.Address.Locality),
		nullString(p.Address.Region), nullString(p.Address.Postcode), pq.Array(p.JobNumbers),
		nullString(p.Client.Name), nullString(p.Client.Email), nullString(p.Client.Phone), nullString(p.Client.Company),
		string(p.Status), p.EmailCount, nullTime(p.LastEmailAt),
		p.CreationConfidence, p.NeedsReview, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return apperr.DatabaseError("create project", err)
	}
	return nil
}

func (a *ProjectAdapter) Update(ctx context.Context, p *domain.Project) error {
	p.UpdatedAt = time.Now()
	query := `
		UPDATE projects SET
			name = $3, aliases = $4, address_full = $5, address_street = $6, address_locality = $7,
			address_region = $8, address_postcode = $9, job_numbers = $10, client_name = $11,
			client_email = $12, client_phone = $13, client_company = $14, status = $15,
			needs_review = $16, updated_at = $17
		WHERE user_id = $1 AND id = $2`
	res, err := a.db.ExecContext(ctx, query,
		p.UserID, p.ID, p.Name, pq.Array(p.Aliases),
		nullString(p.Address.Full), nullString(p.Address.Street), nullString(p.Address.Locality),
		nullString(p.Address.Region), nullString(p.Address.Postcode), pq.Array(p.JobNumbers),
		nullString(p.Client.Name), nullString(p.Client.Email), nullString(p.Client.Phone), nullString(p.Client.Company),
		string(p.Status), p.NeedsReview, p.UpdatedAt,
	)
	if err != nil {
		return apperr.DatabaseError("update project", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return apperr.NotFound("project")
	}
	return nil
}

// RecomputeCounters restores the §3 invariant: EmailCount equals the active
// mapping count and LastEmailAt is the max mapping timestamp.
func (a *ProjectAdapter) RecomputeCounters(ctx context.Context, userID, projectID string) error {
	query := `
		UPDATE projects SET
			email_count = COALESCE((SELECT COUNT(*) FROM email_project_mappings WHERE user_id = $1 AND project_id = $2 AND active = true), 0),
			last_email_at = (SELECT MAX(created_at) FROM email_project_mappings WHERE user_id = $1 AND project_id = $2 AND active = true),
			updated_at = NOW()
		WHERE user_id = $1 AND id = $2`
	_, err := a.db.ExecContext(ctx, query, userID, projectID)
	if err != nil {
		return apperr.DatabaseError("recompute project counters", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

var _ out.ProjectRepository = (*ProjectAdapter)(nil)
