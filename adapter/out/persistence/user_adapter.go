// Package persistence provides database adapters implementing the outbound
// repository ports (C11 Metastore) over PostgreSQL. Grounded on the
// teacher's adapter/out/persistence: row structs with db tags, a toEntity
// conversion, and sqlx's *Context methods throughout.
package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"mailgrouper/core/domain"
	"mailgrouper/core/port/out"
	"mailgrouper/pkg/apperr"
)

// UserAdapter implements out.UserRepository using PostgreSQL.
type UserAdapter struct {
	db *sqlx.DB
}

func NewUserAdapter(db *sqlx.DB) *UserAdapter {
	return &UserAdapter{db: db}
}

type userRow struct {
	ID              string    `db:"id"`
	Email           string    `db:"email"`
	AccessTokenEnc  string    `db:"access_token_enc"`
	RefreshTokenEnc string    `db:"refresh_token_enc"`
	ExpiresAt       time.Time `db:"expires_at"`
	Role            string    `db:"role"`
	Active          bool      `db:"active"`
	AuthExpired     bool      `db:"auth_expired"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

func (r *userRow) toEntity() *domain.User {
	return &domain.User{
		ID:    r.ID,
		Email: r.Email,
		Credentials: domain.Credentials{
			AccessTokenEnc:  r.AccessTokenEnc,
			RefreshTokenEnc: r.RefreshTokenEnc,
			ExpiresAt:       r.ExpiresAt,
		},
		Role:        domain.Role(r.Role),
		Active:      r.Active,
		AuthExpired: r.AuthExpired,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func (a *UserAdapter) Get(ctx context.Context, userID string) (*domain.User, error) {
	var row userRow
	err := a.db.GetContext(ctx, &row, `SELECT * FROM users WHERE id = $1`, userID)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("user")
	}
	if err != nil {
		return nil, apperr.DatabaseError("get user", err)
	}
	return row.toEntity(), nil
}

func (a *UserAdapter) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	var row userRow
	err := a.db.GetContext(ctx, &row, `SELECT * FROM users WHERE email = $1`, email)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("user")
	}
	if err != nil {
		return nil, apperr.DatabaseError("get user by email", err)
	}
	return row.toEntity(), nil
}

func (a *UserAdapter) Save(ctx context.Context, u *domain.User) error {
	u.UpdatedAt = time.Now()
	query := `
		INSERT INTO users (id, email, access_token_enc, refresh_token_enc, expires_at, role, active, auth_expired, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			access_token_enc = EXCLUDED.access_token_enc,
			refresh_token_enc = EXCLUDED.refresh_token_enc,
			expires_at = EXCLUDED.expires_at,
			role = EXCLUDED.role,
			active = EXCLUDED.active,
			auth_expired = EXCLUDED.auth_expired,
			updated_at = EXCLUDED.updated_at`
	_, err := a.db.ExecContext(ctx, query,
		u.ID, u.Email, u.Credentials.AccessTokenEnc, u.Credentials.RefreshTokenEnc, u.Credentials.ExpiresAt,
		string(u.Role), u.Active, u.AuthExpired, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return apperr.DatabaseError("save user", err)
	}
	return nil
}

func (a *UserAdapter) ListActive(ctx context.Context) ([]*domain.User, error) {
	var rows []userRow
	err := a.db.SelectContext(ctx, &rows, `SELECT * FROM users WHERE active = true ORDER BY id`)
	if err != nil {
		return nil, apperr.DatabaseError("list active users", err)
	}
	result := make([]*domain.User, len(rows))
	for i, row := range rows {
		result[i] = row.toEntity()
	}
	return result, nil
}

var _ out.UserRepository = (*UserAdapter)(nil)
