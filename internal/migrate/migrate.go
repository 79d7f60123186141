// Package migrate applies the Postgres schema via goose, grounded on
// dsmolchanov-nerve's internal/store/migrate.go: a thin wrapper around
// goose.UpContext pointed at a directory of plain SQL migrations rather than
// a bespoke schema-versioning scheme.
package migrate

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

const dir = "db/migrations"

// Up applies every pending migration in db/migrations.
func Up(ctx context.Context, db *sql.DB) error {
	goose.SetDialect("postgres")
	goose.SetTableName("schema_migrations")
	return goose.UpContext(ctx, db, dir)
}
