// Package migrate brings the tracker schema up to date before the pool and
// repositories are constructed. Migrations ship embedded in the binary, so
// a deploy is one artifact.
package migrate

import (
	"context"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/wanderers-live/merchant-tracker/migrations"
)

// Up applies pending migrations from the embedded set. It runs on every
// boot; goose's version table makes it a no-op when the schema is current.
func Up(ctx context.Context, dsn string) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	db, err := goose.OpenDBWithDriver("pgx", dsn)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	return goose.UpContext(ctx, db, ".")
}
