// Package repomanager provides a concrete RepositoryManager for PostgreSQL,
// wiring together repository constructors and database migrations (via goose).
package repomanager

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/convivencia/phidiasync/internal/dbx"
	"github.com/convivencia/phidiasync/internal/server/migrations"
	"github.com/convivencia/phidiasync/internal/server/repositories/audit"
	"github.com/convivencia/phidiasync/internal/server/repositories/students"
	"github.com/convivencia/phidiasync/internal/server/repositories/synchistory"
	"github.com/convivencia/phidiasync/internal/server/repositories/synclogs"
	"github.com/convivencia/phidiasync/internal/server/repositories/tracking"
	"github.com/convivencia/phidiasync/internal/server/repositories/users"
	"github.com/convivencia/phidiasync/internal/server/repositories/watermarks"
)

// PostgresRepositoryManager vends PostgreSQL-backed repository implementations
// and exposes a schema migration hook.
type PostgresRepositoryManager struct{}

func (m *PostgresRepositoryManager) Users(db dbx.DBTX) users.Repository {
	return users.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Students(db dbx.DBTX) students.Repository {
	return students.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Tracking(db dbx.DBTX) tracking.Repository {
	return tracking.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) SyncHistory(db dbx.DBTX) synchistory.Repository {
	return synchistory.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) SyncLogs(db dbx.DBTX) synclogs.Repository {
	return synclogs.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Watermarks(db dbx.DBTX) watermarks.Repository {
	return watermarks.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Audit(db dbx.DBTX) audit.Repository {
	return audit.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

// NewPostgresRepositoryManager constructs a PostgreSQL-backed RepositoryManager.
func NewPostgresRepositoryManager() RepositoryManager {
	return &PostgresRepositoryManager{}
}
