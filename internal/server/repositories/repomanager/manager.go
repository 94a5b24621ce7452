package repomanager

import (
	"context"
	"database/sql"

	"github.com/convivencia/phidiasync/internal/dbx"
	"github.com/convivencia/phidiasync/internal/server/repositories/audit"
	"github.com/convivencia/phidiasync/internal/server/repositories/students"
	"github.com/convivencia/phidiasync/internal/server/repositories/synchistory"
	"github.com/convivencia/phidiasync/internal/server/repositories/synclogs"
	"github.com/convivencia/phidiasync/internal/server/repositories/tracking"
	"github.com/convivencia/phidiasync/internal/server/repositories/users"
	"github.com/convivencia/phidiasync/internal/server/repositories/watermarks"
)

// RepositoryManager vends repositories bound to a DBTX, so the same code
// runs against the pool or inside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Students(db dbx.DBTX) students.Repository
	Tracking(db dbx.DBTX) tracking.Repository
	SyncHistory(db dbx.DBTX) synchistory.Repository
	SyncLogs(db dbx.DBTX) synclogs.Repository
	Watermarks(db dbx.DBTX) watermarks.Repository
	Audit(db dbx.DBTX) audit.Repository
}
