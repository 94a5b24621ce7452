// Package synchistory stores one row per sync run. The partial unique index
// on running rows makes Begin the single-flight gate.
package synchistory

import (
	"context"
	"time"

	"github.com/convivencia/phidiasync/internal/server/models"
)

type Repository interface {
	// Begin inserts a running row. common.ErrConflict if one is already running.
	Begin(ctx context.Context, h *models.SyncHistory) error
	// End closes a running row. common.ErrConflict if it is already closed,
	// common.ErrorNotFound if it does not exist.
	End(ctx context.Context, runID string, outcome models.Outcome, finishedAt time.Time) error
	Get(ctx context.Context, runID string) (*models.SyncHistory, error)
	// List returns runs most recent first.
	List(ctx context.Context, limit, offset int) ([]models.SyncHistory, error)
	// Running returns the running row, or common.ErrorNotFound.
	Running(ctx context.Context) (*models.SyncHistory, error)
	// LastFinished returns the most recently finished run, or common.ErrorNotFound.
	LastFinished(ctx context.Context) (*models.SyncHistory, error)
	// Heartbeat marks a running row as alive. common.ErrConflict if it is no
	// longer running, common.ErrorNotFound if it does not exist.
	Heartbeat(ctx context.Context, runID string, at time.Time) error
	// FailStale closes running rows whose last heartbeat is before cutoff
	// as FAILED and returns their ids.
	FailStale(ctx context.Context, cutoff, finishedAt time.Time) ([]string, error)
}
