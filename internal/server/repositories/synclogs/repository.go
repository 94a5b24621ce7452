// Package synclogs stores the append-only per-phase log of each run.
package synclogs

import (
	"context"

	"github.com/convivencia/phidiasync/internal/server/models"
)

// Filter narrows List. Zero fields match everything.
type Filter struct {
	RunID string
	Phase string
}

type Repository interface {
	Append(ctx context.Context, l *models.SyncLog) error
	// List returns logs in insertion order.
	List(ctx context.Context, f Filter, limit, offset int) ([]models.SyncLog, error)
}
