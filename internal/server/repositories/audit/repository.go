// Package audit stores the append-only security event trail.
package audit

import (
	"context"
	"time"

	"github.com/convivencia/phidiasync/internal/server/models"
)

// Filter narrows List. Zero fields match everything.
type Filter struct {
	EventType   models.EventType
	PrincipalID string
	Since       time.Time
}

type Repository interface {
	Insert(ctx context.Context, rec *models.AuditRecord) error
	// List returns records newest first.
	List(ctx context.Context, f Filter, limit, offset int) ([]models.AuditRecord, error)
}
