// Package students persists the local roster. Only upstream-sourced columns
// are ever written by these methods; local-only columns are left alone.
package students

import (
	"context"

	"github.com/convivencia/phidiasync/internal/server/models"
)

type Repository interface {
	// GetByCodes returns the stored students among codes, keyed by code.
	GetByCodes(ctx context.Context, codes []string) (map[string]*models.Student, error)
	Insert(ctx context.Context, s *models.Student) error
	// UpdateSynced overwrites the upstream-sourced fields of the student with s.Code.
	UpdateSynced(ctx context.Context, s *models.Student) error
}
