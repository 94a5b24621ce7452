// Package watermarks stores the per-entity incremental sync marker.
package watermarks

import (
	"context"
	"time"

	"github.com/convivencia/phidiasync/internal/server/models"
)

type Repository interface {
	// Get returns the marker for entity; ok is false when none is stored.
	Get(ctx context.Context, entity string) (marker time.Time, ok bool, err error)
	// Advance moves the marker forward. A marker not after the stored one
	// is ignored.
	Advance(ctx context.Context, entity string, marker time.Time) error
	List(ctx context.Context) ([]models.Watermark, error)
}
