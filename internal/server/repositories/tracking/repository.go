// Package tracking persists tracking configurations and the behavioral
// records pulled from each tracking stream.
package tracking

import (
	"context"

	"github.com/convivencia/phidiasync/internal/server/models"
)

type Repository interface {
	// ListConfigurations returns all configurations ordered by level, category.
	ListConfigurations(ctx context.Context) ([]models.TrackingConfiguration, error)
	// UpsertConfiguration creates or retargets the (level, category) mapping.
	UpsertConfiguration(ctx context.Context, c *models.TrackingConfiguration) error

	GetRecordsByExternalIDs(ctx context.Context, ids []string) (map[string]*models.TrackingRecord, error)
	InsertRecord(ctx context.Context, rec *models.TrackingRecord) error
	UpdateSyncedRecord(ctx context.Context, rec *models.TrackingRecord) error
}
