package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/convivencia/phidiasync/internal/common"
	"github.com/convivencia/phidiasync/internal/logging"
	"github.com/convivencia/phidiasync/internal/server/models"
	"github.com/convivencia/phidiasync/internal/server/repositories/repomanager"
)

// ConfigurationService manages which tracking streams the orchestrator polls.
type ConfigurationService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	log         logging.Logger
}

func NewConfigurationService(db *sql.DB, m repomanager.RepositoryManager, log logging.Logger) *ConfigurationService {
	return &ConfigurationService{db: db, repomanager: m, log: log.With("module", "configurations")}
}

// List returns configurations ordered by level, category.
func (s *ConfigurationService) List(ctx context.Context) ([]models.TrackingConfiguration, error) {
	return s.repomanager.Tracking(s.db).ListConfigurations(ctx)
}

// Upsert maps (level, category) to a tracking stream, replacing any
// previous mapping. All three fields are required.
func (s *ConfigurationService) Upsert(ctx context.Context, c *models.TrackingConfiguration) error {
	c.Level = strings.TrimSpace(c.Level)
	c.Category = strings.TrimSpace(c.Category)
	c.TrackingID = strings.TrimSpace(c.TrackingID)
	if c.Level == "" || c.Category == "" || c.TrackingID == "" {
		return fmt.Errorf("%w: level, category and tracking_id are required", common.ErrInvalidRecord)
	}

	if err := s.repomanager.Tracking(s.db).UpsertConfiguration(ctx, c); err != nil {
		return err
	}
	s.log.Info(ctx, "tracking configuration saved", "level", c.Level, "category", c.Category, "tracking_id", c.TrackingID)
	return nil
}
