// Package jobs runs periodic background work, currently the scheduled
// sync trigger.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/convivencia/phidiasync/internal/common"
	"github.com/convivencia/phidiasync/internal/logging"
	"github.com/convivencia/phidiasync/internal/server/auth"
	"github.com/convivencia/phidiasync/internal/server/models"
	"github.com/convivencia/phidiasync/internal/server/services"
)

// SystemPrincipal triggers scheduled runs.
var SystemPrincipal = auth.Principal{
	ID:          "system:scheduler",
	Username:    "scheduler",
	DisplayName: "Scheduled sync",
	Role:        auth.RoleAdmin,
}

// Runner executes one sync run; *services.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, t services.Trigger) (*services.RunReport, error)
}

// SyncScheduler triggers a run every interval. A tick that finds a run in
// progress is skipped.
type SyncScheduler struct {
	runner   Runner
	interval time.Duration
	log      logging.Logger
}

func NewSyncScheduler(r Runner, interval time.Duration, log logging.Logger) *SyncScheduler {
	return &SyncScheduler{runner: r, interval: interval, log: log.With("module", "scheduler")}
}

// Run blocks until ctx is done. A non-positive interval disables it.
func (s *SyncScheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.log.Info(ctx, "scheduled sync disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info(ctx, "scheduled sync enabled", "interval", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *SyncScheduler) tick(ctx context.Context) {
	report, err := s.runner.Run(ctx, services.Trigger{
		Principal: SystemPrincipal,
		Source:    models.SourceSchedule,
		Request:   services.RequestContext{Origin: "scheduler"},
	})
	switch {
	case errors.Is(err, common.ErrConflict):
		s.log.Info(ctx, "scheduled sync skipped: run in progress")
	case err != nil:
		s.log.Error(ctx, "scheduled sync", "error", err)
	default:
		s.log.Info(ctx, "scheduled sync finished", "run_id", report.RunID, "outcome", string(report.Outcome))
	}
}
