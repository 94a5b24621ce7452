package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/convivencia/phidiasync/internal/common"
	"github.com/convivencia/phidiasync/internal/logging"
	"github.com/convivencia/phidiasync/internal/server/models"
	"github.com/convivencia/phidiasync/internal/server/repositories/repomanager"
	"github.com/convivencia/phidiasync/internal/server/repositories/synclogs"
)

// HistoryService owns the run lifecycle rows and their phase logs.
type HistoryService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	log         logging.Logger
	now         func() time.Time
	newID       func() string
}

func NewHistoryService(db *sql.DB, m repomanager.RepositoryManager, log logging.Logger) *HistoryService {
	return &HistoryService{
		db:          db,
		repomanager: m,
		log:         log.With("module", "history"),
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// BeginRun opens a run. It fails with common.ErrConflict while another run
// is RUNNING; no row is left behind in that case.
func (s *HistoryService) BeginRun(ctx context.Context, triggeredBy string, source models.TriggerSource) (*models.SyncHistory, error) {
	started := s.now().UTC()
	h := &models.SyncHistory{
		ID:            s.newID(),
		StartedAt:     started,
		TriggeredBy:   triggeredBy,
		TriggerSource: source,
		HeartbeatAt:   started,
	}
	if err := s.repomanager.SyncHistory(s.db).Begin(ctx, h); err != nil {
		return nil, err
	}
	s.log.Info(ctx, "sync run started", "run_id", h.ID, "triggered_by", triggeredBy, "source", string(source))
	return h, nil
}

// AppendLog records one phase result. Errors are returned as is: a run that
// cannot write its log must fail.
func (s *HistoryService) AppendLog(ctx context.Context, runID, phase string, counts models.Counts, errs []string) error {
	l := &models.SyncLog{RunID: runID, Phase: phase, Counts: counts, Errors: errs}
	if err := s.repomanager.SyncLogs(s.db).Append(ctx, l); err != nil {
		return fmt.Errorf("append sync log: %w", err)
	}
	return nil
}

// EndRun closes a run exactly once. A second call fails with common.ErrConflict.
func (s *HistoryService) EndRun(ctx context.Context, runID string, outcome models.Outcome) (time.Time, error) {
	finished := s.now().UTC()
	if err := s.repomanager.SyncHistory(s.db).End(ctx, runID, outcome, finished); err != nil {
		return time.Time{}, err
	}
	s.log.Info(ctx, "sync run finished", "run_id", runID, "outcome", string(outcome))
	return finished, nil
}

// Heartbeat records that runID is still executing. common.ErrConflict means
// the run was closed behind this process's back, e.g. by RecoverStale on
// another instance.
func (s *HistoryService) Heartbeat(ctx context.Context, runID string) error {
	if err := s.repomanager.SyncHistory(s.db).Heartbeat(ctx, runID, s.now().UTC()); err != nil {
		if errors.Is(err, common.ErrConflict) {
			return err
		}
		return fmt.Errorf("sync run heartbeat: %w", err)
	}
	return nil
}

func (s *HistoryService) GetRun(ctx context.Context, runID string) (*models.SyncHistory, error) {
	return s.repomanager.SyncHistory(s.db).Get(ctx, runID)
}

// ListHistory returns runs most recent first.
func (s *HistoryService) ListHistory(ctx context.Context, limit, offset int) ([]models.SyncHistory, error) {
	return s.repomanager.SyncHistory(s.db).List(ctx, limit, offset)
}

// ListLogs returns phase logs in insertion order.
func (s *HistoryService) ListLogs(ctx context.Context, f synclogs.Filter, limit, offset int) ([]models.SyncLog, error) {
	return s.repomanager.SyncLogs(s.db).List(ctx, f, limit, offset)
}

// Running returns the RUNNING row, or nil when the engine is idle.
func (s *HistoryService) Running(ctx context.Context) (*models.SyncHistory, error) {
	h, err := s.repomanager.SyncHistory(s.db).Running(ctx)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, nil
	}
	return h, err
}

// LastFinished returns the most recently closed run, or nil if none.
func (s *HistoryService) LastFinished(ctx context.Context) (*models.SyncHistory, error) {
	h, err := s.repomanager.SyncHistory(s.db).LastFinished(ctx)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, nil
	}
	return h, err
}

// RecoverStale fails RUNNING runs whose last heartbeat is older than
// olderThan, typically left by a process that died mid-run, so that new runs
// can start. A live run keeps heartbeating however long it takes.
func (s *HistoryService) RecoverStale(ctx context.Context, olderThan time.Duration) ([]string, error) {
	now := s.now().UTC()
	ids, err := s.repomanager.SyncHistory(s.db).FailStale(ctx, now.Add(-olderThan), now)
	if err != nil {
		return nil, err
	}

	note := fmt.Sprintf("run abandoned: no heartbeat for %s, closed as FAILED", olderThan)
	for _, id := range ids {
		s.log.Warn(ctx, "stale sync run closed", "run_id", id)
		if err := s.AppendLog(ctx, id, "recovery", models.Counts{}, []string{note}); err != nil {
			return ids, err
		}
	}
	return ids, nil
}
