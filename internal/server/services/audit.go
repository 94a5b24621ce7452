package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/convivencia/phidiasync/internal/logging"
	"github.com/convivencia/phidiasync/internal/server/auth"
	"github.com/convivencia/phidiasync/internal/server/models"
	"github.com/convivencia/phidiasync/internal/server/repositories/audit"
	"github.com/convivencia/phidiasync/internal/server/repositories/repomanager"
)

// RequestContext describes where an audited action came from.
type RequestContext struct {
	Origin    string
	UserAgent string
	Details   map[string]string
}

// with returns a copy of rc with extra details merged in.
func (rc RequestContext) with(kv ...string) RequestContext {
	details := make(map[string]string, len(rc.Details)+len(kv)/2)
	for k, v := range rc.Details {
		details[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		details[kv[i]] = kv[i+1]
	}
	rc.Details = details
	return rc
}

// defaultBestEffortTimeout bounds audit writes whose failure is tolerated.
const defaultBestEffortTimeout = 2 * time.Second

// AuditService appends security events and reads them back for review.
//
// LOGOUT and SYNC_ACCESS_DENIED are best-effort: the write is bounded by a
// short timeout and a failure is logged, not returned. Every other event
// type returns the store error to the caller.
type AuditService struct {
	db                *sql.DB
	repomanager       repomanager.RepositoryManager
	log               logging.Logger
	now               func() time.Time
	bestEffortTimeout time.Duration
}

func NewAuditService(db *sql.DB, m repomanager.RepositoryManager, log logging.Logger) *AuditService {
	return &AuditService{
		db:                db,
		repomanager:       m,
		log:               log.With("module", "audit"),
		now:               time.Now,
		bestEffortTimeout: defaultBestEffortTimeout,
	}
}

// BestEffort reports whether failures to record t are swallowed.
func BestEffort(t models.EventType) bool {
	return t == models.EventLogout || t == models.EventSyncAccessDenied
}

// Record appends one audit record. p may be nil for events without an
// authenticated principal, such as a failed login.
func (s *AuditService) Record(ctx context.Context, t models.EventType, p *auth.Principal, rc RequestContext) error {
	rec := &models.AuditRecord{
		EventType:  t,
		OccurredAt: s.now().UTC(),
		Origin:     rc.Origin,
		UserAgent:  rc.UserAgent,
		Details:    rc.Details,
	}
	if p != nil {
		rec.PrincipalID = p.ID
		rec.PrincipalName = p.DisplayName
		if rec.PrincipalName == "" {
			rec.PrincipalName = p.Username
		}
	}

	if !BestEffort(t) {
		if err := s.repomanager.Audit(s.db).Insert(ctx, rec); err != nil {
			return fmt.Errorf("record %s: %w", t, err)
		}
		return nil
	}

	// Detached from the caller so a cancelled request still gets a chance
	// to be audited, but never for longer than bestEffortTimeout.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.bestEffortTimeout)
	defer cancel()

	if err := s.repomanager.Audit(s.db).Insert(wctx, rec); err != nil {
		s.log.Warn(ctx, "audit record dropped", "event_type", string(t), "principal_id", rec.PrincipalID, "error", err)
	}
	return nil
}

// List returns audit records newest first.
func (s *AuditService) List(ctx context.Context, f audit.Filter, limit, offset int) ([]models.AuditRecord, error) {
	return s.repomanager.Audit(s.db).List(ctx, f, limit, offset)
}
