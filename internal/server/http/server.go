// Package http is the JSON API for sessions, sync operations and the audit
// trail.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/convivencia/phidiasync/internal/logging"
	"github.com/convivencia/phidiasync/internal/server/auth"
	"github.com/convivencia/phidiasync/internal/server/models"
	"github.com/convivencia/phidiasync/internal/server/repositories/audit"
	"github.com/convivencia/phidiasync/internal/server/repositories/synclogs"
	"github.com/convivencia/phidiasync/internal/server/services"
)

// Sessions issues and terminates sessions.
type Sessions interface {
	Login(ctx context.Context, username, password string, rc services.RequestContext) (*services.LoginResult, error)
	Logout(ctx context.Context, token string, rc services.RequestContext) bool
}

// SyncEngine starts, aborts and reports on sync runs.
type SyncEngine interface {
	Start(ctx context.Context, t services.Trigger) (string, error)
	Abort(ctx context.Context, runID string, p *auth.Principal, rc services.RequestContext) error
	Status(ctx context.Context) (*services.Status, error)
}

// History reads past runs and their logs.
type History interface {
	GetRun(ctx context.Context, runID string) (*models.SyncHistory, error)
	ListHistory(ctx context.Context, limit, offset int) ([]models.SyncHistory, error)
	ListLogs(ctx context.Context, f synclogs.Filter, limit, offset int) ([]models.SyncLog, error)
}

// Audit records and lists security events.
type Audit interface {
	Record(ctx context.Context, t models.EventType, p *auth.Principal, rc services.RequestContext) error
	List(ctx context.Context, f audit.Filter, limit, offset int) ([]models.AuditRecord, error)
}

// Configurations manages tracking stream mappings.
type Configurations interface {
	List(ctx context.Context) ([]models.TrackingConfiguration, error)
	Upsert(ctx context.Context, c *models.TrackingConfiguration) error
}

// Authenticator resolves a bearer token into a live session.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*auth.Session, error)
}

type Server struct {
	address        string
	sessions       Sessions
	engine         SyncEngine
	history        History
	audit          Audit
	configurations Configurations
	authn          Authenticator
	logger         logging.Logger
	metrics        http.Handler
	// secureCookie marks the session cookie Secure; off for plain-HTTP
	// development setups.
	secureCookie bool
	// trustProxy takes the audited client address from forwarding headers.
	trustProxy bool
}

// Deps groups the collaborators of Server.
type Deps struct {
	Sessions       Sessions
	Engine         SyncEngine
	History        History
	Audit          Audit
	Configurations Configurations
	Authn          Authenticator
	// Metrics serves /metrics; nil means the default Prometheus registry.
	Metrics      http.Handler
	SecureCookie bool
	// TrustProxy honours X-Forwarded-For and X-Real-IP. Enable only behind
	// a reverse proxy that overwrites them.
	TrustProxy bool
}

func NewServer(address string, d Deps, l logging.Logger) *Server {
	metrics := d.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	return &Server{
		address:        address,
		sessions:       d.Sessions,
		engine:         d.Engine,
		history:        d.History,
		audit:          d.Audit,
		configurations: d.Configurations,
		authn:          d.Authn,
		logger:         l.With("module", "http_server"),
		metrics:        metrics,
		secureCookie:   d.SecureCookie,
		trustProxy:     d.TrustProxy,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", s.metrics)

	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/logout", s.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(s.requireRole(auth.RoleAdmin))

		r.Get("/sync/history", s.handleListHistory)
		r.Get("/sync/runs/{runID}", s.handleGetRun)
		r.Get("/sync/logs", s.handleListLogs)
		r.Get("/sync/status", s.handleStatus)
		r.Post("/sync/runs", s.handleTrigger)
		r.Post("/sync/runs/{runID}/abort", s.handleAbort)
		r.Get("/sync/tracking-configurations", s.handleListConfigurations)
		r.Put("/sync/tracking-configurations", s.handleUpsertConfiguration)
		r.Get("/audit", s.handleListAudit)
	})

	return r
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "Starting HTTP server", "address", s.address)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info(ctx, "Stopping HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
