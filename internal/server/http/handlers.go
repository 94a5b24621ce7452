package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/convivencia/phidiasync/internal/common"
	"github.com/convivencia/phidiasync/internal/server/models"
	"github.com/convivencia/phidiasync/internal/server/repositories/audit"
	"github.com/convivencia/phidiasync/internal/server/repositories/synclogs"
	"github.com/convivencia/phidiasync/internal/server/services"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	res, err := s.sessions.Login(r.Context(), req.Username, req.Password, s.requestContext(r))
	if err != nil {
		if errors.Is(err, common.ErrorUnauthorized) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
		s.logger.Error(r.Context(), "login", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     common.SessionCookieName,
		Value:    res.Token,
		Path:     "/",
		Expires:  res.ExpiresAt,
		HttpOnly: true,
		Secure:   s.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, loginResponse{Token: res.Token, ExpiresAt: res.ExpiresAt, Principal: newPrincipalView(res.Principal)})
}

// handleLogout always clears the cookie and never fails.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	ended := s.sessions.Logout(r.Context(), requestToken(r), s.requestContext(r))

	http.SetCookie(w, &http.Cookie{
		Name:     common.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"session_ended": ended})
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	runs, err := s.history.ListHistory(r.Context(), limit, offset)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": newRunViews(runs)})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseRunID(chi.URLParam(r, "runID"))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	run, err := s.history.GetRun(r.Context(), runID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	logs, err := s.history.ListLogs(r.Context(), synclogs.Filter{RunID: runID}, maxLimit, 0)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": newRunView(run), "logs": newLogViews(logs)})
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	runID := q.Get("run_id")
	if runID != "" {
		if runID, ok = parseRunID(runID); !ok {
			writeError(w, http.StatusBadRequest, "invalid_run_id")
			return
		}
	}
	logs, err := s.history.ListLogs(r.Context(), synclogs.Filter{RunID: runID, Phase: q.Get("phase")}, limit, offset)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": newLogViews(logs)})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Status(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newStatusView(st))
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	runID, err := s.engine.Start(r.Context(), services.Trigger{
		Principal: *p,
		Source:    models.SourceManual,
		Request:   s.requestContext(r),
	})
	if err != nil {
		if errors.Is(err, common.ErrConflict) {
			writeError(w, http.StatusConflict, "sync_already_running")
			return
		}
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseRunID(chi.URLParam(r, "runID"))
	if !ok {
		writeError(w, http.StatusNotFound, "not_running")
		return
	}
	err := s.engine.Abort(r.Context(), runID, principalFrom(r), s.requestContext(r))
	if err != nil {
		if errors.Is(err, common.ErrNotRunning) {
			writeError(w, http.StatusNotFound, "not_running")
			return
		}
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "status": "aborting"})
}

func (s *Server) handleListConfigurations(w http.ResponseWriter, r *http.Request) {
	cs, err := s.configurations.List(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]configurationView, 0, len(cs))
	for _, c := range cs {
		out = append(out, newConfigurationView(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"configurations": out})
}

func (s *Server) handleUpsertConfiguration(w http.ResponseWriter, r *http.Request) {
	var req configurationView
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	c := &models.TrackingConfiguration{Level: req.Level, Category: req.Category, TrackingID: req.TrackingID}
	if err := s.configurations.Upsert(r.Context(), c); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newConfigurationView(*c))
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	f := audit.Filter{EventType: models.EventType(q.Get("event_type")), PrincipalID: q.Get("principal_id")}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_since")
			return
		}
		f.Since = since
	}

	recs, err := s.audit.List(r.Context(), f, limit, offset)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": newAuditViews(recs)})
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, common.ErrorNotFound):
		writeError(w, http.StatusNotFound, "not_found")
	case errors.Is(err, common.ErrConflict):
		writeError(w, http.StatusConflict, "conflict")
	case errors.Is(err, common.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, common.ErrorUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, common.ErrInvalidRecord):
		writeError(w, http.StatusBadRequest, "invalid_request")
	default:
		s.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
	}
}

// parseRunID returns id in canonical form, or false when it cannot name a
// run. Run ids are UUIDs and the store rejects anything else with an error
// rather than a miss.
func parseRunID(id string) (string, bool) {
	u, err := uuid.Parse(id)
	if err != nil {
		return "", false
	}
	return u.String(), true
}

// pagination parses limit and offset, writing a 400 on bad input.
func pagination(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	q := r.URL.Query()
	limit, offset = defaultLimit, 0

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return 0, 0, false
		}
		limit = min(n, maxLimit)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_offset")
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}
