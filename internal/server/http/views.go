package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/convivencia/phidiasync/internal/server/auth"
	"github.com/convivencia/phidiasync/internal/server/models"
	"github.com/convivencia/phidiasync/internal/server/services"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type principalView struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	GroupCode   string `json:"group_code,omitempty"`
}

type loginResponse struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
	Principal principalView `json:"principal"`
}

type runView struct {
	ID            string     `json:"id"`
	Status        string     `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	TriggeredBy   string     `json:"triggered_by"`
	TriggerSource string     `json:"trigger_source"`
}

type logView struct {
	ID        int64         `json:"id"`
	RunID     string        `json:"run_id"`
	Phase     string        `json:"phase"`
	Counts    models.Counts `json:"counts"`
	Errors    []string      `json:"errors"`
	CreatedAt time.Time     `json:"created_at"`
}

type watermarkView struct {
	Entity    string    `json:"entity"`
	Marker    time.Time `json:"marker"`
	UpdatedAt time.Time `json:"updated_at"`
}

type statusView struct {
	Running      *runView        `json:"running"`
	LastFinished *runView        `json:"last_finished"`
	Watermarks   []watermarkView `json:"watermarks"`
}

type configurationView struct {
	ID         string    `json:"id,omitempty"`
	Level      string    `json:"level"`
	Category   string    `json:"category"`
	TrackingID string    `json:"tracking_id"`
	CreatedAt  time.Time `json:"created_at,omitzero"`
}

type auditView struct {
	ID            string            `json:"id"`
	EventType     string            `json:"event_type"`
	PrincipalID   string            `json:"principal_id,omitempty"`
	PrincipalName string            `json:"principal_name,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
	Origin        string            `json:"origin,omitempty"`
	UserAgent     string            `json:"user_agent,omitempty"`
	Details       map[string]string `json:"details,omitempty"`
}

func newPrincipalView(p auth.Principal) principalView {
	return principalView{
		ID:          p.ID,
		Username:    p.Username,
		DisplayName: p.DisplayName,
		Role:        string(p.Role),
		GroupCode:   p.GroupCode,
	}
}

func newRunView(h *models.SyncHistory) *runView {
	if h == nil {
		return nil
	}
	return &runView{
		ID:            h.ID,
		Status:        h.Status(),
		StartedAt:     h.StartedAt,
		FinishedAt:    h.FinishedAt,
		TriggeredBy:   h.TriggeredBy,
		TriggerSource: string(h.TriggerSource),
	}
}

func newRunViews(hs []models.SyncHistory) []runView {
	out := make([]runView, 0, len(hs))
	for i := range hs {
		out = append(out, *newRunView(&hs[i]))
	}
	return out
}

func newLogViews(ls []models.SyncLog) []logView {
	out := make([]logView, 0, len(ls))
	for _, l := range ls {
		errs := l.Errors
		if errs == nil {
			errs = []string{}
		}
		out = append(out, logView{ID: l.ID, RunID: l.RunID, Phase: l.Phase, Counts: l.Counts, Errors: errs, CreatedAt: l.CreatedAt})
	}
	return out
}

func newStatusView(st *services.Status) statusView {
	v := statusView{
		Running:      newRunView(st.Running),
		LastFinished: newRunView(st.LastFinished),
		Watermarks:   make([]watermarkView, 0, len(st.Watermarks)),
	}
	for _, w := range st.Watermarks {
		v.Watermarks = append(v.Watermarks, watermarkView{Entity: w.Entity, Marker: w.Marker, UpdatedAt: w.UpdatedAt})
	}
	return v
}

func newConfigurationView(c models.TrackingConfiguration) configurationView {
	return configurationView{ID: c.ID, Level: c.Level, Category: c.Category, TrackingID: c.TrackingID, CreatedAt: c.CreatedAt}
}

func newAuditViews(rs []models.AuditRecord) []auditView {
	out := make([]auditView, 0, len(rs))
	for _, r := range rs {
		out = append(out, auditView{
			ID:            r.ID,
			EventType:     string(r.EventType),
			PrincipalID:   r.PrincipalID,
			PrincipalName: r.PrincipalName,
			OccurredAt:    r.OccurredAt,
			Origin:        r.Origin,
			UserAgent:     r.UserAgent,
			Details:       r.Details,
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
