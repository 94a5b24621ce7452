package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convivencia/phidiasync/internal/common"
	"github.com/convivencia/phidiasync/internal/logging"
	"github.com/convivencia/phidiasync/internal/server/auth"
	"github.com/convivencia/phidiasync/internal/server/models"
	"github.com/convivencia/phidiasync/internal/server/repositories/audit"
	"github.com/convivencia/phidiasync/internal/server/repositories/synclogs"
	"github.com/convivencia/phidiasync/internal/server/services"
)

var (
	admin   = auth.Principal{ID: "u-admin", Username: "admin", DisplayName: "Admin", Role: auth.RoleAdmin}
	teacher = auth.Principal{ID: "u-teacher", Username: "tutor", DisplayName: "Tutor", Role: auth.RoleTeacher, GroupCode: "3B"}
)

type fakeSessions struct {
	loginErr   error
	loggedOut  []string
	logoutDone bool
}

func (f *fakeSessions) Login(_ context.Context, username, password string, _ services.RequestContext) (*services.LoginResult, error) {
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	if password != "s3cret" {
		return nil, common.ErrorUnauthorized
	}
	return &services.LoginResult{Token: "tok-" + username, ExpiresAt: time.Now().Add(time.Hour), Principal: admin}, nil
}

func (f *fakeSessions) Logout(_ context.Context, token string, _ services.RequestContext) bool {
	f.loggedOut = append(f.loggedOut, token)
	return f.logoutDone
}

type fakeEngine struct {
	startErr error
	abortErr error
	started  []services.Trigger
	aborted  []string
}

func (f *fakeEngine) Start(_ context.Context, t services.Trigger) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started = append(f.started, t)
	return "run-1", nil
}

func (f *fakeEngine) Abort(_ context.Context, runID string, _ *auth.Principal, _ services.RequestContext) error {
	if f.abortErr != nil {
		return f.abortErr
	}
	f.aborted = append(f.aborted, runID)
	return nil
}

func (f *fakeEngine) Status(context.Context) (*services.Status, error) {
	out := models.OutcomeSuccess
	done := time.Date(2025, 9, 1, 9, 0, 0, 0, time.UTC)
	return &services.Status{
		LastFinished: &models.SyncHistory{ID: "run-0", Outcome: &out, FinishedAt: &done},
		Watermarks:   []models.Watermark{{Entity: "students", Marker: done}},
	}, nil
}

type fakeHistory struct {
	runs   []models.SyncHistory
	logs   []models.SyncLog
	filter synclogs.Filter
	limit  int
	offset int
}

func (f *fakeHistory) GetRun(_ context.Context, runID string) (*models.SyncHistory, error) {
	for i := range f.runs {
		if f.runs[i].ID == runID {
			return &f.runs[i], nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeHistory) ListHistory(_ context.Context, limit, offset int) ([]models.SyncHistory, error) {
	f.limit, f.offset = limit, offset
	return f.runs, nil
}

func (f *fakeHistory) ListLogs(_ context.Context, filter synclogs.Filter, limit, offset int) ([]models.SyncLog, error) {
	f.filter, f.limit, f.offset = filter, limit, offset
	return f.logs, nil
}

type fakeAudit struct {
	mu      sync.Mutex
	records []models.AuditRecord
	filter  audit.Filter
}

func (f *fakeAudit) Record(_ context.Context, t models.EventType, p *auth.Principal, rc services.RequestContext) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := models.AuditRecord{EventType: t, Origin: rc.Origin, Details: rc.Details}
	if p != nil {
		rec.PrincipalID = p.ID
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeAudit) List(_ context.Context, filter audit.Filter, _, _ int) ([]models.AuditRecord, error) {
	f.filter = filter
	return f.records, nil
}

type fakeConfigurations struct {
	saved []models.TrackingConfiguration
}

func (f *fakeConfigurations) List(context.Context) ([]models.TrackingConfiguration, error) {
	return f.saved, nil
}

func (f *fakeConfigurations) Upsert(_ context.Context, c *models.TrackingConfiguration) error {
	if c.TrackingID == "" {
		return common.ErrInvalidRecord
	}
	c.ID = "cfg-1"
	f.saved = append(f.saved, *c)
	return nil
}

type fixture struct {
	srv      *Server
	handler  http.Handler
	tokens   *auth.TokenService
	revoker  *auth.MemoryRevoker
	sessions *fakeSessions
	engine   *fakeEngine
	history  *fakeHistory
	audit    *fakeAudit
	configs  *fakeConfigurations
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tokens := auth.NewTokenService([]byte("http-test"), time.Hour, nil)
	revoker := auth.NewMemoryRevoker(nil)
	f := &fixture{
		tokens:   tokens,
		revoker:  revoker,
		sessions: &fakeSessions{},
		engine:   &fakeEngine{},
		history:  &fakeHistory{},
		audit:    &fakeAudit{},
		configs:  &fakeConfigurations{},
	}
	f.srv = NewServer("127.0.0.1:0", Deps{
		Sessions:       f.sessions,
		Engine:         f.engine,
		History:        f.history,
		Audit:          f.audit,
		Configurations: f.configs,
		Authn:          auth.NewAuthenticator(tokens, revoker),
		Metrics:        http.NotFoundHandler(),
	}, logging.Nop())
	f.handler = f.srv.Router()
	return f
}

func (f *fixture) token(t *testing.T, p auth.Principal) string {
	t.Helper()
	tok, _, err := f.tokens.Issue(p)
	require.NoError(t, err)
	return tok
}

func (f *fixture) do(method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rr := f.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", decode(t, rr)["status"])
}

func TestLogin(t *testing.T) {
	f := newFixture(t)

	rr := f.do(http.MethodPost, "/auth/login", "", `{"username":"admin","password":"s3cret"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, "tok-admin", body["token"])
	assert.Equal(t, "admin", body["principal"].(map[string]any)["role"])

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, common.SessionCookieName, cookies[0].Name)
	assert.Equal(t, "tok-admin", cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)

	rr = f.do(http.MethodPost, "/auth/login", "", `{"username":"admin","password":"bad"}`)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "invalid_credentials", decode(t, rr)["error"])

	rr = f.do(http.MethodPost, "/auth/login", "", `{"username":"admin"`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	f.sessions.loginErr = errors.New("audit store down")
	rr = f.do(http.MethodPost, "/auth/login", "", `{"username":"admin","password":"s3cret"}`)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestLogin_SecureCookie(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.login(t).Secure)

	f.srv.secureCookie = true
	f.handler = f.srv.Router()
	assert.True(t, f.login(t).Secure)
}

func (f *fixture) login(t *testing.T) *http.Cookie {
	t.Helper()
	rr := f.do(http.MethodPost, "/auth/login", "", `{"username":"admin","password":"s3cret"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	return cookies[0]
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:51234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	assert.Equal(t, "10.0.0.7", clientIP(req, false))
	assert.Equal(t, "203.0.113.9", clientIP(req, true))

	req.Header.Del("X-Forwarded-For")
	req.Header.Set("X-Real-IP", "198.51.100.4")
	assert.Equal(t, "10.0.0.7", clientIP(req, false))
	assert.Equal(t, "198.51.100.4", clientIP(req, true))
}

func TestAuditOrigin_IgnoresSpoofedForwardingHeader(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, teacher)

	send := func() {
		req := httptest.NewRequest(http.MethodGet, "/sync/history", nil)
		req.RemoteAddr = "192.0.2.50:40000"
		req.Header.Set("Authorization", "Bearer "+tok)
		req.Header.Set("X-Forwarded-For", "127.0.0.1")
		f.handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	send()
	require.Len(t, f.audit.records, 1)
	assert.Equal(t, "192.0.2.50", f.audit.records[0].Origin)

	f.srv.trustProxy = true
	f.handler = f.srv.Router()
	send()
	require.Len(t, f.audit.records, 2)
	assert.Equal(t, "127.0.0.1", f.audit.records[1].Origin)
}

func TestLogout_AlwaysClearsCookie(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: common.SessionCookieName, Value: "from-cookie"})
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, false, decode(t, rr)["session_ended"])
	assert.Equal(t, []string{"from-cookie"}, f.sessions.loggedOut)

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func TestAuthGate(t *testing.T) {
	f := newFixture(t)

	expired := auth.NewTokenService([]byte("http-test"), time.Minute, func() time.Time { return time.Now().Add(-time.Hour) })
	expiredTok, _, err := expired.Issue(admin)
	require.NoError(t, err)

	revokedTok := f.token(t, admin)
	sess, err := f.tokens.ValidateSession(revokedTok)
	require.NoError(t, err)
	require.NoError(t, f.revoker.Revoke(context.Background(), sess.TokenID, sess.ExpiresAt))

	tests := []struct {
		name  string
		token string
		code  int
		err   string
	}{
		{"missing", "", http.StatusUnauthorized, "missing_token"},
		{"garbage", "not.a.jwt", http.StatusUnauthorized, "invalid_token"},
		{"expired", expiredTok, http.StatusUnauthorized, "token_expired"},
		{"revoked", revokedTok, http.StatusUnauthorized, "invalid_token"},
		{"wrong role", f.token(t, teacher), http.StatusForbidden, "forbidden"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := f.do(http.MethodGet, "/sync/history", tc.token, "")
			assert.Equal(t, tc.code, rr.Code)
			assert.Equal(t, tc.err, decode(t, rr)["error"])
		})
	}

	require.Len(t, f.audit.records, 1)
	assert.Equal(t, models.EventSyncAccessDenied, f.audit.records[0].EventType)
	assert.Equal(t, teacher.ID, f.audit.records[0].PrincipalID)
	assert.Equal(t, "/sync/history", f.audit.records[0].Details["path"])
}

func TestAuthGate_CookieToken(t *testing.T) {
	f := newFixture(t)
	f.history.runs = []models.SyncHistory{{ID: "r1", StartedAt: time.Now()}}

	req := httptest.NewRequest(http.MethodGet, "/sync/history", nil)
	req.AddCookie(&http.Cookie{Name: common.SessionCookieName, Value: f.token(t, admin)})
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	runs := decode(t, rr)["runs"].([]any)
	require.Len(t, runs, 1)
	assert.Equal(t, "RUNNING", runs[0].(map[string]any)["status"])
}

func TestListHistory_Pagination(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, admin)

	rr := f.do(http.MethodGet, "/sync/history", tok, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 50, f.history.limit)
	assert.Equal(t, 0, f.history.offset)

	rr = f.do(http.MethodGet, "/sync/history?limit=9000&offset=10", tok, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 500, f.history.limit)
	assert.Equal(t, 10, f.history.offset)

	rr = f.do(http.MethodGet, "/sync/history?limit=0", tok, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = f.do(http.MethodGet, "/sync/history?offset=-1", tok, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

const (
	runA = "0f8b6a52-3c1e-4d7a-9b2f-6e5d4c3b2a10"
	runB = "5a1c9e77-8d20-4f3b-a6c4-1b2d3e4f5a6b"
)

func TestGetRunAndLogs(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, admin)
	out := models.OutcomePartial
	f.history.runs = []models.SyncHistory{{ID: runA, Outcome: &out}}
	f.history.logs = []models.SyncLog{{ID: 1, RunID: runA, Phase: "students", Counts: models.Counts{Failed: 1}, Errors: []string{"page 1: record 2: bad"}}}

	rr := f.do(http.MethodGet, "/sync/runs/"+runA, tok, "")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, "PARTIAL", body["run"].(map[string]any)["status"])
	logs := body["logs"].([]any)
	require.Len(t, logs, 1)
	assert.Equal(t, 1.0, logs[0].(map[string]any)["counts"].(map[string]any)["failed"])
	assert.Equal(t, runA, f.history.filter.RunID)

	rr = f.do(http.MethodGet, "/sync/runs/"+runB, tok, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(http.MethodGet, "/sync/logs?run_id="+runA+"&phase=students", tok, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, synclogs.Filter{RunID: runA, Phase: "students"}, f.history.filter)
}

func TestRunIDValidation(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, admin)

	tests := []struct {
		name   string
		method string
		path   string
		code   int
		err    string
	}{
		{"get run", http.MethodGet, "/sync/runs/nope", http.StatusNotFound, "not_found"},
		{"abort", http.MethodPost, "/sync/runs/nope/abort", http.StatusNotFound, "not_running"},
		{"logs filter", http.MethodGet, "/sync/logs?run_id=nope", http.StatusBadRequest, "invalid_run_id"},
		{"truncated", http.MethodGet, "/sync/logs?run_id=" + runA[:8], http.StatusBadRequest, "invalid_run_id"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := f.do(tc.method, tc.path, tok, "")
			assert.Equal(t, tc.code, rr.Code)
			assert.Equal(t, tc.err, decode(t, rr)["error"])
		})
	}

	// Nothing malformed reaches the store or the engine.
	assert.Equal(t, synclogs.Filter{}, f.history.filter)
	assert.Empty(t, f.engine.aborted)

	// Ids are passed on in canonical form.
	rr := f.do(http.MethodGet, "/sync/logs?run_id="+strings.ToUpper(runA), tok, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, runA, f.history.filter.RunID)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	rr := f.do(http.MethodGet, "/sync/status", f.token(t, admin), "")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.Nil(t, body["running"])
	assert.Equal(t, "SUCCESS", body["last_finished"].(map[string]any)["status"])
	assert.Len(t, body["watermarks"].([]any), 1)
}

func TestTrigger(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, admin)

	rr := f.do(http.MethodPost, "/sync/runs", tok, "")
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, "run-1", decode(t, rr)["run_id"])
	require.Len(t, f.engine.started, 1)
	assert.Equal(t, admin.ID, f.engine.started[0].Principal.ID)
	assert.Equal(t, models.SourceManual, f.engine.started[0].Source)

	f.engine.startErr = common.ErrConflict
	rr = f.do(http.MethodPost, "/sync/runs", tok, "")
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "sync_already_running", decode(t, rr)["error"])

	f.engine.startErr = errors.New("db down")
	rr = f.do(http.MethodPost, "/sync/runs", tok, "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestAbort(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, admin)

	rr := f.do(http.MethodPost, "/sync/runs/"+runA+"/abort", tok, "")
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, []string{runA}, f.engine.aborted)

	f.engine.abortErr = common.ErrNotRunning
	rr = f.do(http.MethodPost, "/sync/runs/"+runB+"/abort", tok, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "not_running", decode(t, rr)["error"])
}

func TestTrackingConfigurations(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, admin)

	rr := f.do(http.MethodPut, "/sync/tracking-configurations", tok, `{"level":"ESO1","category":"conduct","tracking_id":"T-1"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "cfg-1", decode(t, rr)["id"])

	rr = f.do(http.MethodPut, "/sync/tracking-configurations", tok, `{"level":"ESO1","category":"conduct"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(http.MethodGet, "/sync/tracking-configurations", tok, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode(t, rr)["configurations"].([]any), 1)
}

func TestListAudit(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, admin)
	f.audit.records = []models.AuditRecord{{ID: "a1", EventType: models.EventLogin, PrincipalID: admin.ID}}

	rr := f.do(http.MethodGet, "/audit?event_type=LOGIN&principal_id=u-admin&since=2025-09-01T00:00:00Z", tok, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode(t, rr)["records"].([]any), 1)
	assert.Equal(t, models.EventLogin, f.audit.filter.EventType)
	assert.Equal(t, "u-admin", f.audit.filter.PrincipalID)
	assert.False(t, f.audit.filter.Since.IsZero())

	rr = f.do(http.MethodGet, "/audit?since=yesterday", tok, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAuthGate_BareTokenRejected(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/sync/history", nil)
	req.Header.Set("Authorization", f.token(t, admin))
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "missing_token", decode(t, rr)["error"])
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.srv.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
