package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/convivencia/phidiasync/internal/common"
	"github.com/convivencia/phidiasync/internal/dbx"
	"github.com/convivencia/phidiasync/internal/server/models"
	"github.com/convivencia/phidiasync/internal/server/phidias"
	"github.com/convivencia/phidiasync/internal/server/repositories/audit"
	"github.com/convivencia/phidiasync/internal/server/repositories/repomanager"
	"github.com/convivencia/phidiasync/internal/server/repositories/students"
	"github.com/convivencia/phidiasync/internal/server/repositories/synchistory"
	"github.com/convivencia/phidiasync/internal/server/repositories/synclogs"
	"github.com/convivencia/phidiasync/internal/server/repositories/tracking"
	"github.com/convivencia/phidiasync/internal/server/repositories/users"
	"github.com/convivencia/phidiasync/internal/server/repositories/watermarks"
)

// memStore is an in-memory stand-in for every repository. Begin mimics the
// partial unique index on running rows; InsertRecord mimics the student
// foreign key.
type memStore struct {
	mu sync.Mutex

	users    map[string]*models.User
	students map[string]*models.Student
	configs  []models.TrackingConfiguration
	records  map[string]*models.TrackingRecord
	history  []*models.SyncHistory
	logs     []models.SyncLog
	marks    map[string]models.Watermark
	audits   []models.AuditRecord

	auditErr  error
	logErr    error
	configErr error
}

func newMemStore() *memStore {
	return &memStore{
		users:    map[string]*models.User{},
		students: map[string]*models.Student{},
		records:  map[string]*models.TrackingRecord{},
		marks:    map[string]models.Watermark{},
	}
}

func (m *memStore) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *memStore) Users(dbx.DBTX) users.Repository              { return memUsers{m} }
func (m *memStore) Students(dbx.DBTX) students.Repository        { return memStudents{m} }
func (m *memStore) Tracking(dbx.DBTX) tracking.Repository        { return memTracking{m} }
func (m *memStore) SyncHistory(dbx.DBTX) synchistory.Repository  { return memHistory{m} }
func (m *memStore) SyncLogs(dbx.DBTX) synclogs.Repository        { return memLogs{m} }
func (m *memStore) Watermarks(dbx.DBTX) watermarks.Repository    { return memMarks{m} }
func (m *memStore) Audit(dbx.DBTX) audit.Repository              { return memAudit{m} }

var _ repomanager.RepositoryManager = (*memStore)(nil)

func (m *memStore) auditEvents() []models.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.EventType, 0, len(m.audits))
	for _, a := range m.audits {
		out = append(out, a.EventType)
	}
	return out
}

func (m *memStore) logsFor(runID string) []models.SyncLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SyncLog
	for _, l := range m.logs {
		if l.RunID == runID {
			out = append(out, l)
		}
	}
	return out
}

func (m *memStore) setAuditErr(err error) {
	m.mu.Lock()
	m.auditErr = err
	m.mu.Unlock()
}

type memUsers struct{ m *memStore }

func (r memUsers) Create(_ context.Context, u *models.User) (*models.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.users[u.UserName]; ok {
		return nil, common.ErrConflict
	}
	cp := *u
	cp.ID = uuid.NewString()
	r.m.users[u.UserName] = &cp
	return &cp, nil
}

func (r memUsers) GetUserByLogin(_ context.Context, login string) (*models.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	u, ok := r.m.users[login]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *u
	return &cp, nil
}

func (r memUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, u := range r.m.users {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

type memStudents struct{ m *memStore }

func (r memStudents) GetByCodes(_ context.Context, codes []string) (map[string]*models.Student, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := map[string]*models.Student{}
	for _, c := range codes {
		if s, ok := r.m.students[c]; ok {
			cp := *s
			out[c] = &cp
		}
	}
	return out, nil
}

func (r memStudents) Insert(_ context.Context, s *models.Student) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.students[s.Code]; ok {
		return common.ErrConflict
	}
	cp := *s
	cp.ID = uuid.NewString()
	r.m.students[s.Code] = &cp
	return nil
}

func (r memStudents) UpdateSynced(_ context.Context, s *models.Student) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	cur, ok := r.m.students[s.Code]
	if !ok {
		return common.ErrorNotFound
	}
	cur.FullName, cur.Section, cur.Level, cur.SourceModifiedAt = s.FullName, s.Section, s.Level, s.SourceModifiedAt
	return nil
}

type memTracking struct{ m *memStore }

func (r memTracking) ListConfigurations(context.Context) ([]models.TrackingConfiguration, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.configErr != nil {
		return nil, r.m.configErr
	}
	out := append([]models.TrackingConfiguration(nil), r.m.configs...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level < out[j].Level
		}
		return out[i].Category < out[j].Category
	})
	return out, nil
}

func (r memTracking) UpsertConfiguration(_ context.Context, c *models.TrackingConfiguration) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for i, cur := range r.m.configs {
		if cur.Level == c.Level && cur.Category == c.Category {
			r.m.configs[i].TrackingID = c.TrackingID
			c.ID, c.CreatedAt = cur.ID, cur.CreatedAt
			return nil
		}
	}
	c.ID = uuid.NewString()
	c.CreatedAt = time.Now().UTC()
	r.m.configs = append(r.m.configs, *c)
	return nil
}

func (r memTracking) GetRecordsByExternalIDs(_ context.Context, ids []string) (map[string]*models.TrackingRecord, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := map[string]*models.TrackingRecord{}
	for _, id := range ids {
		if rec, ok := r.m.records[id]; ok {
			cp := *rec
			out[id] = &cp
		}
	}
	return out, nil
}

func (r memTracking) InsertRecord(_ context.Context, rec *models.TrackingRecord) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.students[rec.StudentCode]; !ok {
		return fmt.Errorf("%w: unknown student %q", common.ErrInvalidRecord, rec.StudentCode)
	}
	cp := *rec
	cp.ID = uuid.NewString()
	r.m.records[rec.ExternalID] = &cp
	return nil
}

func (r memTracking) UpdateSyncedRecord(_ context.Context, rec *models.TrackingRecord) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	cur, ok := r.m.records[rec.ExternalID]
	if !ok {
		return common.ErrorNotFound
	}
	res, rev := cur.Resolution, cur.ReviewedBy
	*cur = *rec
	cur.Resolution, cur.ReviewedBy = res, rev
	return nil
}

type memHistory struct{ m *memStore }

func (r memHistory) Begin(_ context.Context, h *models.SyncHistory) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, cur := range r.m.history {
		if cur.Outcome == nil {
			return common.ErrConflict
		}
	}
	cp := *h
	if cp.HeartbeatAt.IsZero() {
		cp.HeartbeatAt = cp.StartedAt
	}
	r.m.history = append(r.m.history, &cp)
	return nil
}

func (r memHistory) End(_ context.Context, runID string, outcome models.Outcome, finishedAt time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, cur := range r.m.history {
		if cur.ID != runID {
			continue
		}
		if cur.Outcome != nil {
			return common.ErrConflict
		}
		cur.Outcome, cur.FinishedAt = &outcome, &finishedAt
		return nil
	}
	return common.ErrorNotFound
}

func (r memHistory) Get(_ context.Context, runID string) (*models.SyncHistory, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, cur := range r.m.history {
		if cur.ID == runID {
			cp := *cur
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r memHistory) List(_ context.Context, limit, offset int) ([]models.SyncHistory, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []models.SyncHistory
	for i := len(r.m.history) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, *r.m.history[i])
	}
	return out, nil
}

func (r memHistory) Running(context.Context) (*models.SyncHistory, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, cur := range r.m.history {
		if cur.Outcome == nil {
			cp := *cur
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r memHistory) LastFinished(context.Context) (*models.SyncHistory, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for i := len(r.m.history) - 1; i >= 0; i-- {
		if r.m.history[i].Outcome != nil {
			cp := *r.m.history[i]
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r memHistory) Heartbeat(_ context.Context, runID string, at time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, cur := range r.m.history {
		if cur.ID != runID {
			continue
		}
		if cur.Outcome != nil {
			return common.ErrConflict
		}
		if at.After(cur.HeartbeatAt) {
			cur.HeartbeatAt = at
		}
		return nil
	}
	return common.ErrorNotFound
}

func (r memHistory) FailStale(_ context.Context, cutoff, finishedAt time.Time) ([]string, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var ids []string
	for _, cur := range r.m.history {
		if cur.Outcome == nil && cur.HeartbeatAt.Before(cutoff) {
			failed := models.OutcomeFailed
			at := finishedAt
			cur.Outcome, cur.FinishedAt = &failed, &at
			ids = append(ids, cur.ID)
		}
	}
	return ids, nil
}

type memLogs struct{ m *memStore }

func (r memLogs) Append(_ context.Context, l *models.SyncLog) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.logErr != nil {
		return r.m.logErr
	}
	l.ID = int64(len(r.m.logs) + 1)
	l.CreatedAt = time.Now().UTC()
	r.m.logs = append(r.m.logs, *l)
	return nil
}

func (r memLogs) List(_ context.Context, f synclogs.Filter, limit, offset int) ([]models.SyncLog, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []models.SyncLog
	for _, l := range r.m.logs {
		if (f.RunID == "" || l.RunID == f.RunID) && (f.Phase == "" || l.Phase == f.Phase) {
			out = append(out, l)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memMarks struct{ m *memStore }

func (r memMarks) Get(_ context.Context, entity string) (time.Time, bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	w, ok := r.m.marks[entity]
	return w.Marker, ok, nil
}

func (r memMarks) Advance(_ context.Context, entity string, marker time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if w, ok := r.m.marks[entity]; ok && !marker.After(w.Marker) {
		return nil
	}
	r.m.marks[entity] = models.Watermark{Entity: entity, Marker: marker, UpdatedAt: time.Now().UTC()}
	return nil
}

func (r memMarks) List(context.Context) ([]models.Watermark, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []models.Watermark
	for _, w := range r.m.marks {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Entity < out[j].Entity })
	return out, nil
}

type memAudit struct{ m *memStore }

func (r memAudit) Insert(_ context.Context, rec *models.AuditRecord) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.auditErr != nil {
		return r.m.auditErr
	}
	rec.ID = uuid.NewString()
	r.m.audits = append(r.m.audits, *rec)
	return nil
}

func (r memAudit) List(_ context.Context, f audit.Filter, limit, offset int) ([]models.AuditRecord, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []models.AuditRecord
	for i := len(r.m.audits) - 1; i >= 0; i-- {
		a := r.m.audits[i]
		if f.EventType != "" && a.EventType != f.EventType {
			continue
		}
		if f.PrincipalID != "" && a.PrincipalID != f.PrincipalID {
			continue
		}
		out = append(out, a)
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// fakeClient serves fixed page scripts. The cursor is the index of the
// next page; since is recorded but not used to filter.
type fakeClient struct {
	mu       sync.Mutex
	students []*phidias.Page
	tracking map[string][]*phidias.Page
	err      error
	requests []phidias.PageRequest

	// block, when set, makes every fetch wait for ctx to end. started is
	// closed on the first blocked fetch.
	block   bool
	started chan struct{}
	once    sync.Once
}

func (c *fakeClient) FetchStudents(ctx context.Context, req phidias.PageRequest) (*phidias.Page, error) {
	return c.serve(ctx, c.students, req)
}

func (c *fakeClient) FetchTracking(ctx context.Context, trackingID string, req phidias.PageRequest) (*phidias.Page, error) {
	return c.serve(ctx, c.tracking[trackingID], req)
}

func (c *fakeClient) serve(ctx context.Context, pages []*phidias.Page, req phidias.PageRequest) (*phidias.Page, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	err, block := c.err, c.block
	c.mu.Unlock()

	if block {
		c.once.Do(func() { close(c.started) })
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}

	i := 0
	if req.Cursor != "" {
		n, convErr := strconv.Atoi(req.Cursor)
		if convErr != nil {
			return nil, errors.New("bad cursor")
		}
		i = n
	}
	if i >= len(pages) {
		return &phidias.Page{}, nil
	}
	p := *pages[i]
	if i+1 < len(pages) {
		p.NextCursor = strconv.Itoa(i + 1)
	}
	return &p, nil
}

func (c *fakeClient) sinces() []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Time, 0, len(c.requests))
	for _, r := range c.requests {
		out = append(out, r.Since)
	}
	return out
}

var baseTime = time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)

func studentJSON(code, name string, modified time.Time) json.RawMessage {
	b, _ := json.Marshal(map[string]string{
		"code":        code,
		"full_name":   name,
		"section":     "A",
		"level":       "ESO1",
		"modified_at": modified.Format(time.RFC3339Nano),
	})
	return b
}

// studentPage builds n students numbered from first, each modified one
// minute after the previous one.
func studentPage(first, n int) *phidias.Page {
	p := &phidias.Page{}
	for i := first; i < first+n; i++ {
		mod := baseTime.Add(time.Duration(i) * time.Minute)
		p.Records = append(p.Records, studentJSON(fmt.Sprintf("S%03d", i), fmt.Sprintf("Student %d", i), mod))
		p.Marker = mod
	}
	return p
}
