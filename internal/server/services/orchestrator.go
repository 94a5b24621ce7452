package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/convivencia/phidiasync/internal/common"
	"github.com/convivencia/phidiasync/internal/logging"
	"github.com/convivencia/phidiasync/internal/server/auth"
	"github.com/convivencia/phidiasync/internal/server/models"
	"github.com/convivencia/phidiasync/internal/server/phidias"
	"github.com/convivencia/phidiasync/internal/server/reconcile"
	"github.com/convivencia/phidiasync/internal/server/repositories/repomanager"
)

// StudentsPhase is the roster phase name and its watermark entity.
const StudentsPhase = "students"

// Trigger identifies who asked for a run and how.
type Trigger struct {
	Principal auth.Principal
	Source    models.TriggerSource
	Request   RequestContext
}

// PhaseReport is the result of one phase as written to the sync log.
type PhaseReport struct {
	Phase  string        `json:"phase"`
	Counts models.Counts `json:"counts"`
	Errors []string      `json:"errors"`
}

// RunReport summarizes a finished run.
type RunReport struct {
	RunID       string               `json:"run_id"`
	Outcome     models.Outcome       `json:"outcome"`
	TriggeredBy string               `json:"triggered_by"`
	Source      models.TriggerSource `json:"source"`
	StartedAt   time.Time            `json:"started_at"`
	FinishedAt  time.Time            `json:"finished_at"`
	Phases      []PhaseReport        `json:"phases"`
	Totals      models.Counts        `json:"totals"`
	// Fatal is the error that stopped the run, if any.
	Fatal string `json:"fatal,omitempty"`
}

// RunObserver receives run lifecycle events, e.g. for metrics.
type RunObserver interface {
	RunStarted(source models.TriggerSource)
	PhaseFinished(phase string, counts models.Counts)
	RunFinished(outcome models.Outcome, duration time.Duration)
}

// Archiver stores finished run reports outside the database.
type Archiver interface {
	Archive(ctx context.Context, report *RunReport) error
}

// OrchestratorConfig tunes paging, write parallelism and how often a running
// run proves it is alive.
type OrchestratorConfig struct {
	PageSize          int
	Workers           int
	HeartbeatInterval time.Duration
}

// markerPrecision is the resolution of the watermark column. Markers are cut
// to it before they are compared or stored.
const markerPrecision = time.Microsecond

// Status is the operator view of the engine.
type Status struct {
	Running      *models.SyncHistory
	LastFinished *models.SyncHistory
	Watermarks   []models.Watermark
	// Local lists runs executing in this process.
	Local []string
}

// Orchestrator drives sync runs end to end. Single-flight is enforced by the
// history store, not by this struct, so it holds across processes.
type Orchestrator struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	client      phidias.Client
	history     *HistoryService
	audit       *AuditService
	log         logging.Logger
	cfg         OrchestratorConfig

	observer RunObserver
	archiver Archiver

	mu     sync.Mutex
	active map[string]*activeRun
	wg     sync.WaitGroup
}

func NewOrchestrator(db *sql.DB, m repomanager.RepositoryManager, client phidias.Client, history *HistoryService,
	audit *AuditService, log logging.Logger, cfg OrchestratorConfig) *Orchestrator {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	return &Orchestrator{
		db:          db,
		repomanager: m,
		client:      client,
		history:     history,
		audit:       audit,
		log:         log.With("module", "orchestrator"),
		cfg:         cfg,
		active:      make(map[string]*activeRun),
	}
}

// SetObserver installs a lifecycle observer. Call before the first run.
func (o *Orchestrator) SetObserver(obs RunObserver) { o.observer = obs }

// SetArchiver installs a report archiver. Call before the first run.
func (o *Orchestrator) SetArchiver(a Archiver) { o.archiver = a }

// Run executes a whole run synchronously. It returns common.ErrConflict
// when another run is in progress. A FAILED run is not an error: the
// report carries the outcome. Errors are returned for failures to close
// the run or to audit it; in the latter case the report is still valid.
// Cancelling ctx aborts the run.
func (o *Orchestrator) Run(ctx context.Context, t Trigger) (*RunReport, error) {
	run, err := o.begin(ctx, ctx, t)
	if err != nil {
		return nil, err
	}
	return o.execute(run, t)
}

// Start opens a run and executes it in the background. It returns the run
// id, or common.ErrConflict when another run is in progress.
func (o *Orchestrator) Start(ctx context.Context, t Trigger) (string, error) {
	run, err := o.begin(ctx, context.WithoutCancel(ctx), t)
	if err != nil {
		return "", err
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if _, err := o.execute(run, t); err != nil {
			o.log.Error(run.ctx, "background sync run", "run_id", run.history.ID, "error", err)
		}
	}()

	return run.history.ID, nil
}

// Wait blocks until background runs started by Start have finished.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// Shutdown aborts runs executing in this process and waits for them to be
// closed, or for ctx to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	for _, run := range o.active {
		run.cancel(errShutdown)
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var (
	errShutdown           = errors.New("server shutting down")
	errRunClosedElsewhere = errors.New("run was closed by another process")
)

// Abort cancels a run executing in this process. In-flight record writes
// complete; the run ends FAILED. common.ErrNotRunning if runID is unknown
// here. The abort is audited and an audit failure is returned after the
// run has been cancelled.
func (o *Orchestrator) Abort(ctx context.Context, runID string, p *auth.Principal, rc RequestContext) error {
	o.mu.Lock()
	run, ok := o.active[runID]
	o.mu.Unlock()
	if !ok {
		return common.ErrNotRunning
	}

	run.cancel(common.ErrRunAborted)
	o.log.Warn(ctx, "sync run abort requested", "run_id", runID, "principal_id", p.ID)

	return o.audit.Record(ctx, models.EventSyncAborted, p, rc.with("run_id", runID))
}

// Status reports the running run, the last finished run and watermarks.
func (o *Orchestrator) Status(ctx context.Context) (*Status, error) {
	running, err := o.history.Running(ctx)
	if err != nil {
		return nil, err
	}
	last, err := o.history.LastFinished(ctx)
	if err != nil {
		return nil, err
	}
	marks, err := o.repomanager.Watermarks(o.db).List(ctx)
	if err != nil {
		return nil, err
	}

	st := &Status{Running: running, LastFinished: last, Watermarks: marks}
	o.mu.Lock()
	for id := range o.active {
		st.Local = append(st.Local, id)
	}
	o.mu.Unlock()
	return st, nil
}

type activeRun struct {
	history *models.SyncHistory
	ctx     context.Context
	cancel  context.CancelCauseFunc
}

// begin opens the history row and registers the run so Abort works as soon
// as Start returns. parent is the context the run executes under.
func (o *Orchestrator) begin(ctx, parent context.Context, t Trigger) (*activeRun, error) {
	h, err := o.history.BeginRun(ctx, t.Principal.ID, t.Source)
	if err != nil {
		if errors.Is(err, common.ErrConflict) {
			o.log.Info(ctx, "sync trigger rejected: run in progress", "principal_id", t.Principal.ID)
		}
		return nil, err
	}

	runCtx, cancel := context.WithCancelCause(parent)
	run := &activeRun{history: h, ctx: runCtx, cancel: cancel}

	o.mu.Lock()
	o.active[h.ID] = run
	o.mu.Unlock()

	if o.observer != nil {
		o.observer.RunStarted(t.Source)
	}
	return run, nil
}

// phase is one unit of sync work with its own watermark.
type phase struct {
	name      string
	entity    string
	fetch     phidias.FetchFunc
	reconcile func(ctx context.Context, records []json.RawMessage) (reconcile.Result, error)
}

func (o *Orchestrator) execute(run *activeRun, t Trigger) (*RunReport, error) {
	defer func() {
		run.cancel(nil)
		o.mu.Lock()
		delete(o.active, run.history.ID)
		o.mu.Unlock()
	}()

	ctx := run.ctx
	// Store writes that close the run must survive its cancellation.
	storeCtx := context.WithoutCancel(ctx)
	runID := run.history.ID

	report := &RunReport{
		RunID:       runID,
		TriggeredBy: t.Principal.ID,
		Source:      t.Source,
		StartedAt:   run.history.StartedAt,
	}

	stopBeat := o.keepAlive(storeCtx, run)
	fatal := o.runPhases(ctx, storeCtx, runID, report)
	stopBeat()
	if fatal != nil {
		report.Fatal = fatal.Error()
	}

	switch {
	case fatal != nil:
		report.Outcome = models.OutcomeFailed
	case report.Totals.Failed > 0:
		report.Outcome = models.OutcomePartial
	default:
		report.Outcome = models.OutcomeSuccess
	}

	finished, err := o.history.EndRun(storeCtx, runID, report.Outcome)
	if err != nil {
		o.log.Error(storeCtx, "close sync run", "run_id", runID, "error", err)
		return report, fmt.Errorf("close sync run %s: %w", runID, err)
	}
	report.FinishedAt = finished

	if o.observer != nil {
		o.observer.RunFinished(report.Outcome, report.FinishedAt.Sub(report.StartedAt))
	}
	if o.archiver != nil {
		if err := o.archiver.Archive(storeCtx, report); err != nil {
			o.log.Warn(storeCtx, "archive run report", "run_id", runID, "error", err)
		}
	}

	rc := t.Request.with("run_id", runID, "outcome", string(report.Outcome), "source", string(t.Source))
	if err := o.audit.Record(storeCtx, models.EventSyncTriggered, &t.Principal, rc); err != nil {
		return report, fmt.Errorf("audit sync run %s: %w", runID, err)
	}

	return report, nil
}

// keepAlive refreshes the run heartbeat every HeartbeatInterval until the
// returned func is called. A run closed elsewhere is cancelled.
func (o *Orchestrator) keepAlive(storeCtx context.Context, run *activeRun) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(o.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-run.ctx.Done():
				return
			case <-ticker.C:
				if err := o.heartbeat(storeCtx, run.history.ID); err != nil {
					run.cancel(err)
					return
				}
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
	}
}

// heartbeat touches the run. Only losing the run is an error; a store
// hiccup is logged and retried on the next beat.
func (o *Orchestrator) heartbeat(ctx context.Context, runID string) error {
	err := o.history.Heartbeat(ctx, runID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, common.ErrConflict):
		o.log.Error(ctx, "sync run closed by another process", "run_id", runID)
		return errRunClosedElsewhere
	default:
		o.log.Warn(ctx, "sync run heartbeat", "run_id", runID, "error", err)
		return nil
	}
}

// runPhases runs every phase in order and returns the error that stopped
// the run, if any. Each phase gets a log row, including the failing one.
func (o *Orchestrator) runPhases(ctx, storeCtx context.Context, runID string, report *RunReport) error {
	phases, err := o.phases(ctx)
	if err != nil {
		err = o.fatal(ctx, err)
		if logErr := o.history.AppendLog(storeCtx, runID, "setup", models.Counts{}, []string{"fatal: " + err.Error()}); logErr != nil {
			return errors.Join(err, logErr)
		}
		return err
	}

	for _, ph := range phases {
		pr, err := o.runPhase(ctx, storeCtx, runID, ph)
		if err != nil {
			err = o.fatal(ctx, err)
			pr.Errors = append(pr.Errors, "fatal: "+err.Error())
		}

		report.Phases = append(report.Phases, pr)
		report.Totals.Add(pr.Counts)
		if o.observer != nil {
			o.observer.PhaseFinished(pr.Phase, pr.Counts)
		}

		if logErr := o.history.AppendLog(storeCtx, runID, pr.Phase, pr.Counts, pr.Errors); logErr != nil {
			return errors.Join(err, logErr)
		}
		if err != nil {
			return err
		}

		o.log.Info(ctx, "sync phase finished", "run_id", runID, "phase", pr.Phase,
			"processed", pr.Counts.Processed, "created", pr.Counts.Created, "updated", pr.Counts.Updated,
			"failed", pr.Counts.Failed)
	}
	return nil
}

// fatal rewrites a cancellation into its cause, so an operator abort reads
// as such in the log.
func (o *Orchestrator) fatal(ctx context.Context, err error) error {
	if ctx.Err() == nil {
		return err
	}
	if cause := context.Cause(ctx); cause != nil && !errors.Is(err, cause) {
		return fmt.Errorf("%w (%v)", cause, err)
	}
	return err
}

func (o *Orchestrator) phases(ctx context.Context) ([]phase, error) {
	studentRepo := o.repomanager.Students(o.db)
	trackingRepo := o.repomanager.Tracking(o.db)

	configs, err := trackingRepo.ListConfigurations(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tracking configurations: %w", err)
	}

	students := reconcile.New[*models.Student](&studentAdapter{repo: studentRepo}, o.cfg.Workers)
	out := []phase{{
		name:      StudentsPhase,
		entity:    StudentsPhase,
		fetch:     phidias.Students(o.client),
		reconcile: students.Reconcile,
	}}

	for _, c := range configs {
		r := reconcile.New[*models.TrackingRecord](&trackingAdapter{repo: trackingRepo, config: c}, o.cfg.Workers)
		out = append(out, phase{
			name:      fmt.Sprintf("tracking:%s/%s", c.Level, c.Category),
			entity:    "tracking:" + c.TrackingID,
			fetch:     phidias.Tracking(o.client, c.TrackingID),
			reconcile: r.Reconcile,
		})
	}
	return out, nil
}

// runPhase pulls pages from the phase watermark and reconciles them in
// order. The next page is fetched while the current one is reconciled.
// The watermark follows each page that had no failed record; after the
// first failure it stays put so the failed records are fetched again.
// Every reconciled page also refreshes the run heartbeat.
func (o *Orchestrator) runPhase(ctx, storeCtx context.Context, runID string, ph phase) (PhaseReport, error) {
	pr := PhaseReport{Phase: ph.name}
	marks := o.repomanager.Watermarks(o.db)

	since, _, err := marks.Get(ctx, ph.entity)
	if err != nil {
		return pr, fmt.Errorf("read watermark %s: %w", ph.entity, err)
	}
	since = since.Truncate(markerPrecision)

	pager := phidias.NewPager(ph.fetch, since, o.cfg.PageSize)
	pages := make(chan *phidias.Page, 1)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(pages)
		for page, err := range pager.All(gctx) {
			if err != nil {
				return fmt.Errorf("fetch %s: %w", ph.name, err)
			}
			select {
			case pages <- page:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	g.Go(func() error {
		var (
			n      int
			frozen bool
			mark   = since
		)
		for page := range pages {
			n++
			res, err := ph.reconcile(ctx, page.Records)
			pr.Counts.Add(res.Counts)
			for _, e := range res.Errors {
				pr.Errors = append(pr.Errors, fmt.Sprintf("page %d: %s", n, e))
			}
			if err != nil {
				return fmt.Errorf("reconcile %s page %d: %w", ph.name, n, err)
			}
			if err := o.heartbeat(storeCtx, runID); err != nil {
				return err
			}

			if res.Counts.Failed > 0 {
				frozen = true
			}
			marker := page.Marker.Truncate(markerPrecision)
			if frozen || !marker.After(mark) {
				continue
			}
			if err := marks.Advance(storeCtx, ph.entity, marker); err != nil {
				return fmt.Errorf("advance watermark %s: %w", ph.entity, err)
			}
			mark = marker
		}
		return nil
	})

	return pr, g.Wait()
}
