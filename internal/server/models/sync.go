package models

import "time"

// Outcome is the terminal state of a sync run.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomePartial Outcome = "PARTIAL"
	OutcomeFailed  Outcome = "FAILED"
)

// StatusRunning is reported for a run whose outcome is still unset.
const StatusRunning = "RUNNING"

// TriggerSource records how a run was started.
type TriggerSource string

const (
	SourceManual   TriggerSource = "manual"
	SourceSchedule TriggerSource = "schedule"
	SourceGRPC     TriggerSource = "grpc"
)

// SyncHistory is one row per run. Outcome and FinishedAt are nil while
// the run is in progress.
type SyncHistory struct {
	ID            string
	StartedAt     time.Time
	FinishedAt    *time.Time
	Outcome       *Outcome
	TriggeredBy   string
	TriggerSource TriggerSource
	// HeartbeatAt is refreshed by the executing process while the run is
	// alive; stale-run recovery keys on it.
	HeartbeatAt time.Time
}

// Status returns the outcome, or RUNNING when unset.
func (h SyncHistory) Status() string {
	if h.Outcome == nil {
		return StatusRunning
	}
	return string(*h.Outcome)
}

// Counts are the per-phase reconciliation tallies.
type Counts struct {
	Processed int `json:"processed"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
}

// Add accumulates o into c.
func (c *Counts) Add(o Counts) {
	c.Processed += o.Processed
	c.Created += o.Created
	c.Updated += o.Updated
	c.Unchanged += o.Unchanged
	c.Failed += o.Failed
}

// SyncLog is an append-only record of one phase of one run.
type SyncLog struct {
	ID        int64
	RunID     string
	Phase     string
	Counts    Counts
	Errors    []string
	CreatedAt time.Time
}

// Watermark is the last fully processed upstream marker for an entity.
type Watermark struct {
	Entity    string
	Marker    time.Time
	UpdatedAt time.Time
}
