package api

import "time"

type Principal struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	GroupCode   string `json:"group_code,omitempty"`
}

type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Principal Principal `json:"principal"`
}

type Run struct {
	ID            string     `json:"id"`
	Status        string     `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	TriggeredBy   string     `json:"triggered_by"`
	TriggerSource string     `json:"trigger_source"`
}

type Counts struct {
	Processed int `json:"processed"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
}

type Log struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Phase     string    `json:"phase"`
	Counts    Counts    `json:"counts"`
	Errors    []string  `json:"errors"`
	CreatedAt time.Time `json:"created_at"`
}

type Watermark struct {
	Entity    string    `json:"entity"`
	Marker    time.Time `json:"marker"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Status struct {
	Running      *Run        `json:"running"`
	LastFinished *Run        `json:"last_finished"`
	Watermarks   []Watermark `json:"watermarks"`
}

// LogFilter narrows Logs. Zero fields match everything.
type LogFilter struct {
	RunID string
	Phase string
}
