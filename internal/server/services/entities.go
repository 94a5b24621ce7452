package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/convivencia/phidiasync/internal/common"
	"github.com/convivencia/phidiasync/internal/server/models"
	"github.com/convivencia/phidiasync/internal/server/reconcile"
	"github.com/convivencia/phidiasync/internal/server/repositories/students"
	"github.com/convivencia/phidiasync/internal/server/repositories/tracking"
)

// studentPayload is a Phidias roster record. Unknown fields are ignored so
// upstream additions do not break decoding.
type studentPayload struct {
	Code       string `json:"code"`
	FullName   string `json:"full_name"`
	Section    string `json:"section"`
	Level      string `json:"level"`
	ModifiedAt string `json:"modified_at"`
}

// studentAdapter reconciles roster records. Phidias owns full name,
// section and level; everything else on the row is local.
type studentAdapter struct {
	repo students.Repository
}

var _ reconcile.Adapter[*models.Student] = (*studentAdapter)(nil)

func (a *studentAdapter) Decode(raw json.RawMessage) (*models.Student, error) {
	var p studentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidRecord, err)
	}

	code := strings.TrimSpace(p.Code)
	if code == "" {
		return nil, fmt.Errorf("%w: missing code", common.ErrInvalidRecord)
	}
	name := reconcile.Normalize(p.FullName)
	if name == "" {
		return nil, fmt.Errorf("%w: missing full_name", common.ErrInvalidRecord)
	}
	modified, err := parseMarker(p.ModifiedAt)
	if err != nil {
		return nil, err
	}

	return &models.Student{
		Code:             code,
		FullName:         name,
		Section:          reconcile.Normalize(p.Section),
		Level:            reconcile.Normalize(p.Level),
		SourceModifiedAt: modified,
	}, nil
}

func (a *studentAdapter) Key(s *models.Student) string { return s.Code }

func (a *studentAdapter) Snapshot(ctx context.Context, keys []string) (map[string]*models.Student, error) {
	return a.repo.GetByCodes(ctx, keys)
}

func (a *studentAdapter) Diff(local, remote *models.Student) (*models.Student, bool) {
	changed := !reconcile.SameText(local.FullName, remote.FullName) ||
		!reconcile.SameText(local.Section, remote.Section) ||
		!reconcile.SameText(local.Level, remote.Level)
	if !changed {
		return local, false
	}

	merged := *local
	merged.FullName = remote.FullName
	merged.Section = remote.Section
	merged.Level = remote.Level
	merged.SourceModifiedAt = remote.SourceModifiedAt
	return &merged, true
}

func (a *studentAdapter) Insert(ctx context.Context, s *models.Student) error {
	return a.repo.Insert(ctx, s)
}

func (a *studentAdapter) Update(ctx context.Context, s *models.Student) error {
	return a.repo.UpdateSynced(ctx, s)
}

type trackingPayload struct {
	ID          string `json:"id"`
	StudentCode string `json:"student_code"`
	Category    string `json:"category"`
	Description string `json:"description"`
	OccurredAt  string `json:"occurred_at"`
	ModifiedAt  string `json:"modified_at"`
}

// trackingAdapter reconciles the records of one tracking stream.
// Resolution and reviewer are local and never overwritten.
type trackingAdapter struct {
	repo   tracking.Repository
	config models.TrackingConfiguration
}

var _ reconcile.Adapter[*models.TrackingRecord] = (*trackingAdapter)(nil)

func (a *trackingAdapter) Decode(raw json.RawMessage) (*models.TrackingRecord, error) {
	var p trackingPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidRecord, err)
	}

	id := strings.TrimSpace(p.ID)
	if id == "" {
		return nil, fmt.Errorf("%w: missing id", common.ErrInvalidRecord)
	}
	student := strings.TrimSpace(p.StudentCode)
	if student == "" {
		return nil, fmt.Errorf("%w: missing student_code", common.ErrInvalidRecord)
	}
	occurred, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(p.OccurredAt))
	if err != nil {
		return nil, fmt.Errorf("%w: occurred_at %q", common.ErrInvalidRecord, p.OccurredAt)
	}
	modified, err := parseMarker(p.ModifiedAt)
	if err != nil {
		return nil, err
	}

	category := reconcile.Normalize(p.Category)
	if category == "" {
		category = a.config.Category
	}

	return &models.TrackingRecord{
		ExternalID:       id,
		TrackingID:       a.config.TrackingID,
		StudentCode:      student,
		Category:         category,
		Description:      reconcile.Normalize(p.Description),
		OccurredAt:       occurred.UTC(),
		SourceModifiedAt: modified,
	}, nil
}

func (a *trackingAdapter) Key(r *models.TrackingRecord) string { return r.ExternalID }

func (a *trackingAdapter) Snapshot(ctx context.Context, keys []string) (map[string]*models.TrackingRecord, error) {
	return a.repo.GetRecordsByExternalIDs(ctx, keys)
}

func (a *trackingAdapter) Diff(local, remote *models.TrackingRecord) (*models.TrackingRecord, bool) {
	changed := local.TrackingID != remote.TrackingID ||
		local.StudentCode != remote.StudentCode ||
		!reconcile.SameText(local.Category, remote.Category) ||
		!reconcile.SameText(local.Description, remote.Description) ||
		!local.OccurredAt.Equal(remote.OccurredAt)
	if !changed {
		return local, false
	}

	merged := *local
	merged.TrackingID = remote.TrackingID
	merged.StudentCode = remote.StudentCode
	merged.Category = remote.Category
	merged.Description = remote.Description
	merged.OccurredAt = remote.OccurredAt
	merged.SourceModifiedAt = remote.SourceModifiedAt
	return &merged, true
}

func (a *trackingAdapter) Insert(ctx context.Context, r *models.TrackingRecord) error {
	return a.repo.InsertRecord(ctx, r)
}

func (a *trackingAdapter) Update(ctx context.Context, r *models.TrackingRecord) error {
	return a.repo.UpdateSyncedRecord(ctx, r)
}

func parseMarker(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, fmt.Errorf("%w: missing modified_at", common.ErrInvalidRecord)
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: modified_at %q", common.ErrInvalidRecord, v)
	}
	return t.UTC(), nil
}
