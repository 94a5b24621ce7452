package models

import "time"

// TrackingConfiguration maps an (academic level, infraction category) pair
// to the upstream tracking stream that carries its records.
type TrackingConfiguration struct {
	ID         string
	Level      string
	Category   string
	TrackingID string
	CreatedAt  time.Time
}

// TrackingRecord is one behavioral record pulled from a tracking stream.
// Resolution and ReviewedBy are maintained locally and never synced.
type TrackingRecord struct {
	ID               string
	ExternalID       string
	TrackingID       string
	StudentCode      string
	Category         string
	Description      string
	OccurredAt       time.Time
	SourceModifiedAt time.Time

	Resolution string
	ReviewedBy string

	CreatedAt time.Time
	UpdatedAt time.Time
}
