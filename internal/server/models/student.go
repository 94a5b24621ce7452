package models

import "time"

// Student is a roster entry keyed by its Phidias code. Sync owns FullName,
// Section, Level and SourceModifiedAt; the remaining fields are local.
type Student struct {
	ID               string
	Code             string
	FullName         string
	Section          string
	Level            string
	SourceModifiedAt time.Time

	Email         string
	GuardianPhone string
	Notes         string

	CreatedAt time.Time
	UpdatedAt time.Time
}
