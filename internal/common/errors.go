// Package common defines shared constants and sentinel errors used across
// the server and the operator CLI. Callers should use errors.Is to match
// these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorUnauthorized = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")

	// ErrConflict is returned when a sync run is already in progress or a
	// run is closed twice.
	ErrConflict = errors.New("conflict")

	// Sync lifecycle errors.
	ErrRunAborted = errors.New("sync run aborted by operator")
	ErrNotRunning = errors.New("sync run is not running")

	// Validation errors for externally sourced records.
	ErrInvalidRecord = errors.New("invalid record")
)
