// Package phidias talks to the Phidias academic-records system. Consumers
// depend on Client; HTTPClient is the JSON-over-HTTP adapter, RetryingClient
// adds bounded backoff and Pager turns cursors into a lazy page sequence.
package phidias

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnavailable covers transport failures, timeouts and 5xx answers. Retried.
	ErrUnavailable = errors.New("phidias: unavailable")
	// ErrRateLimited is a 429 answer. Retried after the advertised delay.
	ErrRateLimited = errors.New("phidias: rate limited")
	// ErrUnauthorized is a 401/403 answer. Never retried.
	ErrUnauthorized = errors.New("phidias: unauthorized")
	// ErrBadResponse is an answer whose envelope cannot be decoded.
	ErrBadResponse = errors.New("phidias: bad response")
)

// PageRequest asks for records modified after Since, continuing at Cursor.
type PageRequest struct {
	Since  time.Time
	Cursor string
	Limit  int
}

// Page is one upstream page. Records are kept raw so a malformed record
// fails on its own instead of failing the page.
type Page struct {
	Records    []json.RawMessage
	NextCursor string
	// Marker is the last-modified marker of the newest record in the page.
	Marker time.Time
}

type Client interface {
	FetchStudents(ctx context.Context, req PageRequest) (*Page, error)
	FetchTracking(ctx context.Context, trackingID string, req PageRequest) (*Page, error)
}

// StatusError carries the HTTP status of a rejected request.
type StatusError struct {
	StatusCode int
	// RetryAfter is the delay advertised by a 429/503 answer, if any.
	RetryAfter time.Duration
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v (status %d)", e.Err, e.StatusCode)
}

func (e *StatusError) Unwrap() error { return e.Err }

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrRateLimited)
}
