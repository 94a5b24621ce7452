package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/convivencia/phidiasync/internal/common"
)

// ErrUnavailable means the server could not be reached at all.
var ErrUnavailable = errors.New("server unavailable")

// Error is a non-2xx answer from the server. Code is the "error" field of
// the JSON body when present.
type Error struct {
	StatusCode int
	Code       string
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Code)
}

// Unwrap maps the status onto the shared sentinels so callers can use
// errors.Is(err, common.ErrConflict) and friends.
func (e *Error) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return common.ErrorUnauthorized
	case http.StatusForbidden:
		return common.ErrForbidden
	case http.StatusNotFound:
		if e.Code == "not_running" {
			return common.ErrNotRunning
		}
		return common.ErrorNotFound
	case http.StatusConflict:
		return common.ErrConflict
	}
	return nil
}
