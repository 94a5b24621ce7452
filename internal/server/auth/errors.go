package auth

import "fmt"

// ErrorKind classifies why a token was rejected.
type ErrorKind int

const (
	// Expired: the current time is at or past the embedded expiry.
	Expired ErrorKind = iota + 1
	// Malformed: the signature does not verify against the server key.
	Malformed
	// Unparseable: the input is not a token or lacks required claims.
	Unparseable
)

func (k ErrorKind) String() string {
	switch k {
	case Expired:
		return "expired"
	case Malformed:
		return "malformed"
	case Unparseable:
		return "unparseable"
	default:
		return "unknown"
	}
}

// AuthError is returned by TokenService.Validate. Match it with errors.As.
type AuthError struct {
	Kind ErrorKind
	Err  error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("auth: token %s", e.Kind)
	}
	return fmt.Sprintf("auth: token %s: %v", e.Kind, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }
