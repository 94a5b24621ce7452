package auth

import (
	"context"

	"github.com/convivencia/phidiasync/internal/common"
)

// Role is the coarse permission level carried in a session token.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStaff   Role = "staff"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleStaff:
		return true
	}
	return false
}

// Principal is the identity resolved from a valid session token.
type Principal struct {
	ID          string
	Username    string
	DisplayName string
	Role        Role
	// GroupCode scopes teachers to their class group. Empty for other roles.
	GroupCode string
}

// Authorize is the single role gate used by every privileged entry point.
// A nil principal is unauthenticated; a principal with a different role is
// forbidden.
func Authorize(p *Principal, required Role) error {
	if p == nil {
		return common.ErrorUnauthorized
	}
	if p.Role != required {
		return common.ErrForbidden
	}
	return nil
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal stored by WithPrincipal, if any.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}
