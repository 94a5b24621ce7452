// Package auth issues and validates signed session tokens, holds the single
// role gate, and tracks revoked tokens until their natural expiry.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time

// Claims is the JWT payload of a session token.
type Claims struct {
	jwt.RegisteredClaims
	Username  string `json:"username"`
	Name      string `json:"name"`
	Role      Role   `json:"role"`
	GroupCode string `json:"group_code,omitempty"`
}

// Session is a validated token: the principal plus the identifiers needed
// to revoke it.
type Session struct {
	Principal Principal
	TokenID   string
	ExpiresAt time.Time
}

// TokenService signs and verifies HS256 session tokens. It holds no mutable
// state and is safe for concurrent use.
type TokenService struct {
	secretKey []byte
	validity  time.Duration
	now       Clock
}

// NewTokenService returns a service signing with secretKey. A nil clock
// means time.Now.
func NewTokenService(secretKey []byte, validity time.Duration, clock Clock) *TokenService {
	if clock == nil {
		clock = time.Now
	}
	return &TokenService{secretKey: secretKey, validity: validity, now: clock}
}

// Issue returns a signed token for p and its expiry instant.
func (s *TokenService) Issue(p Principal) (string, time.Time, error) {
	// JWT NumericDate has second precision; truncating keeps exp exact.
	issuedAt := s.now().Truncate(time.Second)
	expiresAt := issuedAt.Add(s.validity)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Username:  p.Username,
		Name:      p.DisplayName,
		Role:      p.Role,
		GroupCode: p.GroupCode,
	})

	tokenString, err := token.SignedString(s.secretKey)
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expiresAt, nil
}

// Validate verifies tokenString and returns the principal it carries.
// Errors are always *AuthError.
func (s *TokenService) Validate(tokenString string) (*Principal, error) {
	session, err := s.ValidateSession(tokenString)
	if err != nil {
		return nil, err
	}
	return &session.Principal, nil
}

// ValidateSession is Validate plus the token id and expiry.
func (s *TokenService) ValidateSession(tokenString string) (*Session, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, classify(err)
	}

	if !token.Valid {
		return nil, &AuthError{Kind: Malformed}
	}

	if claims.Subject == "" || claims.ID == "" || !claims.Role.Valid() {
		return nil, &AuthError{Kind: Unparseable, Err: errors.New("missing required claims")}
	}

	return &Session{
		Principal: Principal{
			ID:          claims.Subject,
			Username:    claims.Username,
			DisplayName: claims.Name,
			Role:        claims.Role,
			GroupCode:   claims.GroupCode,
		},
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func classify(err error) *AuthError {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return &AuthError{Kind: Expired, Err: err}
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrSignatureInvalid):
		return &AuthError{Kind: Malformed, Err: err}
	default:
		return &AuthError{Kind: Unparseable, Err: err}
	}
}

// BearerToken extracts the token from an Authorization value. The scheme is
// required and matched case-insensitively; anything else yields "".
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
