package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClock struct{ t time.Time }

func (c *stubClock) Now() time.Time          { return c.t }
func (c *stubClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newStubClock() *stubClock {
	return &stubClock{t: time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)}
}

func teacher() Principal {
	return Principal{
		ID:          "7b0e2c53-8e5d-4a3f-9d43-5a8ad1f5b001",
		Username:    "mgarcia",
		DisplayName: "María García",
		Role:        RoleTeacher,
		GroupCode:   "3ESO-B",
	}
}

func requireKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	var ae *AuthError
	require.True(t, errors.As(err, &ae), "expected *AuthError, got %T: %v", err, err)
	assert.Equal(t, kind, ae.Kind)
}

func TestIssueAndValidate_RoundTrip(t *testing.T) {
	t.Parallel()

	clock := newStubClock()
	svc := NewTokenService([]byte("super-secret"), 30*time.Minute, clock.Now)

	tok, exp, err := svc.Issue(teacher())
	require.NoError(t, err)
	assert.Equal(t, clock.t.Add(30*time.Minute), exp)

	for _, step := range []time.Duration{0, time.Minute, 29*time.Minute + 59*time.Second} {
		clock.t = time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC).Add(step)
		got, err := svc.Validate(tok)
		require.NoError(t, err, "at +%s", step)
		assert.Equal(t, teacher(), *got)
	}
}

func TestValidate_ExpiredAtAndAfterExpiry(t *testing.T) {
	t.Parallel()

	clock := newStubClock()
	svc := NewTokenService([]byte("secret"), time.Minute, clock.Now)

	tok, exp, err := svc.Issue(teacher())
	require.NoError(t, err)

	clock.t = exp
	_, err = svc.Validate(tok)
	requireKind(t, err, Expired)

	clock.Advance(time.Hour)
	_, err = svc.Validate(tok)
	requireKind(t, err, Expired)
}

func TestValidate_WrongSecretIsMalformed(t *testing.T) {
	t.Parallel()

	clock := newStubClock()
	tok, _, err := NewTokenService([]byte("right-secret"), time.Hour, clock.Now).Issue(teacher())
	require.NoError(t, err)

	_, err = NewTokenService([]byte("wrong-secret"), time.Hour, clock.Now).Validate(tok)
	requireKind(t, err, Malformed)
}

func TestValidate_TamperedPayloadIsMalformed(t *testing.T) {
	t.Parallel()

	clock := newStubClock()
	svc := NewTokenService([]byte("k"), time.Hour, clock.Now)
	tok, _, err := svc.Issue(teacher())
	require.NoError(t, err)

	parts := strings.Split(tok, ".")
	require.Len(t, parts, 3)

	forged, _, err := NewTokenService([]byte("k"), time.Hour, clock.Now).Issue(Principal{
		ID: "someone-else", Username: "root", Role: RoleAdmin,
	})
	require.NoError(t, err)
	forgedParts := strings.Split(forged, ".")

	// admin payload with the teacher's signature
	_, err = svc.Validate(parts[0] + "." + forgedParts[1] + "." + parts[2])
	requireKind(t, err, Malformed)
}

func TestValidate_Unparseable(t *testing.T) {
	t.Parallel()

	svc := NewTokenService([]byte("k"), time.Hour, newStubClock().Now)

	for _, in := range []string{"", "not.a.jwt", "abc", "a.b"} {
		_, err := svc.Validate(in)
		requireKind(t, err, Unparseable)
	}
}

func TestValidate_MissingClaimsIsUnparseable(t *testing.T) {
	t.Parallel()

	clock := newStubClock()
	secret := []byte("k")
	svc := NewTokenService(secret, time.Hour, clock.Now)

	sign := func(c Claims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(secret)
		require.NoError(t, err)
		return s
	}
	exp := jwt.NewNumericDate(clock.t.Add(time.Hour))

	tests := map[string]Claims{
		"no expiry":  {RegisteredClaims: jwt.RegisteredClaims{Subject: "u", ID: "j"}, Role: RoleAdmin},
		"no subject": {RegisteredClaims: jwt.RegisteredClaims{ID: "j", ExpiresAt: exp}, Role: RoleAdmin},
		"no jti":     {RegisteredClaims: jwt.RegisteredClaims{Subject: "u", ExpiresAt: exp}, Role: RoleAdmin},
		"bad role":   {RegisteredClaims: jwt.RegisteredClaims{Subject: "u", ID: "j", ExpiresAt: exp}, Role: "janitor"},
	}
	for name, c := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Validate(sign(c))
			requireKind(t, err, Unparseable)
		})
	}
}

func TestValidate_RejectsOtherAlgorithms(t *testing.T) {
	t.Parallel()

	clock := newStubClock()
	svc := NewTokenService([]byte("k"), time.Hour, clock.Now)

	c := Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u", ID: "j", ExpiresAt: jwt.NewNumericDate(clock.t.Add(time.Hour))},
		Role:             RoleAdmin,
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, c).SignedString([]byte("k"))
	require.NoError(t, err)

	_, err = svc.Validate(tok)
	requireKind(t, err, Malformed)
}

func TestIssue_FreshTokenIDs(t *testing.T) {
	t.Parallel()

	svc := NewTokenService([]byte("k"), time.Hour, newStubClock().Now)

	a, _, err := svc.Issue(teacher())
	require.NoError(t, err)
	b, _, err := svc.Issue(teacher())
	require.NoError(t, err)

	sa, err := svc.ValidateSession(a)
	require.NoError(t, err)
	sb, err := svc.ValidateSession(b)
	require.NoError(t, err)
	assert.NotEqual(t, sa.TokenID, sb.TokenID)
}

func TestAuthErrorString(t *testing.T) {
	assert.Equal(t, "auth: token expired", (&AuthError{Kind: Expired}).Error())
	assert.Contains(t, (&AuthError{Kind: Malformed, Err: errors.New("sig")}).Error(), "malformed: sig")
	assert.Equal(t, "unknown", ErrorKind(0).String())
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer  abc ", "abc"},
		{"  BEARER abc", "abc"},
		{"Basic abc", ""},
		{"abc", ""},
		{"Bearer", ""},
		{"", ""},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, BearerToken(tc.header), "header %q", tc.header)
	}
}
