package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Revoker is the server-side revocation set. Entries live until the revoked
// token would have expired anyway.
type Revoker interface {
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

const revokedKeyPrefix = "phidiasync:revoked:"

// RedisRevoker keeps revoked token ids as Redis keys with a TTL.
type RedisRevoker struct {
	rdb *redis.Client
	now Clock
}

func NewRedisRevoker(rdb *redis.Client, clock Clock) *RedisRevoker {
	if clock == nil {
		clock = time.Now
	}
	return &RedisRevoker{rdb: rdb, now: clock}
}

func (r *RedisRevoker) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	if err := r.rdb.Set(ctx, revokedKeyPrefix+tokenID, "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

func (r *RedisRevoker) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	err := r.rdb.Get(ctx, revokedKeyPrefix+tokenID).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis error: %w", err)
	}
	return true, nil
}

// MemoryRevoker is the in-process revocation set used when no Redis is
// configured. It does not survive restarts and is not shared between
// instances.
type MemoryRevoker struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     Clock
}

func NewMemoryRevoker(clock Clock) *MemoryRevoker {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryRevoker{revoked: make(map[string]time.Time), now: clock}
}

func (m *MemoryRevoker) Revoke(_ context.Context, tokenID string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if !expiresAt.After(now) {
		return nil
	}
	m.revoked[tokenID] = expiresAt
	m.sweep(now)
	return nil
}

func (m *MemoryRevoker) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp, ok := m.revoked[tokenID]
	if !ok {
		return false, nil
	}
	if !exp.After(m.now()) {
		delete(m.revoked, tokenID)
		return false, nil
	}
	return true, nil
}

// sweep drops expired entries. Caller holds mu.
func (m *MemoryRevoker) sweep(now time.Time) {
	for id, exp := range m.revoked {
		if !exp.After(now) {
			delete(m.revoked, id)
		}
	}
}

// Authenticator combines token validation with the revocation set. It is
// what the HTTP middleware and the gRPC interceptor call.
type Authenticator struct {
	tokens  *TokenService
	revoker Revoker
}

func NewAuthenticator(tokens *TokenService, revoker Revoker) *Authenticator {
	return &Authenticator{tokens: tokens, revoker: revoker}
}

// ErrRevoked is returned for a correctly signed, unexpired token that was
// revoked by logout.
var ErrRevoked = errors.New("auth: token revoked")

// Authenticate validates tokenString and rejects revoked tokens. Validation
// failures are *AuthError; a revoked token yields ErrRevoked; a revocation
// store failure is returned as is.
func (a *Authenticator) Authenticate(ctx context.Context, tokenString string) (*Session, error) {
	session, err := a.tokens.ValidateSession(tokenString)
	if err != nil {
		return nil, err
	}
	if a.revoker == nil {
		return session, nil
	}
	revoked, err := a.revoker.IsRevoked(ctx, session.TokenID)
	if err != nil {
		return nil, fmt.Errorf("revocation check: %w", err)
	}
	if revoked {
		return nil, ErrRevoked
	}
	return session, nil
}

// Revoke adds the session's token to the revocation set.
func (a *Authenticator) Revoke(ctx context.Context, s *Session) error {
	if a.revoker == nil || s == nil {
		return nil
	}
	return a.revoker.Revoke(ctx, s.TokenID, s.ExpiresAt)
}
