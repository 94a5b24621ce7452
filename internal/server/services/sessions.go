package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/convivencia/phidiasync/internal/common"
	"github.com/convivencia/phidiasync/internal/logging"
	"github.com/convivencia/phidiasync/internal/server/auth"
	"github.com/convivencia/phidiasync/internal/server/models"
	"github.com/convivencia/phidiasync/internal/server/repositories/repomanager"
)

// LoginResult is a freshly issued session.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	Principal auth.Principal
}

// SessionService issues and terminates sessions and audits both.
type SessionService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	tokens      *auth.TokenService
	authn       *auth.Authenticator
	audit       *AuditService
	log         logging.Logger
}

func NewSessionService(db *sql.DB, m repomanager.RepositoryManager, tokens *auth.TokenService, authn *auth.Authenticator,
	audit *AuditService, log logging.Logger) *SessionService {
	return &SessionService{
		db:          db,
		repomanager: m,
		tokens:      tokens,
		authn:       authn,
		audit:       audit,
		log:         log.With("module", "sessions"),
	}
}

// Login checks the password and issues a session token. Wrong credentials
// yield common.ErrorUnauthorized whether or not the user exists. If the
// LOGIN audit record cannot be written no token is handed out.
func (s *SessionService) Login(ctx context.Context, username, password string, rc RequestContext) (*LoginResult, error) {
	user, err := s.repomanager.Users(s.db).GetUserByLogin(ctx, username)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if user == nil || bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)) != nil {
		if err := s.audit.Record(ctx, models.EventLoginFailed, nil, rc.with("username", username)); err != nil {
			return nil, err
		}
		return nil, common.ErrorUnauthorized
	}

	p := principalOf(user)
	token, expiresAt, err := s.tokens.Issue(p)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	if err := s.audit.Record(ctx, models.EventLogin, &p, rc); err != nil {
		return nil, err
	}

	s.log.Info(ctx, "user logged in", "user_id", p.ID, "role", string(p.Role))
	return &LoginResult{Token: token, ExpiresAt: expiresAt, Principal: p}, nil
}

// Logout terminates the session carried by token. It never fails: an
// invalid token is ignored, and revocation or audit failures are logged.
// Validity is signature and expiry only, so an unreachable revocation store
// does not hide a live session. It reports whether a valid session existed.
func (s *SessionService) Logout(ctx context.Context, token string, rc RequestContext) bool {
	if token == "" {
		return false
	}

	session, err := s.tokens.ValidateSession(token)
	if err != nil {
		return false
	}

	if err := s.authn.Revoke(ctx, session); err != nil {
		s.log.Warn(ctx, "token revocation failed", "user_id", session.Principal.ID, "error", err)
	}

	_ = s.audit.Record(ctx, models.EventLogout, &session.Principal, rc)

	s.log.Info(ctx, "user logged out", "user_id", session.Principal.ID)
	return true
}

// EnsureAdmin creates an administrator account unless username exists.
func (s *SessionService) EnsureAdmin(ctx context.Context, username, password string) error {
	repo := s.repomanager.Users(s.db)

	_, err := repo.GetUserByLogin(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return fmt.Errorf("lookup admin: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = repo.Create(ctx, &models.User{
		UserName:     username,
		DisplayName:  username,
		PasswordHash: hash,
		Role:         string(auth.RoleAdmin),
	})
	if err != nil && !errors.Is(err, common.ErrConflict) {
		return fmt.Errorf("create admin: %w", err)
	}

	s.log.Info(ctx, "bootstrap admin ensured", "username", username)
	return nil
}

func principalOf(u *models.User) auth.Principal {
	return auth.Principal{
		ID:          u.ID,
		Username:    u.UserName,
		DisplayName: u.DisplayName,
		Role:        auth.Role(u.Role),
		GroupCode:   u.GroupCode,
	}
}
