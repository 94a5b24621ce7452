package http

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/convivencia/phidiasync/internal/common"
	"github.com/convivencia/phidiasync/internal/server/auth"
	"github.com/convivencia/phidiasync/internal/server/models"
	"github.com/convivencia/phidiasync/internal/server/services"
)

// requireRole authenticates the request and applies auth.Authorize.
// Denied principals are audited as SYNC_ACCESS_DENIED.
func (s *Server) requireRole(role auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := requestToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "missing_token")
				return
			}

			session, err := s.authn.Authenticate(r.Context(), token)
			if err != nil {
				s.writeAuthError(w, r, err)
				return
			}

			if err := auth.Authorize(&session.Principal, role); err != nil {
				_ = s.audit.Record(r.Context(), models.EventSyncAccessDenied, &session.Principal,
					withDetails(s.requestContext(r), "method", r.Method, "path", r.URL.Path, "role", string(session.Principal.Role)))
				s.logger.Warn(r.Context(), "access denied", "principal_id", session.Principal.ID, "path", r.URL.Path)
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), &session.Principal)))
		})
	}
}

func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var authErr *auth.AuthError
	switch {
	case errors.As(err, &authErr) && authErr.Kind == auth.Expired:
		writeError(w, http.StatusUnauthorized, "token_expired")
	case errors.As(err, &authErr), errors.Is(err, auth.ErrRevoked):
		writeError(w, http.StatusUnauthorized, "invalid_token")
	default:
		s.logger.Error(r.Context(), "authenticate", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
	}
}

// requestToken reads the bearer header, falling back to the session cookie.
func requestToken(r *http.Request) string {
	if t := auth.BearerToken(r.Header.Get(common.AuthorizationHeaderName)); t != "" {
		return t
	}
	if c, err := r.Cookie(common.SessionCookieName); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

func (s *Server) requestContext(r *http.Request) services.RequestContext {
	return services.RequestContext{Origin: clientIP(r, s.trustProxy), UserAgent: r.UserAgent()}
}

func withDetails(rc services.RequestContext, kv ...string) services.RequestContext {
	details := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		details[kv[i]] = kv[i+1]
	}
	rc.Details = details
	return rc
}

// clientIP is the peer address. Forwarding headers are client controlled and
// only count when a trusted proxy sets them.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func principalFrom(r *http.Request) *auth.Principal {
	p, _ := auth.PrincipalFromContext(r.Context())
	return p
}
