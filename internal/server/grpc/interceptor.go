package grpc

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/convivencia/phidiasync/internal/common"
	"github.com/convivencia/phidiasync/internal/server/auth"
	"github.com/convivencia/phidiasync/internal/server/models"
	"github.com/convivencia/phidiasync/internal/server/services"
)

// accessTokenInterceptor guards the admin service: bearer token from the
// authorization metadata, revocation check, then the admin role gate.
// Other services (health) pass through.
func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {

	if !strings.HasPrefix(info.FullMethod, "/"+SyncAdminServiceName+"/") {
		return handler(ctx, req)
	}

	var accessToken string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		values := md.Get(common.AuthorizationHeaderName)
		if len(values) > 0 {
			accessToken = auth.BearerToken(values[0])
		}
	}
	if len(accessToken) == 0 {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	session, err := s.authn.Authenticate(ctx, accessToken)
	if err != nil {
		var authErr *auth.AuthError
		switch {
		case errors.As(err, &authErr) && authErr.Kind == auth.Expired:
			return nil, status.Error(codes.Unauthenticated, "token expired")
		case errors.As(err, &authErr), errors.Is(err, auth.ErrRevoked):
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		default:
			s.logger.Error(ctx, "authenticate", "error", err)
			return nil, status.Error(codes.Internal, "internal error")
		}
	}

	if err := auth.Authorize(&session.Principal, auth.RoleAdmin); err != nil {
		rc := requestContext(ctx)
		rc.Details = map[string]string{"method": info.FullMethod, "role": string(session.Principal.Role)}
		_ = s.audit.Record(ctx, models.EventSyncAccessDenied, &session.Principal, rc)
		s.logger.Warn(ctx, "access denied", "principal_id", session.Principal.ID, "method", info.FullMethod)
		return nil, status.Error(codes.PermissionDenied, "forbidden")
	}

	return handler(auth.WithPrincipal(ctx, &session.Principal), req)
}

func requestContext(ctx context.Context) services.RequestContext {
	var rc services.RequestContext
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		rc.Origin = p.Addr.String()
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ua := md.Get("user-agent"); len(ua) > 0 {
			rc.UserAgent = ua[0]
		}
	}
	return rc
}
