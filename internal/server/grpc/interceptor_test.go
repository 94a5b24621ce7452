package grpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/convivencia/phidiasync/internal/common"
	"github.com/convivencia/phidiasync/internal/logging"
	"github.com/convivencia/phidiasync/internal/server/auth"
)

func newTestServer(tokens *auth.TokenService) *GRPCServer {
	return NewGRPCServer("", logging.Nop(), &fakeEngine{}, auth.NewAuthenticator(tokens, nil), &fakeAuditor{})
}

func withToken(tok string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.New(map[string]string{
		common.AuthorizationHeaderName: tok,
	}))
}

func TestInterceptor_HealthPassesWithoutToken(t *testing.T) {
	s := newTestServer(auth.NewTokenService([]byte("secret"), time.Hour, nil))

	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	handlerCalled := false
	h := func(ctx context.Context, req interface{}) (interface{}, error) {
		handlerCalled = true
		return "ok", nil
	}

	resp, err := s.accessTokenInterceptor(context.Background(), nil, info, h)
	require.NoError(t, err)
	assert.True(t, handlerCalled)
	assert.Equal(t, "ok", resp)
}

func TestInterceptor_AdminMethod(t *testing.T) {
	tokens := auth.NewTokenService([]byte("secret"), time.Hour, nil)
	s := newTestServer(tokens)
	info := &grpc.UnaryServerInfo{FullMethod: TriggerSyncMethod}

	adminTok, _, err := tokens.Issue(admin)
	require.NoError(t, err)
	expired := auth.NewTokenService([]byte("secret"), time.Minute, func() time.Time { return time.Now().Add(-time.Hour) })
	expiredTok, _, err := expired.Issue(admin)
	require.NoError(t, err)

	tests := []struct {
		name string
		ctx  context.Context
		code codes.Code
		msg  string
	}{
		{"no metadata", context.Background(), codes.Unauthenticated, "missing token"},
		{"garbage", withToken("Bearer nope"), codes.Unauthenticated, "invalid token"},
		{"expired", withToken("Bearer " + expiredTok), codes.Unauthenticated, "token expired"},
		{"wrong scheme", withToken("Basic " + adminTok), codes.Unauthenticated, "missing token"},
		{"admin", withToken("Bearer " + adminTok), codes.OK, ""},
		{"bare token", withToken(adminTok), codes.Unauthenticated, "missing token"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var seen *auth.Principal
			h := func(ctx context.Context, req interface{}) (interface{}, error) {
				seen, _ = auth.PrincipalFromContext(ctx)
				return "ok", nil
			}

			_, err := s.accessTokenInterceptor(tc.ctx, nil, info, h)
			assert.Equal(t, tc.code, status.Code(err))
			if tc.code != codes.OK {
				assert.Equal(t, tc.msg, status.Convert(err).Message())
				assert.Nil(t, seen)
				return
			}
			require.NotNil(t, seen)
			assert.Equal(t, admin.ID, seen.ID)
		})
	}
}
