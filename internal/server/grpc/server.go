// Package grpc serves the operator admin API and the standard health
// service over gRPC.
package grpc

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/convivencia/phidiasync/internal/logging"
	"github.com/convivencia/phidiasync/internal/server/auth"
	"github.com/convivencia/phidiasync/internal/server/models"
	"github.com/convivencia/phidiasync/internal/server/services"
)

// Engine starts, aborts and reports on sync runs.
type Engine interface {
	Start(ctx context.Context, t services.Trigger) (string, error)
	Abort(ctx context.Context, runID string, p *auth.Principal, rc services.RequestContext) error
	Status(ctx context.Context) (*services.Status, error)
}

// Authenticator resolves a bearer token into a live session.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*auth.Session, error)
}

// Auditor records denied calls.
type Auditor interface {
	Record(ctx context.Context, t models.EventType, p *auth.Principal, rc services.RequestContext) error
}

type GRPCServer struct {
	address string
	engine  Engine
	authn   Authenticator
	audit   Auditor
	logger  logging.Logger
	health  *health.Server
}

var _ SyncAdminServer = (*GRPCServer)(nil)

func NewGRPCServer(a string, l logging.Logger, engine Engine, authn Authenticator, audit Auditor) *GRPCServer {
	return &GRPCServer{
		address: a,
		logger:  l.With("module", "grpc_server"),
		engine:  engine,
		authn:   authn,
		audit:   audit,
		health:  health.NewServer(),
	}
}

// newServer builds the gRPC server with every service registered.
func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.accessTokenInterceptor))

	RegisterSyncAdminServer(srv, s)
	healthpb.RegisterHealthServer(srv, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(SyncAdminServiceName, healthpb.HealthCheckResponse_SERVING)

	return srv
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	return s.serve(ctx, listen)
}

func (s *GRPCServer) serve(ctx context.Context, listen net.Listener) error {
	srv := s.newServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", listen.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(listen); err != nil {
		return err
	}

	return nil
}
