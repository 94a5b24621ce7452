// Package server wires the sync engine, its stores and its surfaces
// together and runs them until the process is told to stop.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/convivencia/phidiasync/internal/logging"
	"github.com/convivencia/phidiasync/internal/server/archive"
	"github.com/convivencia/phidiasync/internal/server/auth"
	"github.com/convivencia/phidiasync/internal/server/config"
	"github.com/convivencia/phidiasync/internal/server/jobs"
	"github.com/convivencia/phidiasync/internal/server/metrics"
	"github.com/convivencia/phidiasync/internal/server/phidias"
	"github.com/convivencia/phidiasync/internal/server/repositories/repomanager"
	"github.com/convivencia/phidiasync/internal/server/services"
	"github.com/convivencia/phidiasync/internal/server/shared/db"

	gs "github.com/convivencia/phidiasync/internal/server/grpc"
	hs "github.com/convivencia/phidiasync/internal/server/http"
)

const shutdownTimeout = 30 * time.Second

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	redis    *redis.Client
	registry *prometheus.Registry

	authn          *auth.Authenticator
	audit          *services.AuditService
	history        *services.HistoryService
	sessions       *services.SessionService
	configurations *services.ConfigurationService
	orchestrator   *services.Orchestrator
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	logger := logging.NewJSONLogger(os.Stdout, slog.LevelInfo)

	conn, err := db.Open(ctx, c.DatabaseDSN, db.Options{MaxOpenConns: 2*c.SyncWorkers + 4, ConnectAttempts: 10})
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	app := &App{config: c, logger: logger, db: conn}
	if err := app.init(ctx); err != nil {
		app.close()
		return nil, err
	}
	return app, nil
}

func (app *App) init(ctx context.Context) error {
	c := app.config
	m := repomanager.NewPostgresRepositoryManager()

	if err := m.RunMigrations(ctx, app.db); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	var revoker auth.Revoker = auth.NewMemoryRevoker(nil)
	if c.RedisAddr != "" {
		app.redis = redis.NewClient(&redis.Options{Addr: c.RedisAddr, Password: c.RedisPassword})
		if err := app.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		revoker = auth.NewRedisRevoker(app.redis, nil)
	}

	tokens := auth.NewTokenService([]byte(c.SecretKey), c.AccessTokenValidityDuration, nil)
	app.authn = auth.NewAuthenticator(tokens, revoker)

	app.audit = services.NewAuditService(app.db, m, app.logger)
	app.history = services.NewHistoryService(app.db, m, app.logger)
	app.sessions = services.NewSessionService(app.db, m, tokens, app.authn, app.audit, app.logger)
	app.configurations = services.NewConfigurationService(app.db, m, app.logger)

	upstream, err := phidias.NewHTTPClient(c.PhidiasBaseURL, c.PhidiasToken, &http.Client{})
	if err != nil {
		return err
	}
	client := phidias.NewRetryingClient(upstream, phidias.RetryPolicy{
		MaxRetries:     uint64(max(c.PhidiasMaxRetries, 0)),
		BaseDelay:      c.PhidiasRetryBaseDelay,
		MaxDelay:       30 * time.Second,
		AttemptTimeout: c.PhidiasFetchTimeout,
	})

	app.orchestrator = services.NewOrchestrator(app.db, m, client, app.history, app.audit, app.logger,
		services.OrchestratorConfig{PageSize: c.PhidiasPageSize, Workers: c.SyncWorkers, HeartbeatInterval: c.HeartbeatInterval})

	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	observer, err := metrics.NewSyncMetrics(app.registry)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	app.orchestrator.SetObserver(observer)

	if c.S3Bucket != "" {
		s3c, err := archive.NewS3Client(ctx, archive.Options{
			Region:       c.S3Region,
			AccessKey:    c.S3RootUser,
			SecretKey:    c.S3RootPassword,
			BaseEndpoint: c.S3BaseEndpoint,
			Bucket:       c.S3Bucket,
		})
		if err != nil {
			return fmt.Errorf("s3: %w", err)
		}
		app.orchestrator.SetArchiver(archive.NewS3Archiver(s3c, c.S3Bucket))
	}

	if c.BootstrapAdminUser != "" && c.BootstrapAdminPassword != "" {
		if err := app.sessions.EnsureAdmin(ctx, c.BootstrapAdminUser, c.BootstrapAdminPassword); err != nil {
			return err
		}
	}

	if c.StaleRunAfter > 0 {
		if _, err := app.history.RecoverStale(ctx, c.StaleRunAfter); err != nil {
			return fmt.Errorf("recover stale runs: %w", err)
		}
	}

	return nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	httpServer := hs.NewServer(app.config.HTTPAddr, hs.Deps{
		Sessions:       app.sessions,
		Engine:         app.orchestrator,
		History:        app.history,
		Audit:          app.audit,
		Configurations: app.configurations,
		Authn:          app.authn,
		Metrics:        promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}),
		SecureCookie:   app.config.SecureCookie,
		TrustProxy:     app.config.TrustProxyHeaders,
	}, app.logger)
	grpcServer := gs.NewGRPCServer(app.config.GRPCAddr, app.logger, app.orchestrator, app.authn, app.audit)
	scheduler := jobs.NewSyncScheduler(app.orchestrator, app.config.SyncInterval, app.logger)

	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		if err := httpServer.Run(ctx); err != nil {
			app.logger.Error(ctx, err.Error())
			cancelFunc()
		}
	}()
	go func() {
		defer wg.Done()
		if err := grpcServer.Run(ctx); err != nil {
			app.logger.Error(ctx, err.Error())
			cancelFunc()
		}
	}()
	go func() {
		defer wg.Done()
		scheduler.Run(ctx)
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.orchestrator.Shutdown(shutdownCtx); err != nil {
		app.logger.Warn(shutdownCtx, "sync runs still executing at shutdown", "error", err)
	}

	wg.Wait()
	app.close()
	app.logger.Info(shutdownCtx, "App stopped")
}

func (app *App) close() {
	if app.redis != nil {
		_ = app.redis.Close()
	}
	if app.db != nil {
		_ = app.db.Close()
	}
}
