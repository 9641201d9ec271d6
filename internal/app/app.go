package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/netreach/controlplane/internal/audit"
	"github.com/netreach/controlplane/internal/auth"
	"github.com/netreach/controlplane/internal/config"
	db2 "github.com/netreach/controlplane/internal/db"
	"github.com/netreach/controlplane/internal/httpserver"
	"github.com/netreach/controlplane/internal/platform"
	"github.com/netreach/controlplane/internal/ratelimit"
	"github.com/netreach/controlplane/internal/telemetry"
	"github.com/netreach/controlplane/pkg/agentregistry"
	"github.com/netreach/controlplane/pkg/agenttoken"
	"github.com/netreach/controlplane/pkg/discovery"
	"github.com/netreach/controlplane/pkg/dispatch"
	"github.com/netreach/controlplane/pkg/heartbeat"
	"github.com/netreach/controlplane/pkg/notify"
	"github.com/netreach/controlplane/pkg/permission"
	"github.com/netreach/controlplane/pkg/reconcile"
	"github.com/netreach/controlplane/pkg/session"
	"github.com/netreach/controlplane/pkg/sweeper"
)

// Run is the main application entry point. It reads config, connects to
// infrastructure, and starts the single control-plane process: the HTTP
// server, the Background Sweeper, and the session-prune loop all share one
// Dispatch Table and one Session Tracker, since both are accessed by every
// HTTP handler and the sweeper (§5).
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting control plane",
		"mode", cfg.Mode,
		"listen", cfg.ListenAddr(),
	)

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	return runControlPlane(ctx, cfg, logger, db, rdb, metricsReg)
}

// runControlPlane builds the Agent Registry, Dispatch Table, Session
// Tracker, and Result Reconciler once, then starts the HTTP server, the
// Background Sweeper, and the session-prune loop as goroutines against that
// shared state (§1: "a single control-plane instance owns the dispatch
// table").
func runControlPlane(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) error {
	sessionSecret := cfg.SessionSecret
	if sessionSecret == "" {
		sessionSecret = auth.GenerateDevSecret()
		logger.Info("session: using auto-generated dev secret (set FLEET_SESSION_SECRET in production)")
	}
	sessionMgr, err := auth.NewSessionManager(sessionSecret, cfg.SessionMaxAge)
	if err != nil {
		return fmt.Errorf("creating session manager: %w", err)
	}

	auditWriter := audit.NewWriter(db, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	authLimiter := ratelimit.NewLimiter(rdb, "agent_auth_fail", cfg.AuthRateLimitMax, cfg.AuthRateLimitWindow)
	tokenStore := agenttoken.NewStore(db, auditWriter, authLimiter)

	q := db2.New(db)
	oracle := permission.FromIdentity{}
	agents := agentregistry.NewService(db, tokenStore, oracle, cfg.OnlineThreshold, cfg.DispatchFreshness)
	dispatchTable := dispatch.NewTable()
	sessionTable := session.NewTable()
	reconcileSvc := reconcile.NewService(q)
	notifier := notify.NewNotifier(cfg.SlackBotToken, cfg.SlackOpsChannel, logger)

	heartbeatSvc := heartbeat.NewService(q, dispatchTable, auditWriter)
	discoverySvc := discovery.NewService(q, agents, dispatchTable, sessionTable, reconcileSvc, oracle, notifier)

	userAuth := auth.UserMiddleware(sessionMgr, cfg.DevMode)
	agentAuth := auth.AgentMiddleware(tokenStore, logger)

	srv := httpserver.NewServer(cfg, logger, db, rdb, metricsReg, userAuth, agentAuth)

	userIdentity := func(r *http.Request) (permission.Identity, bool) {
		return auth.FromContext(r.Context())
	}
	agentIdentity := func(r *http.Request) (agenttoken.AgentPrincipal, bool) {
		return auth.AgentFromContext(r.Context())
	}

	agentTokenHandler := agenttoken.NewHandler(logger, tokenStore, oracle, userIdentity)
	agentRegistryHandler := agentregistry.NewHandler(logger, agents, auditWriter, userIdentity)
	discoveryHandler := discovery.NewHandler(logger, discoverySvc, userIdentity, agentIdentity)
	heartbeatHandler := heartbeat.NewHandler(logger, heartbeatSvc, agentIdentity)

	srv.UserRouter.Mount("/agents", agentRegistryHandler.Routes())
	srv.UserRouter.Mount("/agents/{id}", agentTokenHandler.Routes())
	srv.UserRouter.Mount("/", discoveryHandler.Routes())

	srv.AgentRouter.Mount("/", heartbeatHandler.Routes())
	srv.AgentRouter.Mount("/", discoveryHandler.AgentRoutes())

	engine := sweeper.NewEngine(q, agents, dispatchTable, sessionTable, logger, cfg.SweepInterval)
	go engine.Run(ctx)

	go func() {
		ticker := time.NewTicker(cfg.SessionPruneAge / 24)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed := sessionTable.Prune(cfg.SessionPruneAge)
				if removed > 0 {
					logger.Info("pruned stale sessions", "removed", removed)
				}
			}
		}
	}()

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
