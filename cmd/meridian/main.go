package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-lms/meridian-lms/internal/app"
	"github.com/meridian-lms/meridian-lms/internal/auth"
	"github.com/meridian-lms/meridian-lms/internal/authz"
	"github.com/meridian-lms/meridian-lms/internal/department"
	"github.com/meridian-lms/meridian-lms/internal/escalation"
	"github.com/meridian-lms/meridian-lms/internal/membership"
	"github.com/meridian-lms/meridian-lms/internal/observability"
	"github.com/meridian-lms/meridian-lms/internal/platform/cache"
	"github.com/meridian-lms/meridian-lms/internal/platform/db"
	"github.com/meridian-lms/meridian-lms/internal/registry"
	"github.com/meridian-lms/meridian-lms/internal/shared"
	"github.com/meridian-lms/meridian-lms/internal/users"
	"github.com/meridian-lms/meridian-lms/jobs"
)

// hierarchySource builds a fresh department index straight from storage so
// the permission cache never depends on the department service it serves.
type hierarchySource struct {
	repo *department.Repository
}

func (h hierarchySource) Index(ctx context.Context) (*department.Index, error) {
	list, err := h.repo.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return department.NewIndex(list), nil
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "meridian_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())

	registryRepo := registry.NewRepository(dbpool)
	roleRegistry := registry.New(registryRepo, logger, cfg.SeedMode)
	if err := roleRegistry.Refresh(ctx); err != nil {
		// Role checks fail closed until a later refresh succeeds.
		logger.Error("load role registry", slog.Any("error", err))
	}

	metrics := observability.NewMetrics()

	userRepo := users.NewRepository(dbpool)
	membershipRepo := membership.NewRepository(dbpool)
	departmentRepo := department.NewRepository(dbpool)

	permissionCache := authz.NewCache(
		membershipRepo,
		hierarchySource{repo: departmentRepo},
		roleRegistry,
		userRepo,
		redisClient,
		cfg.PermissionCacheTTL,
		logger,
	)
	permissionCache.SetObserver(metrics)

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	membershipService := membership.NewService(membershipRepo, roleRegistry, permissionCache, jobsClient, logger)

	departmentService := department.NewService(departmentRepo, permissionCache, logger)
	switchService := department.NewSwitchService(departmentService, membershipService, roleRegistry, userRepo, logger)

	tokenCodec := escalation.NewTokenCodec(cfg.EscalationTokenSecret)
	escalationService := escalation.NewService(tokenCodec, userRepo, membershipService, roleRegistry, redisClient, logger)

	authRepo := auth.NewRepository(dbpool)
	authService := auth.NewService(authRepo, userRepo)
	authHandler := auth.NewHandler(logger, authService, sessionManager, escalationService, switchService)

	authzMiddleware := authz.Middleware{Cache: permissionCache, Logger: logger, Observer: metrics}
	guard := app.RouteGuard{
		Authz:      authzMiddleware,
		Escalation: escalation.Middleware{Service: escalationService, Logger: logger},
	}
	registryHandler := registry.NewHandler(logger, roleRegistry, registryRepo, guard, permissionCache)
	authzHandler := authz.NewHandler(logger, permissionCache)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		SessionManager:  sessionManager,
		AuthHandler:     authHandler,
		RegistryHandler: registryHandler,
		AuthzHandler:    authzHandler,
		JobHandler:      jobHandler,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
