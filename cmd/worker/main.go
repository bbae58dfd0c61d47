package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/meridian-lms/meridian-lms/internal/app"
	"github.com/meridian-lms/meridian-lms/internal/authz"
	"github.com/meridian-lms/meridian-lms/internal/department"
	"github.com/meridian-lms/meridian-lms/internal/membership"
	"github.com/meridian-lms/meridian-lms/internal/platform/cache"
	"github.com/meridian-lms/meridian-lms/internal/platform/db"
	"github.com/meridian-lms/meridian-lms/internal/registry"
	"github.com/meridian-lms/meridian-lms/internal/users"
	"github.com/meridian-lms/meridian-lms/jobs"
)

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
		slog.Default().Info("test mode detected, skipping worker startup")
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

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

	registryRepo := registry.NewRepository(pool)
	roleRegistry := registry.New(registryRepo, logger, false)
	if err := roleRegistry.Refresh(ctx); err != nil {
		logger.Error("load role registry", slog.Any("error", err))
	}

	userRepo := users.NewRepository(pool)
	membershipRepo := membership.NewRepository(pool)
	departmentRepo := department.NewRepository(pool)

	permissionCache := authz.NewCache(
		membershipRepo,
		hierarchySource{repo: departmentRepo},
		roleRegistry,
		userRepo,
		redisClient,
		cfg.PermissionCacheTTL,
		logger,
	)

	refreshJob := jobs.NewPermissionsRefreshJob(permissionCache, logger, nil)
	invalidateJob := jobs.NewPermissionsInvalidateJob(permissionCache, logger, nil)
	registryJob := jobs.NewRegistryRefreshJob(roleRegistry, logger, nil)

	registryTask, err := jobs.NewRegistryRefreshTask()
	if err != nil {
		logger.Error("build registry refresh task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskPermissionsRefresh, Handler: refreshJob.Handle},
			{Type: jobs.TaskPermissionsInvalidate, Handler: invalidateJob.Handle},
			{Type: jobs.TaskRegistryRefresh, Handler: registryJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "*/15 * * * *", Task: registryTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
