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
	"github.com/redis/go-redis/v9"

	"github.com/abdialidrus/scm-mining/internal/app"
	"github.com/abdialidrus/scm-mining/internal/ledger"
	"github.com/abdialidrus/scm-mining/internal/observability"
	"github.com/abdialidrus/scm-mining/internal/platform/cache"
	"github.com/abdialidrus/scm-mining/internal/platform/db"
	"github.com/abdialidrus/scm-mining/internal/rbac"
	"github.com/abdialidrus/scm-mining/internal/shared"
	"github.com/abdialidrus/scm-mining/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping server startup")
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

	dbpool, err := db.New(ctx, db.PoolConfig{DSN: cfg.PGDSN, MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	var (
		redisClient *redis.Client
		enqueuer    ledger.ReconcileEnqueuer
		jobHandler  *jobs.Handler
	)
	redisClient, err = cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, balance cache and job queue disabled", slog.Any("error", err))
		jobHandler = jobs.NewHandler(nil, logger)
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
		jobClient := jobs.NewClient(redisOpts)
		defer func() {
			if err := jobClient.Close(); err != nil {
				logger.Warn("job client close", slog.Any("error", err))
			}
		}()
		enqueuer = jobClient

		inspector := asynq.NewInspector(redisOpts)
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	}

	rbacService := rbac.NewService(dbpool)
	if err := rbacService.EnsureWarehousePermissions(ctx); err != nil {
		logger.Error("seed warehouse permissions", slog.Any("error", err))
		os.Exit(1)
	}
	rbacMiddleware := rbac.Middleware{Service: rbacService, Logger: logger}

	metrics := observability.NewMetrics()
	modules := app.NewModules(app.PostgresRepositories(dbpool, cfg), app.ModuleDeps{
		Audit:   shared.NewAuditLogger(dbpool),
		Metrics: metrics,
		Cache:   ledger.NewBalanceCache(redisClient, cfg.BalanceCacheTTL),
		Logger:  logger,
	})

	params := modules.RouterParams(cfg, logger, rbacMiddleware, metrics, enqueuer)
	params.JobHandler = jobHandler
	params.Idempotency = shared.NewIdempotencyStore(dbpool)
	params.PermissionsHandler = rbac.NewPermissionsHandler(logger, rbacService, rbacMiddleware)
	router := app.NewRouter(params)

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
