package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-retail/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-retail/internal/app"
	"github.com/odyssey-erp/odyssey-retail/internal/audit"
	audithttp "github.com/odyssey-erp/odyssey-retail/internal/audit/http"
	"github.com/odyssey-erp/odyssey-retail/internal/observability"
	"github.com/odyssey-erp/odyssey-retail/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-retail/internal/platform/db"
	"github.com/odyssey-erp/odyssey-retail/internal/rbac"
	"github.com/odyssey-erp/odyssey-retail/internal/roles"
	"github.com/odyssey-erp/odyssey-retail/internal/shifts"
	"github.com/odyssey-erp/odyssey-retail/internal/users"
	"github.com/odyssey-erp/odyssey-retail/jobs"
	"github.com/odyssey-erp/odyssey-retail/migrations"
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

	if len(os.Args) > 1 {
		if err := runCommand(ctx, cfg, logger, os.Args[1:]); err != nil {
			logger.Error("command failed", slog.String("command", os.Args[1]), slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	if err := serve(ctx, stop, cfg, logger); err != nil {
		logger.Error("server", slog.Any("error", err))
		os.Exit(1)
	}
}

// runCommand handles the operational subcommands: migrate, jobs trigger <task> and
// jobs inspect.
func runCommand(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) error {
	switch args[0] {
	case "migrate":
		return cli.Migrate(ctx, cfg.PGDSN, logger)
	case "jobs":
		if len(args) < 2 {
			return fmt.Errorf("usage: jobs trigger <task> | jobs inspect")
		}
		jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
		defer func() { _ = jobsCLI.Close() }()
		switch args[1] {
		case "trigger":
			if len(args) < 3 {
				return fmt.Errorf("usage: jobs trigger <task>")
			}
			info, err := jobsCLI.Trigger(ctx, args[2])
			if err != nil {
				return err
			}
			logger.Info("job enqueued", slog.String("id", info.ID), slog.String("queue", info.Queue))
			return nil
		case "inspect":
			stats, err := jobsCLI.InspectQueues(ctx)
			if err != nil {
				return err
			}
			for _, s := range stats {
				logger.Info("queue",
					slog.String("queue", s.Queue),
					slog.Int("pending", s.Pending),
					slog.Int("active", s.Active),
					slog.Int("scheduled", s.Scheduled),
					slog.Int("retry", s.Retry),
					slog.Int("archived", s.Archived),
				)
			}
			return nil
		}
	}
	return fmt.Errorf("unknown command %q", args[0])
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: cfg.PGMaxConns, MaxConnLifetime: time.Hour})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if cfg.MigrateOnStart {
		if err := db.Migrate(ctx, pool, migrations.FS, logger); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	permissionCache := rbac.NewRedisCache(redisClient, rbac.RedisCacheConfig{
		TTL:       cfg.PermissionCacheTTL,
		LocalSize: cfg.PermissionLocalCacheSize,
		LocalTTL:  cfg.PermissionLocalCacheTTL,
	}, logger)
	if err := permissionCache.ListenForInvalidation(ctx); err != nil {
		logger.Warn("permission cache invalidation listener", slog.Any("error", err))
	}

	rbacRepo := rbac.NewRepository(pool)
	resolver := rbac.NewResolver(rbacRepo, permissionCache, logger)
	guard := rbac.NewGuard(metrics)

	publicKey, err := rbac.LoadRSAPublicKey(cfg.JWTPublicKeyPath)
	if err != nil {
		return fmt.Errorf("load jwt public key: %w", err)
	}
	rbacMiddleware := rbac.Middleware{
		Auth:     rbac.NewJWTSource(publicKey, cfg.JWTIssuer, rbacRepo),
		Resolver: resolver,
		Logger:   logger,
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	auditStore := audit.NewStore(pool)
	var auditSink audit.Sink = auditStore
	if cfg.AuditMode == app.AuditModeQueue {
		jobClient := jobs.NewClient(redisOpts)
		defer func() {
			if err := jobClient.Close(); err != nil {
				logger.Warn("job client close", slog.Any("error", err))
			}
		}()
		auditSink = audit.NewQueueSink(jobClient, jobs.QueueAudit)
	}
	recorder := audit.NewRecorder(auditSink, logger)

	rbacService := rbac.NewService(rbacRepo, resolver, guard, recorder, logger)
	rolesService := roles.NewService(roles.NewRepository(pool), resolver, recorder, logger)
	usersService := users.NewService(users.NewRepository(pool), resolver, guard)
	shiftsService := shifts.NewService(shifts.ServiceConfig{
		Repo:     shifts.NewRepository(pool),
		Resolver: resolver,
		Guard:    guard,
		Audit:    recorder,
		Metrics:  metrics,
		Logger:   logger,
	})

	inspector := asynq.NewInspector(redisOpts)
	defer func() { _ = inspector.Close() }()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		RBACMiddleware: rbacMiddleware,
		RBACHandler:    rbac.NewHandler(logger, rbacService, resolver, rbacRepo, rbacMiddleware),
		RolesHandler:   roles.NewHandler(logger, rolesService, rbacMiddleware),
		UsersHandler:   users.NewHandler(logger, usersService, rbacMiddleware),
		ShiftsHandler:  shifts.NewHandler(logger, shiftsService),
		AuditHandler:   audithttp.NewHandler(logger, audit.NewService(auditStore), rbacMiddleware, cfg.ExportLimitPerMinute),
		JobHandler:     jobs.NewHandler(inspector, logger),
		Metrics:        metrics,
		Readiness: map[string]app.Pinger{
			"postgres": pool,
			"redis":    redisPinger(redisClient),
		},
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
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
	return nil
}

func redisPinger(client *redis.Client) app.Pinger {
	return app.PingFunc(func(ctx context.Context) error {
		return cache.Ping(ctx, client)
	})
}
