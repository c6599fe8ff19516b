// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"course-billing/internal/config"
	"course-billing/internal/domain/ports/repository"
	payAdapters "course-billing/internal/infra/adapters/payment"
	"course-billing/internal/infra/api"
	"course-billing/internal/infra/db"
	pg "course-billing/internal/infra/db/postgres"
	"course-billing/internal/infra/events"
	"course-billing/internal/infra/logging"
	"course-billing/internal/infra/metrics"
	red "course-billing/internal/infra/redis"
	"course-billing/internal/infra/sched"
	"course-billing/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, unredacted references)")
	migrateOnly := flag.Bool("migrate", false, "apply database migrations and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Migrations ----
	if *migrateOnly || cfg.Database.AutoMigrate {
		if err := db.Migrate(cfg.Database.URL, cfg.Database.MigrationsDir, logger); err != nil {
			logger.Fatal().Err(err).Msg("migrate")
		}
		if *migrateOnly {
			return
		}
	}

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	go metrics.WatchPool(ctx, pool, 15*time.Second)

	// ---- Repositories ----
	tm := pg.NewTxManager(pool)
	payRepo := pg.NewPaymentRepo(pool)
	inboxRepo := pg.NewNotificationLogRepo(pool)
	var (
		subRepo    repository.SubscriptionRepository   = pg.NewSubscriptionRepo(pool)
		courseRepo repository.CoursePurchaseRepository = pg.NewCoursePurchaseRepo(pool)
		entCache   repository.EntitlementCache
		limiter    api.RateLimiter
	)

	// ---- Redis (optional: read cache + confirm rate limit) ----
	if cfg.Redis.URL != "" {
		redisClient, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer redisClient.Close()
		cached := pg.NewEntitlementRepoCacheDecorator(subRepo, courseRepo, redisClient, cfg.Redis.TTL)
		subRepo, courseRepo, entCache = cached, cached, cached
		limiter = red.NewRateLimiter(redisClient, cfg.RateLimit.ConfirmPerMinute, time.Minute)
	} else {
		logger.Warn().Msg("redis.url not set; entitlement cache and confirm rate limit disabled")
	}

	// ---- Providers ----
	registry, err := payAdapters.NewRegistry(cfg.Payment)
	if err != nil {
		logger.Fatal().Err(err).Msg("payment providers")
	}
	logger.Info().Strs("providers", registry.Providers()).Msg("payment providers enabled")

	// ---- Entitlement events ----
	publisher, err := events.New(ctx, cfg.Events, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("events")
	}
	defer publisher.Close()

	// ---- Use cases ----
	engine := usecase.NewReconcileUseCase(tm, payRepo, subRepo, courseRepo, entCache, publisher,
		usecase.ReconcileConfig{
			SubscriptionPeriod: cfg.Billing.SubscriptionPeriod,
			StoreTimeout:       cfg.Database.StoreTimeout,
			Dev:                cfg.Runtime.Dev,
		}, logger)
	webhookUC := usecase.NewWebhookUseCase(registry, inboxRepo, engine, cfg.Database.StoreTimeout, cfg.Runtime.Dev, logger)
	confirmUC := usecase.NewConfirmUseCase(payRepo, registry, engine, cfg.Database.StoreTimeout, cfg.Payment.LookupTimeout, cfg.Runtime.Dev, logger)
	entitlementUC := usecase.NewEntitlementUseCase(subRepo, courseRepo, logger)

	// ---- Background reconciler ----
	if cfg.Reconciler.Enabled {
		worker := sched.NewPaymentReconciler(engine, payRepo, registry,
			cfg.Reconciler.Interval, cfg.Reconciler.StaleAfter, cfg.Database.StoreTimeout, cfg.Reconciler.BatchSize, logger)
		go func() { _ = worker.Run(ctx) }()
	}

	// ---- HTTP ----
	srv := api.NewServer(api.Deps{
		Webhooks:       webhookUC,
		Confirm:        confirmUC,
		Entitlements:   entitlementUC,
		Auth:           api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		Limiter:        limiter,
		Health:         pool.Ping,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		TrustProxy:     cfg.HTTP.TrustProxy,
	}, logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
			cancel()
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
		logger.Info().Msg("shutdown requested")
	case <-ctx.Done():
	}
	shCtx, shCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownGrace)
	defer shCancel()
	if err := server.Shutdown(shCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	cancel()
}
