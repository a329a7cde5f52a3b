package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/storelane/fulfillment-api/internal/config"
	healthHandler "github.com/storelane/fulfillment-api/internal/handler/health"
	operatorHandler "github.com/storelane/fulfillment-api/internal/handler/operator"
	webhookHandler "github.com/storelane/fulfillment-api/internal/handler/webhook"
	"github.com/storelane/fulfillment-api/internal/middleware"
	"github.com/storelane/fulfillment-api/internal/repository/postgres"
	"github.com/storelane/fulfillment-api/internal/router"
	failedjobService "github.com/storelane/fulfillment-api/internal/service/failedjob"
	fulfillmentService "github.com/storelane/fulfillment-api/internal/service/fulfillment"
	webhookService "github.com/storelane/fulfillment-api/internal/service/webhook"
	"github.com/storelane/fulfillment-api/pkg/auth"
	"github.com/storelane/fulfillment-api/pkg/bulkhead"
	"github.com/storelane/fulfillment-api/pkg/circuitbreaker"
	"github.com/storelane/fulfillment-api/pkg/featureflag"
	"github.com/storelane/fulfillment-api/pkg/logger"
	redisBroker "github.com/storelane/fulfillment-api/pkg/messaging/redis"
	"github.com/storelane/fulfillment-api/pkg/metrics"
	"github.com/storelane/fulfillment-api/pkg/retry"
	"golang.org/x/time/rate"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(nil).WithFields(map[string]interface{}{"service": "fulfillment-api"})

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	broker, err := redisBroker.NewRedisBroker(redisBroker.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: cfg.Redis.RetryBackoff,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, &log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer broker.Close()

	appMetrics := metrics.NewMetrics(cfg.Monitoring.Namespace, cfg.Monitoring.Subsystem)

	// Resilience registries are explicit shared state handed to whoever
	// needs them, never package-level singletons.
	breakers := circuitbreaker.NewRegistry(circuitbreaker.Settings{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		Timeout:          cfg.Breaker.Timeout,
	})
	bulkheads := bulkhead.NewRegistry(cfg.Bulkhead.MaxConcurrent)
	flags := featureflag.NewRegistry(cfg.Features)

	retryPolicy := retry.DefaultPolicy()
	if cfg.Retry.MaxAttempts > 0 {
		retryPolicy.MaxAttempts = cfg.Retry.MaxAttempts
		retryPolicy.InitialDelay = cfg.Retry.InitialDelay
		retryPolicy.MaxDelay = cfg.Retry.MaxDelay
		retryPolicy.Multiplier = cfg.Retry.Multiplier
	}

	// Repositories
	base := postgres.NewBaseRepository(db)
	ledgerRepo := postgres.NewLedgerRepository(base)
	fulfillmentStore := postgres.NewFulfillmentStore(base)
	failedJobRepo := postgres.NewFailedJobRepository(base)

	// Services
	engine := fulfillmentService.NewService(fulfillmentStore, broker, flags, appMetrics, appLogger)
	jobs := failedjobService.NewService(failedJobRepo, cfg.FailedJobs.MaxAttempts, appMetrics, appLogger)
	processor := webhookService.NewProcessor(
		ledgerRepo, engine, jobs, breakers, bulkheads, retryPolicy, appMetrics, appLogger)
	jobs.SetReplayer(processor)

	// Handlers
	jwtSvc := auth.NewJWTService(cfg.Operator.JWTSecret, cfg.Operator.TokenExpiry)
	authMw := middleware.NewAuthMiddleware(jwtSvc)
	webhookH := webhookHandler.NewHandler(processor, webhookHandler.Config{
		Secret:            cfg.Webhook.Secret,
		Tolerance:         cfg.Webhook.Tolerance,
		DuplicateCacheTTL: cfg.Webhook.DuplicateCacheTTL,
	}, appMetrics)
	adminH := operatorHandler.NewHandler(breakers, bulkheads, flags, jobs, engine)
	healthH := healthHandler.NewHandler(base.GetDB())

	r := router.NewRouter(authMw, webhookH, adminH, healthH, router.Config{
		RateLimit: rate.Limit(cfg.RateLimit.RequestsPerSecond),
		RateBurst: cfg.RateLimit.Burst,
	})
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("starting fulfillment API")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
}
