package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/storelane/fulfillment-api/internal/config"
	"github.com/storelane/fulfillment-api/internal/email"
	"github.com/storelane/fulfillment-api/internal/repository/postgres"
	"github.com/storelane/fulfillment-api/internal/worker"
	"github.com/storelane/fulfillment-api/pkg/logger"
	redisBroker "github.com/storelane/fulfillment-api/pkg/messaging/redis"
	"github.com/storelane/fulfillment-api/pkg/metrics"
	"github.com/storelane/fulfillment-api/pkg/retry"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(nil).WithFields(map[string]interface{}{"service": "fulfillment-worker"})

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

	appMetrics := metrics.NewMetrics(cfg.Monitoring.Namespace, cfg.Monitoring.Subsystem+"_worker")

	sender := email.NewSMTPSender(email.SMTPConfig{
		Host:     cfg.Email.SMTPHost,
		Port:     cfg.Email.SMTPPort,
		Username: cfg.Email.Username,
		Password: cfg.Email.Password,
		From:     cfg.Email.From,
	})

	retryPolicy := retry.DefaultPolicy()
	if cfg.Retry.MaxAttempts > 0 {
		retryPolicy.MaxAttempts = cfg.Retry.MaxAttempts
		retryPolicy.InitialDelay = cfg.Retry.InitialDelay
		retryPolicy.MaxDelay = cfg.Retry.MaxDelay
		retryPolicy.Multiplier = cfg.Retry.Multiplier
	}

	dispatcher := worker.NewEmailDispatcher(broker, sender, retryPolicy, appLogger, appMetrics)

	base := postgres.NewBaseRepository(db)
	ledgerRepo := postgres.NewLedgerRepository(base)
	archiver := worker.NewLedgerArchiver(ledgerRepo,
		cfg.Ledger.RetentionDays, cfg.Ledger.SweepInterval, cfg.Ledger.ClaimTTL, appLogger)

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		if err := dispatcher.Start(ctx); err != nil {
			log.Error().Err(err).Msg("email dispatcher stopped")
		}
	}()
	go archiver.Start(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down worker")
	cancel()
}
