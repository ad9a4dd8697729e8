package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/app"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/notify"
)

const sweepTimeout = 20 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("dev", "info")
		bootLogger.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New(cfg.Env, cfg.LogLevel).With().Str("service", "worker").Logger()
	logger.Info().Str("env", cfg.Env).Dur("interval", cfg.WorkerInterval).Msg("worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.Build(rootCtx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer rt.Close()

	if cfg.NotificationQueueURL != "" {
		awsCfg, err := notify.LoadAWSConfig(rootCtx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("aws config")
		}
		publisher := notify.NewSQSPublisher(sqs.NewFromConfig(awsCfg), cfg.NotificationQueueURL)
		deliverer := notify.NewDeliverer(rt.Outbox, publisher, logger).WithInterval(cfg.OutboxInterval)
		go deliverer.Start(rootCtx)
		logger.Info().Str("queue_url", cfg.NotificationQueueURL).Msg("outbox delivery enabled")
	} else {
		logger.Warn().Msg("NOTIFICATION_QUEUE_URL not set; outbox events stay pending")
	}

	runOnce(rootCtx, rt.Service, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, rt.Service, logger)
		}
	}
}

func runOnce(ctx context.Context, svc *appointment.Service, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	start := time.Now()
	noShows, err := svc.SweepNoShows(runCtx)
	if err != nil {
		logger.Error().Err(err).Msg("no-show sweep failed")
	}
	reminders, err := svc.SendReminders(runCtx)
	if err != nil {
		logger.Error().Err(err).Msg("reminder sweep failed")
	}
	logger.Info().
		Int("no_shows", noShows).
		Int("reminders", reminders).
		Dur("took", time.Since(start)).
		Msg("sweep complete")
}
