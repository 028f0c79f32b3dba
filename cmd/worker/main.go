package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joshu-sajeev/backfill/internal/app"
	"github.com/joshu-sajeev/backfill/internal/config"
	"github.com/joshu-sajeev/backfill/internal/dto"
	"github.com/joshu-sajeev/backfill/internal/logging"
	"github.com/joshu-sajeev/backfill/internal/storage/postgres"
	"github.com/joshu-sajeev/backfill/internal/trigger"
	"github.com/rs/zerolog/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	dbCfg, err := postgres.LoadConfigFromEnv(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load database config")
	}

	db, err := postgres.ConnectDB(ctx, dbCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Connection failed")
	}

	a, err := app.New(ctx, cfg, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer a.Close()

	runner := trigger.NewRunner(a.Heartbeats)

	err = runner.Register(ctx, config.TriggerDispatcher, cfg.Trigger.DispatchSchedule, cfg.Trigger.DispatchInterval,
		func(ctx context.Context) error {
			_, err := a.Dispatcher.Run(ctx, dto.DispatchRequest{})
			return err
		})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to register dispatcher trigger")
	}

	err = runner.Register(ctx, config.TriggerWatchdog, cfg.Trigger.WatchdogSchedule, cfg.Trigger.WatchdogInterval,
		func(ctx context.Context) error {
			_, err := a.Watchdog.Run(ctx)
			return err
		})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to register watchdog trigger")
	}

	runner.Start()
	log.Info().Msg("Triggers active. Press Ctrl+C to stop.")

	<-ctx.Done()

	// Running chunks see ctx cancelled; their outcome writes still complete.
	<-runner.Stop().Done()
	log.Info().Msg("Shutdown complete.")
}
