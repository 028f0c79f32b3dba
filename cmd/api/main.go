package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joshu-sajeev/backfill/internal/app"
	"github.com/joshu-sajeev/backfill/internal/config"
	"github.com/joshu-sajeev/backfill/internal/job"
	"github.com/joshu-sajeev/backfill/internal/logging"
	"github.com/joshu-sajeev/backfill/internal/storage/postgres"
	"github.com/joshu-sajeev/backfill/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// requestTimeout covers a full dispatch, which may poll an export for
// several minutes.
const requestTimeout = 15 * time.Minute

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

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/")
	api.Use(middleware.TimeoutMiddleware(requestTimeout), middleware.ErrorHandler(), middleware.SharedSecret(cfg.CronSecret))

	api.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handler := job.NewJobHandler(a.JobService, a.Dispatcher, a.Watchdog)
	api.POST("/jobs", handler.Create)
	api.GET("/jobs", handler.List)
	api.GET("/jobs/:id", handler.Get)
	api.POST("/jobs/:id/cancel", handler.Cancel)
	api.POST("/dispatch", handler.Dispatch)
	api.POST("/watchdog", handler.Watchdog)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       time.Minute,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
}
