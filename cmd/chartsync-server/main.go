package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/chartsync/chartsync/internal/config"
	"github.com/chartsync/chartsync/internal/domain/aggregate"
	"github.com/chartsync/chartsync/internal/domain/replica"
	"github.com/chartsync/chartsync/internal/platform/auth"
	"github.com/chartsync/chartsync/internal/platform/db"
	"github.com/chartsync/chartsync/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "chartsync-server",
		Short: "Unified patient data layer server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(syncCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the patient data API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one replica sync and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSyncOnce()
		},
	}
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" || os.Getenv("ENV") == "" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Replica store is optional: when it cannot be opened the server still
	// runs, reporting the cache as unavailable.
	replicaStore, err := replica.Open(cfg.ReplicaDBPath, logger)
	if err != nil {
		logger.Warn().Err(err).Str("path", cfg.ReplicaDBPath).Msg("replica store unavailable")
		replicaStore = nil
	}
	defer replicaStore.Close()

	repo := aggregate.NewRepoPG(pool)
	aggSvc := aggregate.NewService(repo, logger)
	gateway := aggregate.NewReplicaGateway(repo)

	scheduler := replica.NewScheduler(replicaStore, gateway,
		time.Duration(cfg.SyncIntervalMins)*time.Minute, logger)
	schedCtx, cancelSched := context.WithCancel(ctx)
	defer cancelSched()
	if replicaStore != nil {
		go scheduler.Start(schedCtx)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		}))
	}

	api := e.Group("/api/v1")
	aggregate.NewHandler(aggSvc).RegisterRoutes(api)
	replica.NewHandler(replicaStore, scheduler, gateway, logger).RegisterRoutes(api)

	e.GET("/health/db", db.HealthHandler(pool))

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	scheduler.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func runSyncOnce() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	replicaStore, err := replica.Open(cfg.ReplicaDBPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.ReplicaDBPath).Msg("failed to open replica store")
	}
	defer replicaStore.Close()

	gateway := aggregate.NewReplicaGateway(aggregate.NewRepoPG(pool))
	scheduler := replica.NewScheduler(replicaStore, gateway, 0, logger)

	report, err := scheduler.SyncOnce(ctx)
	if err != nil {
		return err
	}
	logger.Info().
		Interface("synced", report.Synced).
		Interface("failed", report.Failed).
		Dur("duration", report.Duration).
		Msg("sync finished")
	return nil
}
