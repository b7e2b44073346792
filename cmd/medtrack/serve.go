package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/medtrack/internal/config"
	"github.com/ehr/medtrack/internal/domain/adherence"
	"github.com/ehr/medtrack/internal/platform/apiclient"
	"github.com/ehr/medtrack/internal/platform/auth"
	"github.com/ehr/medtrack/internal/platform/db"
	"github.com/ehr/medtrack/internal/platform/events"
	"github.com/ehr/medtrack/internal/platform/metrics"
	"github.com/ehr/medtrack/internal/platform/middleware"
	"github.com/ehr/medtrack/internal/platform/probe"
)

const version = "0.1.0"

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the dashboard API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	// Logger
	logger := newLogger(os.Stdout, os.Getenv("ENV"), os.Getenv("LOG_LEVEL"))

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	logger = newLogger(os.Stdout, cfg.Env, cfg.LogLevel)
	metrics.Register()

	ctx := context.Background()

	// Snapshot source
	var (
		repo  adherence.Repository
		check probe.CheckFunc
	)
	switch cfg.SnapshotSource {
	case config.SourcePostgres:
		pool, err := db.NewPool(ctx, db.PoolConfig{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")

		repo = adherence.NewRepoPG(pool)
		check = func(ctx context.Context) error {
			_, err := db.Check(ctx, pool)
			return err
		}
	default:
		client := apiclient.New(cfg.APIBaseURL, cfg.APITimeout, apiclient.WithLogger(logger))
		repo = apiclient.NewRESTRepository(client)
		check = client.Ping
		logger.Info().Str("base_url", client.BaseURL()).Msg("using records API")
	}

	svc, err := newService(cfg, repo)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build adherence service")
	}
	svc.SetLogger(logger)

	// Dose events
	if cfg.KafkaEnabled() {
		pub, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create kafka publisher")
		}
		defer pub.Close()
		svc.SetPublisher(pub)
		logger.Info().Str("topic", cfg.KafkaTopic).Msg("publishing dose events")
	}

	prober := probe.New(check, cfg.ProbeMinInterval, logger)
	e := newServer(cfg, logger, svc, prober)

	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		logger.Info().Str("addr", addr).Str("source", cfg.SnapshotSource).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newService builds the adherence service from config. Config must already
// be validated.
func newService(cfg *config.Config, repo adherence.Repository) (*adherence.Service, error) {
	mode, err := adherence.ParseEligibilityMode(cfg.EligibilityMode)
	if err != nil {
		return nil, err
	}
	window := cfg.Window()
	if err := window.Validate(); err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return adherence.NewService(repo, adherence.NewEvaluator(mode, window), adherence.NewAggregator(loc)), nil
}

func newServer(cfg *config.Config, logger zerolog.Logger, svc *adherence.Service, prober *probe.Prober) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	// Health check
	e.GET("/health", healthHandler(cfg, prober))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// API
	apiV1 := e.Group("/api/v1")
	apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
		Issuer:          cfg.AuthIssuer,
		SigningKey:      []byte(cfg.AuthSigningKey),
		AllowUnverified: cfg.IsDev(),
	}))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 || rateLimitCfg.BurstSize <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	apiV1.Use(middleware.RequestTimeout(cfg.APITimeout + 5*time.Second))

	adherence.NewHandler(svc).RegisterRoutes(apiV1)

	return e
}

// healthHandler reports liveness plus a throttled reachability check of the
// snapshot source. An unreachable source degrades the status but still
// answers 200.
func healthHandler(cfg *config.Config, prober *probe.Prober) echo.HandlerFunc {
	return func(c echo.Context) error {
		res := prober.Probe(c.Request().Context())
		status := "ok"
		if !res.Reachable {
			status = "degraded"
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":   status,
			"version":  version,
			"source":   cfg.SnapshotSource,
			"upstream": res,
		})
	}
}
