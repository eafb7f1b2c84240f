package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"taxdesk/internal/api"
	"taxdesk/internal/api/handlers"
	"taxdesk/internal/api/middleware"
	"taxdesk/internal/app"
	"taxdesk/internal/pkg/logger"
	"taxdesk/internal/platform/auth"
	"taxdesk/internal/platform/config"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	nodeID := flag.Int64("node", 1, "Snowflake node id, unique per process")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, *nodeID)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start")
	}
	defer a.Close()

	rateLimiter := middleware.NewRateLimiter(nil)
	go rateLimiter.Cleanup(ctx, 10*time.Minute)

	router := api.NewRouter(&api.Dependencies{
		WebhookHandler:   handlers.NewWebhookHandler(a.Webhooks),
		EventHandler:     handlers.NewEventHandler(a.Webhooks),
		FilingHandler:    handlers.NewFilingHandler(a.Workflow),
		HealthHandler:    handlers.NewHealthHandler(a.DB, a.Queue),
		MetricsHandler:   handlers.NewMetricsHandler(a.Registry),
		AuthMiddleware:   middleware.NewAuthMiddleware(auth.NewTokenService(cfg.JWT)),
		TenantMiddleware: middleware.NewTenantMiddleware(),
		RateLimiter:      rateLimiter,
		Metrics:          a.Metrics,
		Logger:           log.Logger,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
