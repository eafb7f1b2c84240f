package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"taxdesk/internal/app"
	"taxdesk/internal/pkg/logger"
	"taxdesk/internal/platform/config"
	"taxdesk/internal/workers"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	nodeID := flag.Int64("node", 2, "Snowflake node id, unique per process")
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

	wh := cfg.Webhooks
	pool := workers.NewPool(a.Queue, workers.PoolOptions{
		QueueName:   wh.QueueName,
		WorkerCount: wh.WorkerCount,
		DequeueWait: wh.DequeueWait,
	}, a.Metrics)
	workers.Register(pool, a.Dispatcher)

	log.Info().Int("workers", wh.WorkerCount).Str("queue", wh.QueueName).Msg("starting taxdesk workers")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(gctx) })
	g.Go(func() error {
		workers.RunPromoter(gctx, a.Queue, wh.QueueName, wh.PromoteInterval, a.Metrics)
		return nil
	})
	g.Go(func() error {
		workers.RunReclaimer(gctx, a.Queue, wh.QueueName, wh.SweepInterval, wh.VisibilityTimeout, a.Metrics)
		return nil
	})
	g.Go(func() error {
		workers.RunSweeper(gctx, a.Sweeper, wh.SweepInterval)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("worker stopped with error")
	}
	log.Info().Msg("workers stopped")
}
