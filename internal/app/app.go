// Package app wires the shared components used by the server and worker binaries.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"taxdesk/internal/engine/events"
	"taxdesk/internal/engine/webhooks"
	"taxdesk/internal/engine/workflow"
	"taxdesk/internal/pkg/id"
	"taxdesk/internal/platform/config"
	"taxdesk/internal/platform/database"
	"taxdesk/internal/platform/metrics"
	"taxdesk/internal/platform/models"
	"taxdesk/internal/platform/queue"
	"taxdesk/internal/platform/repositories"
	"taxdesk/internal/platform/security"
	"taxdesk/migrations"
)

type App struct {
	Config     *config.Config
	DB         *sql.DB
	Redis      *redis.Client
	Queue      queue.Queue
	Registry   *prometheus.Registry
	Metrics    *metrics.Metrics
	Publisher  *events.Publisher
	Sweeper    *events.Sweeper
	Dispatcher *webhooks.Dispatcher
	Webhooks   *webhooks.Service
	Workflow   *workflow.Engine
}

// New opens the database and Redis, applies pending migrations and builds
// the engines on top of them.
func New(ctx context.Context, cfg *config.Config, nodeID int64) (*App, error) {
	if err := id.Init(nodeID); err != nil {
		return nil, fmt.Errorf("init id generator: %w", err)
	}

	box, err := security.NewSecretBoxFromHex(cfg.Security.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("security.secret_key: %w", err)
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	applied, err := migrations.Apply(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	for _, name := range applied {
		log.Info().Str("migration", name).Msg("migration applied")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		db.Close()
		rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg, cfg.Metrics.Namespace)

	a := &App{
		Config:   cfg,
		DB:       db,
		Redis:    rdb,
		Queue:    queue.NewRedisQueue(rdb, cfg.Redis.Prefix),
		Registry: reg,
		Metrics:  m,
	}
	a.build(box)
	return a, nil
}

func (a *App) build(box *security.SecretBox) {
	wh := a.Config.Webhooks
	endpoints := repositories.NewWebhookRepository(a.DB, box)
	eventRepo := repositories.NewEventRepository(a.DB)
	deliveries := repositories.NewDeliveryRepository(a.DB)

	a.Publisher = events.NewPublisher(eventRepo, a.Queue, wh.QueueName, a.Metrics)
	a.Dispatcher = webhooks.NewDispatcher(webhooks.DispatcherDeps{
		Endpoints:  endpoints,
		Secrets:    repositories.NewEndpointSecretStore(a.DB, box),
		Events:     eventRepo,
		Deliveries: deliveries,
		Queue:      a.Queue,
		Metrics:    a.Metrics,
	}, webhooks.DispatcherOptions{
		QueueName:        wh.QueueName,
		Timeout:          wh.Timeout,
		MaxResponseBytes: wh.MaxResponseBytes,
	})
	a.Sweeper = events.NewSweeper(eventRepo, a.Publisher, a.Dispatcher, wh.PendingThreshold, a.Metrics)
	a.Webhooks = webhooks.NewService(endpoints, eventRepo, deliveries, a.Dispatcher, a.Queue, wh.QueueName,
		models.RetryPolicy{MaxRetries: wh.MaxRetries, InitialBackoff: wh.InitialBackoff})
	a.Workflow = workflow.NewEngine(repositories.NewFilingRepository(a.DB), a.Publisher, a.Metrics)
}

func (a *App) Close() {
	if err := a.Redis.Close(); err != nil {
		log.Warn().Err(err).Msg("close redis")
	}
	if err := a.DB.Close(); err != nil {
		log.Warn().Err(err).Msg("close database")
	}
}
