package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/rs/zerolog/log"
	"taxdesk/internal/pkg/logger"
	"taxdesk/internal/platform/config"
	"taxdesk/internal/platform/database"
	"taxdesk/migrations"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(cfg.Logging)

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	applied, err := migrations.Apply(context.Background(), db)
	for _, name := range applied {
		log.Info().Str("migration", name).Msg("applied migration")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	fmt.Printf("Migration completed successfully (%d applied)\n", len(applied))
}
