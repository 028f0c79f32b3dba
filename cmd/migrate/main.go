package main

import (
	"context"
	"database/sql"

	"github.com/joshu-sajeev/backfill/internal/storage/postgres"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

func main() {
	ctx := context.Background()

	cfg, err := postgres.LoadConfigFromEnv(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("Database unreachable")
	}

	if err := postgres.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
}
