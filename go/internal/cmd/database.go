package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/showops/cueline/go/internal/dbconfig"
)

// setupDatabase opens both Postgres handles: a pgx pool for the repositories
// and a database/sql handle on the same DSN for the pq LISTEN/NOTIFY relay.
func setupDatabase(ctx context.Context) (*pgxpool.Pool, *sql.DB, string, error) {
	cfg := dbconfig.NewConfigFromEnv()
	dsn := cfg.DSN()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, "", fmt.Errorf("failed to ping database: %w", err)
	}

	database, err := sql.Open("postgres", dsn)
	if err != nil {
		pool.Close()
		return nil, nil, "", fmt.Errorf("failed to open outbox connection: %w", err)
	}
	if err := database.PingContext(ctx); err != nil {
		pool.Close()
		database.Close()
		return nil, nil, "", fmt.Errorf("failed to ping outbox connection: %w", err)
	}

	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Msg("connected to database")

	return pool, database, dsn, nil
}
