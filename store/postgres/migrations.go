package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Migrations is the goose migration set for the paywall tables.
func Migrations() fs.FS {
	sub, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Migrate applies pending migrations. It needs the store to be backed by a
// *pgxpool.Pool, which goose drives through database/sql.
func (s *Store) Migrate(ctx context.Context) error {
	pool, ok := s.db.(*pgxpool.Pool)
	if !ok {
		return errors.New("paywall/postgres: migrations need a *pgxpool.Pool")
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, Migrations())
	if err != nil {
		return fmt.Errorf("paywall/postgres: create migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("paywall/postgres: migration failed: %w", err)
	}
	for _, r := range results {
		s.logger.Info("migration applied",
			"version", r.Source.Version,
			"path", r.Source.Path,
			"duration", r.Duration,
		)
	}
	return nil
}

// Truncate empties every paywall table. Meant for test setup.
func (s *Store) Truncate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `TRUNCATE `+subscriptionsTable+`, `+purchasesTable+`, `+entriesTable)
	if err != nil {
		return fmt.Errorf("paywall/postgres: truncate: %w", err)
	}
	return nil
}
