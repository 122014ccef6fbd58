package migrate

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/igolaizola/sunoprompt/pkg/cmd/serve"
	"github.com/igolaizola/sunoprompt/pkg/storage"
)

type Config struct {
	Debug      bool
	DBType     string
	DBConn     string
	GenresFile string
}

// Run creates or updates the database schema and seeds the genres.
func Run(ctx context.Context, cfg *Config) error {
	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "migrate"})
	store, err := storage.New(cfg.DBType, cfg.DBConn, cfg.Debug)
	if err != nil {
		return fmt.Errorf("migrate: couldn't create: %w", err)
	}
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("migrate: couldn't start: %w", err)
	}
	defer func() { _ = store.Stop() }()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: couldn't migrate: %w", err)
	}
	genres, err := serve.LoadGenres(cfg.GenresFile)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := store.SeedGenres(ctx, genres); err != nil {
		return fmt.Errorf("migrate: couldn't seed genres: %w", err)
	}
	logger.Info("database migrated", "type", cfg.DBType, "genres", len(genres))
	return nil
}
