package genre

import (
	"context"
	"fmt"
	"os"

	"github.com/igolaizola/sunoprompt/pkg/client"
	"github.com/igolaizola/sunoprompt/pkg/ui"
)

type Config struct {
	Debug  bool
	Server string

	Name   string
	MinBPM float64
	MaxBPM float64
}

func newClient(cfg *Config) *client.Client {
	return client.New(&client.Config{
		BaseURL: cfg.Server,
		Debug:   cfg.Debug,
	})
}

// List prints the genres and their tempo ranges.
func List(ctx context.Context, cfg *Config) error {
	genres, err := newClient(cfg).Genres(ctx)
	if err != nil {
		return fmt.Errorf("genre: %w", err)
	}
	ui.Title(os.Stdout, "Genres")
	for _, g := range genres {
		fmt.Printf("  %-20s %3.0f-%3.0f BPM\n", g.Genre, g.Rules.Tempo.Min, g.Rules.Tempo.Max)
	}
	return nil
}

// Add adds a genre rule.
func Add(ctx context.Context, cfg *Config) error {
	if cfg.MinBPM > cfg.MaxBPM {
		return fmt.Errorf("genre: min bpm %v is greater than max bpm %v", cfg.MinBPM, cfg.MaxBPM)
	}
	msg, err := newClient(cfg).AddGenre(ctx, cfg.Name, cfg.MinBPM, cfg.MaxBPM)
	if err != nil {
		return fmt.Errorf("genre: %w", err)
	}
	fmt.Println(msg)
	return nil
}

// Remove deletes a genre rule.
func Remove(ctx context.Context, cfg *Config) error {
	msg, err := newClient(cfg).RemoveGenre(ctx, cfg.Name)
	if err != nil {
		return fmt.Errorf("genre: %w", err)
	}
	fmt.Println(msg)
	return nil
}
