package account

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/igolaizola/sunoprompt/pkg/client"
	"github.com/igolaizola/sunoprompt/pkg/music"
	"github.com/igolaizola/sunoprompt/pkg/ui"
)

type Config struct {
	Debug  bool
	Server string
	APIKey string

	Name string
	Key  string
}

func newClient(cfg *Config) *client.Client {
	return client.New(&client.Config{
		BaseURL: cfg.Server,
		APIKey:  cfg.APIKey,
		Debug:   cfg.Debug,
	})
}

// List prints the stored accounts, the default one is marked.
func List(ctx context.Context, cfg *Config) error {
	accounts, err := newClient(cfg).Accounts(ctx)
	if err != nil {
		return fmt.Errorf("account: %w", err)
	}
	print(os.Stdout, accounts)
	return nil
}

func print(w io.Writer, accounts map[string]music.Account) {
	if len(accounts) == 0 {
		ui.Help(w, "no accounts")
		return
	}
	names := make([]string, 0, len(accounts))
	for name := range accounts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if accounts[name].Default {
			fmt.Fprintf(w, "* %s (default)\n", name)
			continue
		}
		fmt.Fprintf(w, "  %s\n", name)
	}
}

func Add(ctx context.Context, cfg *Config) error {
	if cfg.Name == "" || cfg.Key == "" {
		return errors.New("account: name and key are required")
	}
	if err := newClient(cfg).AddAccount(ctx, cfg.Name, cfg.Key); err != nil {
		return fmt.Errorf("account: %w", err)
	}
	fmt.Printf("account %s added\n", cfg.Name)
	return nil
}

func Remove(ctx context.Context, cfg *Config) error {
	if cfg.Name == "" {
		return errors.New("account: name is required")
	}
	if err := newClient(cfg).RemoveAccount(ctx, cfg.Name); err != nil {
		return fmt.Errorf("account: %w", err)
	}
	fmt.Printf("account %s removed\n", cfg.Name)
	return nil
}

func SetDefault(ctx context.Context, cfg *Config) error {
	if cfg.Name == "" {
		return errors.New("account: name is required")
	}
	if err := newClient(cfg).SetDefaultAccount(ctx, cfg.Name); err != nil {
		return fmt.Errorf("account: %w", err)
	}
	fmt.Printf("account %s is now the default\n", cfg.Name)
	return nil
}

// Credits prints the remaining credits of the api key.
func Credits(ctx context.Context, cfg *Config) error {
	credits, err := newClient(cfg).Credits(ctx)
	if errors.Is(err, client.ErrUnauthorized) {
		return fmt.Errorf("account: invalid api key: %w", err)
	}
	if err != nil {
		return fmt.Errorf("account: %w", err)
	}
	fmt.Printf("credits: %v\n", credits)
	return nil
}
