package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/igolaizola/sunoprompt/pkg/client"
	"github.com/igolaizola/sunoprompt/pkg/music"
)

// History kinds.
const (
	Analysis   = "analysis"
	Generation = "generation"
)

type Config struct {
	Debug  bool
	Server string

	Kind   string
	Format string
	Output string
	Limit  int

	// ID of the entry to delete.
	ID string
}

// Delete removes one history entry of the configured kind.
func Delete(ctx context.Context, cfg *Config) error {
	c := client.New(&client.Config{
		BaseURL: cfg.Server,
		Debug:   cfg.Debug,
	})
	var err error
	switch cfg.Kind {
	case "", Analysis:
		err = c.DeleteHistory(ctx, cfg.ID)
	case Generation:
		err = c.DeleteGenerationHistory(ctx, cfg.ID)
	default:
		return fmt.Errorf("history: unknown kind %q", cfg.Kind)
	}
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	fmt.Printf("deleted %s\n", cfg.ID)
	return nil
}

// Run prints the saved history entries, newest first, as json or csv.
func Run(ctx context.Context, cfg *Config) error {
	c := client.New(&client.Config{
		BaseURL: cfg.Server,
		Debug:   cfg.Debug,
	})
	var entries []music.Entry
	var err error
	switch cfg.Kind {
	case "", Analysis:
		entries, err = c.History(ctx)
	case Generation:
		entries, err = c.GenerationHistory(ctx)
	default:
		return fmt.Errorf("history: unknown kind %q", cfg.Kind)
	}
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	if cfg.Limit > 0 && len(entries) > cfg.Limit {
		entries = entries[:cfg.Limit]
	}

	w := io.Writer(os.Stdout)
	if cfg.Output != "" {
		f, err := os.Create(cfg.Output)
		if err != nil {
			return fmt.Errorf("history: couldn't create output: %w", err)
		}
		defer f.Close()
		w = f
	}
	return write(w, cfg.Kind, cfg.Format, entries)
}

func write(w io.Writer, kind, format string, entries []music.Entry) error {
	switch format {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if entries == nil {
			entries = []music.Entry{}
		}
		if err := enc.Encode(entries); err != nil {
			return fmt.Errorf("history: couldn't encode json: %w", err)
		}
		return nil
	case "csv":
		var rows any
		var err error
		if kind == Generation {
			rows, err = generationRows(entries)
		} else {
			rows, err = analysisRows(entries)
		}
		if err != nil {
			return err
		}
		if err := gocsv.Marshal(rows, w); err != nil {
			return fmt.Errorf("history: couldn't encode csv: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("history: unknown format %q", format)
	}
}

type analysisRow struct {
	ID        string  `csv:"id"`
	Timestamp string  `csv:"timestamp"`
	Filename  string  `csv:"filename"`
	Tempo     float64 `csv:"tempo"`
	Key       string  `csv:"key"`
	Energy    string  `csv:"energy"`
	Genre     string  `csv:"genre"`
	Mood      string  `csv:"mood"`
	Prompts   string  `csv:"prompts"`
}

func analysisRows(entries []music.Entry) ([]*analysisRow, error) {
	rows := []*analysisRow{}
	for _, e := range entries {
		var v struct {
			Filename string                  `json:"filename"`
			Analysis music.Analysis          `json:"analysis"`
			Prompts  []music.PromptVariation `json:"prompts"`
		}
		if err := json.Unmarshal(e.Payload, &v); err != nil {
			return nil, fmt.Errorf("history: couldn't decode entry %s: %w", e.ID, err)
		}
		var names []string
		for _, p := range v.Prompts {
			names = append(names, p.Name)
		}
		rows = append(rows, &analysisRow{
			ID:        e.ID,
			Timestamp: e.Timestamp,
			Filename:  v.Filename,
			Tempo:     v.Analysis.Tempo,
			Key:       v.Analysis.Key,
			Energy:    v.Analysis.Energy.String(),
			Genre:     v.Analysis.Genre,
			Mood:      v.Analysis.Mood,
			Prompts:   strings.Join(names, "|"),
		})
	}
	return rows, nil
}

type generationRow struct {
	ID        string `csv:"id"`
	Timestamp string `csv:"timestamp"`
	IDs       string `csv:"ids"`
	Status    string `csv:"status"`
	Prompt    string `csv:"prompt"`
	Title     string `csv:"title"`
	Tracks    string `csv:"tracks"`
	Error     string `csv:"error"`
}

func generationRows(entries []music.Entry) ([]*generationRow, error) {
	rows := []*generationRow{}
	for _, e := range entries {
		var v struct {
			IDs     []string                `json:"ids"`
			Request music.GenerationRequest `json:"request"`
			Status  string                  `json:"status"`
			Tracks  []music.Track           `json:"tracks"`
			Error   string                  `json:"error"`
		}
		if err := json.Unmarshal(e.Payload, &v); err != nil {
			return nil, fmt.Errorf("history: couldn't decode entry %s: %w", e.ID, err)
		}
		var urls []string
		for _, t := range v.Tracks {
			urls = append(urls, t.AudioURL)
		}
		rows = append(rows, &generationRow{
			ID:        e.ID,
			Timestamp: e.Timestamp,
			IDs:       strings.Join(v.IDs, "|"),
			Status:    v.Status,
			Prompt:    v.Request.Prompt.String(),
			Title:     v.Request.Title,
			Tracks:    strings.Join(urls, "|"),
			Error:     v.Error,
		})
	}
	return rows, nil
}
