package analyze

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/igolaizola/sunoprompt/pkg/client"
	"github.com/igolaizola/sunoprompt/pkg/music"
	"github.com/igolaizola/sunoprompt/pkg/session"
	"github.com/igolaizola/sunoprompt/pkg/sound"
	"github.com/igolaizola/sunoprompt/pkg/ui"
)

type Config struct {
	Debug   bool
	Server  string
	Session string

	Input        string
	Genre        string
	ModelQuality string
	DemucsModel  string
	SaveVocals   bool

	Wave        string
	Export      string
	SaveHistory bool
}

// Run uploads the input file, streams its analysis and stores the result in
// the session file.
func Run(ctx context.Context, cfg *Config) error {
	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "analyze"})
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	if cfg.Input == "" {
		return errors.New("analyze: input file is required")
	}
	if _, err := os.Stat(cfg.Input); err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	sessionPath := cfg.Session
	if sessionPath == "" {
		sessionPath = session.DefaultPath()
	}

	c := client.New(&client.Config{
		BaseURL: cfg.Server,
		Debug:   cfg.Debug,
	})
	s := session.New(cfg.Input)

	pre, err := c.Preprocess(ctx, cfg.Input)
	if err != nil {
		return fmt.Errorf("analyze: couldn't preprocess %s: %w", cfg.Input, err)
	}
	s.SetMetadata(pre.Metadata)
	ui.Metadata(os.Stdout, pre.Metadata)

	if cfg.Wave != "" {
		if err := plotWave(cfg.Input, cfg.Wave); err != nil {
			logger.Warn("couldn't plot waveform", "err", err)
		} else {
			logger.Info("waveform saved", "path", cfg.Wave)
		}
	}

	ui.Title(os.Stdout, "Analyzing")
	result, err := c.Analyze(ctx, cfg.Input, &client.AnalyzeOptions{
		SelectedGenre: cfg.Genre,
		ModelQuality:  cfg.ModelQuality,
		DemucsModel:   cfg.DemucsModel,
		SaveVocals:    cfg.SaveVocals,
	}, func(ev music.ProgressEvent) {
		ui.Progress(os.Stdout, ev)
	})
	ui.Done(os.Stdout)
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	s.SetResult(result)
	ui.Analysis(os.Stdout, result)

	if err := s.Save(sessionPath); err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	logger.Debug("session saved", "path", sessionPath, "id", s.ID)

	if cfg.Export != "" {
		b, err := c.Export(ctx, result)
		if err != nil {
			return fmt.Errorf("analyze: %w", err)
		}
		if err := os.WriteFile(cfg.Export, b, 0644); err != nil {
			return fmt.Errorf("analyze: couldn't write export: %w", err)
		}
		logger.Info("analysis exported", "path", cfg.Export)
	}

	if cfg.SaveHistory {
		if err := c.SaveHistory(ctx, historyEntry(cfg.Input, result)); err != nil {
			return fmt.Errorf("analyze: %w", err)
		}
		logger.Info("analysis saved to history")
	}
	return nil
}

// historyEntry adds the file name to the analysis result.
func historyEntry(input string, result *music.AnalysisResult) map[string]any {
	return map[string]any{
		"filename": filepath.Base(input),
		"analysis": result.Analysis,
		"prompts":  result.Prompts,
	}
}

// plotWave renders the waveform of an MP3 file. The format is taken from the
// output extension.
func plotWave(input, output string) error {
	if !strings.EqualFold(filepath.Ext(input), ".mp3") {
		return errors.New("waveform preview is only available for mp3 files")
	}
	a, err := sound.NewAnalyzer(input)
	if err != nil {
		return err
	}
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(output)), ".")
	b, err := a.PlotWave(filepath.Base(input), format)
	if err != nil {
		return err
	}
	return os.WriteFile(output, b, 0644)
}

// Print writes the analysis stored in the session file.
func Print(sessionPath string, asJSON bool) error {
	if sessionPath == "" {
		sessionPath = session.DefaultPath()
	}
	s, err := session.Load(sessionPath)
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	if s.Result == nil {
		return fmt.Errorf("analyze: %w", session.ErrNoResult)
	}
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(s.Result)
	}
	ui.Metadata(os.Stdout, s.Metadata)
	ui.Analysis(os.Stdout, s.Result)
	return nil
}
