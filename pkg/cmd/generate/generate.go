package generate

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/igolaizola/sunoprompt/pkg/client"
	"github.com/igolaizola/sunoprompt/pkg/music"
	"github.com/igolaizola/sunoprompt/pkg/session"
	"github.com/igolaizola/sunoprompt/pkg/ui"
)

type Config struct {
	Debug   bool
	Server  string
	APIKey  string
	Session string
	Timeout time.Duration

	PollInterval time.Duration
	PollAttempts int
	PollTimeout  time.Duration

	Input        string
	PromptName   string
	Prompt       string
	Style        string
	Lyrics       string
	Title        string
	Tags         string
	Instrumental bool

	Output      string
	SkipHistory bool
}

// Run submits the generation requests, waits for them to complete and
// downloads the tracks.
func Run(ctx context.Context, cfg *Config) error {
	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "generate"})
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	sessionPath := cfg.Session
	if sessionPath == "" {
		sessionPath = session.DefaultPath()
	}
	s, err := session.Load(sessionPath)
	switch {
	case errors.Is(err, iofs.ErrNotExist):
		s = session.New("")
	case err != nil:
		return fmt.Errorf("generate: %w", err)
	}

	var reqs []*music.GenerationRequest
	if cfg.Input != "" {
		items, err := loadItems(cfg.Input)
		if err != nil {
			return fmt.Errorf("generate: %w", err)
		}
		for _, it := range items {
			reqs = append(reqs, it.request(cfg.Instrumental))
		}
	} else {
		req, err := request(cfg, s)
		if err != nil {
			return err
		}
		reqs = append(reqs, req)
	}
	if len(reqs) == 0 {
		return errors.New("generate: nothing to generate")
	}

	c := client.New(&client.Config{
		BaseURL:      cfg.Server,
		APIKey:       cfg.APIKey,
		Debug:        cfg.Debug,
		PollInterval: cfg.PollInterval,
		PollAttempts: cfg.PollAttempts,
		PollTimeout:  cfg.PollTimeout,
	})

	start := time.Now()
	defer func() {
		logger.Debug("process ended", "requests", len(reqs), "elapsed", time.Since(start))
	}()
	var failed int
	for i, req := range reqs {
		logger.Debug("generating", "n", i+1, "total", len(reqs), "prompt", req.Prompt.String())
		err := generate(ctx, logger, c, s, req, cfg)
		if saveErr := s.Save(sessionPath); saveErr != nil {
			logger.Warn("couldn't save session", "err", saveErr)
		}
		if err != nil {
			if ctx.Err() != nil || len(reqs) == 1 {
				return err
			}
			failed++
			logger.Error("generation failed", "n", i+1, "err", err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("generate: %d of %d generations failed", failed, len(reqs))
	}
	return nil
}

// request builds the generation request from the prompt flags or from the
// prompt variation stored in the session.
func request(cfg *Config, s *session.Session) (*music.GenerationRequest, error) {
	req := &music.GenerationRequest{
		Title:        cfg.Title,
		Tags:         cfg.Tags,
		Instrumental: cfg.Instrumental,
	}
	switch {
	case cfg.Prompt != "":
		req.Prompt = music.Prompt{Text: cfg.Prompt}
	case cfg.Style != "" || cfg.Lyrics != "":
		req.Prompt = music.Prompt{Style: cfg.Style, Lyrics: cfg.Lyrics}
		req.IsCustom = true
	default:
		p, err := s.Prompt(cfg.PromptName)
		if errors.Is(err, session.ErrNoResult) {
			return nil, errors.New("generate: no prompt, run analyze first or pass --prompt")
		}
		if err != nil {
			return nil, fmt.Errorf("generate: %w", err)
		}
		req.PromptName = p.Name
		req.Prompt = p.Prompt
		req.IsCustom = p.Prompt.Custom()
	}
	return req, nil
}

func generate(ctx context.Context, logger *log.Logger, c *client.Client, s *session.Session, req *music.GenerationRequest, cfg *Config) error {
	ids, err := c.Generate(ctx, req)
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	g := s.AddGeneration(ids, *req)
	ui.Title(os.Stdout, fmt.Sprintf("Generating %s", strings.Join(ids, ", ")))

	w := c.Watch(ctx, ids, func(status *music.GenerationStatus) {
		s.Update(g, status)
		ui.Generation(os.Stdout, status, len(ids))
	})
	_, err = w.Wait()
	ui.Done(os.Stdout)

	if !cfg.SkipHistory {
		entry := map[string]any{
			"ids":     g.IDs,
			"request": g.Request,
			"status":  g.Status,
			"tracks":  g.Tracks,
		}
		if err != nil {
			entry["error"] = err.Error()
		}
		if hErr := c.SaveGenerationHistory(ctx, entry); hErr != nil {
			logger.Warn("couldn't save generation history", "err", hErr)
		}
	}
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}

	ui.Tracks(os.Stdout, g.Tracks)
	if cfg.Output == "" {
		return nil
	}
	if err := os.MkdirAll(cfg.Output, 0755); err != nil {
		return fmt.Errorf("generate: couldn't create output folder: %w", err)
	}
	for i, t := range g.Tracks {
		title := t.Title
		if title == "" {
			title = req.Title
		}
		path := filepath.Join(cfg.Output, fileName(title, t.ID, i))
		if err := download(ctx, c, t, title, path); err != nil {
			return err
		}
		ui.Help(os.Stdout, fmt.Sprintf("  saved %s", path))
	}
	return nil
}

func download(ctx context.Context, c *client.Client, t music.Track, title, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("generate: couldn't create %s: %w", path, err)
	}
	if err := c.Download(ctx, t.AudioURL, title, f); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("generate: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("generate: couldn't close %s: %w", path, err)
	}
	return nil
}

// fileName returns a file name for the track built from its title and id.
func fileName(title, id string, i int) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', '\r', '\n', '\t':
			return '_'
		}
		return r
	}, strings.TrimSpace(title))
	if name == "" {
		name = "track"
	}
	suffix := id
	if suffix == "" {
		suffix = fmt.Sprintf("%d", i+1)
	}
	return fmt.Sprintf("%s-%s.mp3", name, suffix)
}
