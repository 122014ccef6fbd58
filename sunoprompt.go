// Package sunoprompt generates songs from prompts with a sunoapi.org
// compatible music generation API.
package sunoprompt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/igolaizola/sunoprompt/pkg/music"
	"github.com/igolaizola/sunoprompt/pkg/poll"
	"github.com/igolaizola/sunoprompt/pkg/suno"
)

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Wait    time.Duration
	Debug   bool

	PollInterval time.Duration
	PollTimeout  time.Duration
}

// GenerateSong generates a song calling the generation API directly, without
// the backend server, and downloads the tracks to the output folder.
func GenerateSong(ctx context.Context, cfg *Config, req *music.GenerationRequest, output string) ([]music.Track, error) {
	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "sunoprompt"})
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	client, err := suno.New(&suno.Config{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		Wait:    cfg.Wait,
		Debug:   cfg.Debug,
	})
	if err != nil {
		return nil, fmt.Errorf("couldn't create suno client: %w", err)
	}
	resp, err := client.Generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("couldn't generate song: %w", err)
	}
	var ids []string
	for _, r := range resp {
		ids = append(ids, r.ID)
	}
	logger.Info("generation submitted", "ids", strings.Join(ids, ","))

	var status *music.GenerationStatus
	err = poll.Run(ctx, poll.Config{
		Interval: cfg.PollInterval,
		Timeout:  cfg.PollTimeout,
	}, func(ctx context.Context, attempt int) (poll.State, error) {
		s, err := client.Status(ctx, ids)
		if err != nil {
			return poll.Errored, err
		}
		status = s
		logger.Debug("generation status", "attempt", attempt, "status", s.Status, "results", len(s.Results))
		switch s.Status {
		case music.Completed:
			return poll.Completed, nil
		case music.Failed:
			return poll.Failed, errors.New(s.Message)
		default:
			return poll.Polling, nil
		}
	})
	if err != nil {
		return nil, fmt.Errorf("couldn't wait for song: %w", err)
	}

	if output == "" {
		return status.Results, nil
	}
	if err := os.MkdirAll(output, 0755); err != nil {
		return nil, fmt.Errorf("couldn't create output folder: %w", err)
	}
	for i, t := range status.Results {
		name := t.ID
		if name == "" {
			name = fmt.Sprintf("%d", i+1)
		}
		path := filepath.Join(output, name+".mp3")
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("couldn't create %s: %w", path, err)
		}
		err = client.Download(ctx, t.AudioURL, f)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("couldn't download %s: %w", t.AudioURL, err)
		}
		logger.Info("track saved", "title", t.Title, "path", path)
	}
	return status.Results, nil
}
