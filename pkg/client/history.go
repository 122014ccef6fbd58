package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/igolaizola/sunoprompt/pkg/music"
)

// Health checks the backend is up.
func (c *Client) Health(ctx context.Context) error {
	var resp struct {
		Status string `json:"status"`
	}
	if _, err := c.doAttempt(ctx, http.MethodGet, "health", nil, &resp); err != nil {
		return fmt.Errorf("client: health check failed: %w", err)
	}
	if resp.Status != "healthy" {
		return fmt.Errorf("client: unhealthy backend: %q", resp.Status)
	}
	return nil
}

// Genres lists the genre definitions.
func (c *Client) Genres(ctx context.Context) ([]music.Genre, error) {
	var resp []music.Genre
	if _, err := c.do(ctx, http.MethodGet, "genres", nil, &resp); err != nil {
		return nil, fmt.Errorf("client: couldn't list genres: %w", err)
	}
	return resp, nil
}

type addGenreRequest struct {
	Name   string  `json:"genre_name"`
	MinBPM float64 `json:"min_bpm"`
	MaxBPM float64 `json:"max_bpm"`
}

// AddGenre adds a genre defined by its BPM range and returns the server
// message.
func (c *Client) AddGenre(ctx context.Context, name string, minBPM, maxBPM float64) (string, error) {
	if name == "" || minBPM <= 0 || maxBPM <= 0 {
		return "", errors.New("client: genre name and bpm range are required")
	}
	var resp successResponse
	req := &addGenreRequest{Name: name, MinBPM: minBPM, MaxBPM: maxBPM}
	if _, err := c.do(ctx, http.MethodPost, "add_genre", req, &resp); err != nil {
		return "", fmt.Errorf("client: couldn't add genre: %w", err)
	}
	return resp.Message, nil
}

// RemoveGenre deletes a genre and returns the server message.
func (c *Client) RemoveGenre(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", errors.New("client: genre name is required")
	}
	var resp successResponse
	if _, err := c.do(ctx, http.MethodDelete, "genres/"+url.PathEscape(name), nil, &resp); err != nil {
		return "", fmt.Errorf("client: couldn't remove genre: %w", err)
	}
	return resp.Message, nil
}

// Export sends v to the export endpoint and returns the downloadable
// document.
func (c *Client) Export(ctx context.Context, v any) ([]byte, error) {
	b, err := c.do(ctx, http.MethodPost, "export", v, nil)
	if err != nil {
		return nil, fmt.Errorf("client: couldn't export: %w", err)
	}
	return b, nil
}

// History returns the saved analyses, newest first.
func (c *Client) History(ctx context.Context) ([]music.Entry, error) {
	return c.entries(ctx, "history")
}

// SaveHistory stores an analysis in the history.
func (c *Client) SaveHistory(ctx context.Context, v any) error {
	return c.save(ctx, "history", v)
}

// GenerationHistory returns the saved generations, newest first.
func (c *Client) GenerationHistory(ctx context.Context) ([]music.Entry, error) {
	return c.entries(ctx, "generation-history")
}

// SaveGenerationHistory stores a generation in the history.
func (c *Client) SaveGenerationHistory(ctx context.Context, v any) error {
	return c.save(ctx, "generation-history", v)
}

// DeleteHistory removes a saved analysis.
func (c *Client) DeleteHistory(ctx context.Context, id string) error {
	return c.remove(ctx, "history", id)
}

// DeleteGenerationHistory removes a saved generation.
func (c *Client) DeleteGenerationHistory(ctx context.Context, id string) error {
	return c.remove(ctx, "generation-history", id)
}

func (c *Client) entries(ctx context.Context, path string) ([]music.Entry, error) {
	var resp []music.Entry
	if _, err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("client: couldn't get %s: %w", path, err)
	}
	return resp, nil
}

func (c *Client) save(ctx context.Context, path string, v any) error {
	var resp successResponse
	if _, err := c.do(ctx, http.MethodPost, path, v, &resp); err != nil {
		return fmt.Errorf("client: couldn't save %s: %w", path, err)
	}
	return nil
}

func (c *Client) remove(ctx context.Context, path, id string) error {
	if id == "" {
		return errors.New("client: history id is required")
	}
	var resp successResponse
	if _, err := c.do(ctx, http.MethodDelete, path+"/"+url.PathEscape(id), nil, &resp); err != nil {
		return fmt.Errorf("client: couldn't delete %s %s: %w", path, id, err)
	}
	return nil
}
