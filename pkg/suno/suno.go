// Package suno is a client for the sunoapi.org music generation API.
package suno

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/igolaizola/sunoprompt/pkg/music"
)

var _ music.Generator = (*Client)(nil)

const defaultTitle = "AI Music"

type generateRequest struct {
	Model            string `json:"model"`
	MakeInstrumental bool   `json:"make_instrumental"`
	Prompt           string `json:"prompt"`
	Title            string `json:"title,omitempty"`
	Tags             string `json:"tags,omitempty"`
}

type clip struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Title        string `json:"title"`
	AudioURL     string `json:"audio_url"`
	ErrorMessage string `json:"error_message"`
	Metadata     struct {
		MakeInstrumental bool `json:"make_instrumental"`
	} `json:"metadata"`
}

// Generate submits a generation. In custom mode the title, tags and lyrics
// are sent, otherwise only the description prompt.
func (c *Client) Generate(ctx context.Context, req *music.GenerationRequest) ([]music.GenerationID, error) {
	payload := &generateRequest{
		Model:            c.model,
		MakeInstrumental: req.Instrumental,
	}
	if req.IsCustom || req.Prompt.Custom() {
		payload.Title = req.Title
		if payload.Title == "" {
			payload.Title = defaultTitle
		}
		payload.Tags = req.Tags
		payload.Prompt = req.Prompt.Text
		if req.Prompt.Custom() {
			payload.Prompt = req.Prompt.Lyrics
			if payload.Tags == "" {
				payload.Tags = req.Prompt.Style
			}
		}
	} else {
		payload.Prompt = req.Prompt.Text
	}
	if payload.Prompt == "" {
		return nil, errors.New("suno: prompt is required")
	}
	c.logger.Info("generating music", "custom", payload.Title != "", "instrumental", payload.MakeInstrumental)

	b, err := c.do(ctx, http.MethodPost, "generate", payload, nil)
	if err != nil {
		return nil, err
	}
	ids, err := parseIDs(b)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("suno: no generation ids in response: %s", b)
	}
	return ids, nil
}

// parseIDs accepts a list of clips or an object wrapping them in a clips or
// data field. A data object with a task id is a single generation.
func parseIDs(b []byte) ([]music.GenerationID, error) {
	b = bytes.TrimSpace(b)
	var clips []clip
	if len(b) > 0 && b[0] == '[' {
		if err := json.Unmarshal(b, &clips); err != nil {
			return nil, fmt.Errorf("suno: couldn't unmarshal clips: %w", err)
		}
		return toIDs(clips), nil
	}
	var resp struct {
		Clips  []clip          `json:"clips"`
		Data   json.RawMessage `json:"data"`
		Detail string          `json:"detail"`
		Msg    string          `json:"msg"`
	}
	if err := json.Unmarshal(b, &resp); err != nil {
		return nil, fmt.Errorf("suno: couldn't unmarshal generation response: %w", err)
	}
	if resp.Detail != "" {
		return nil, fmt.Errorf("suno: generation rejected: %s", resp.Detail)
	}
	if len(resp.Clips) > 0 {
		return toIDs(resp.Clips), nil
	}
	data := bytes.TrimSpace(resp.Data)
	switch {
	case len(data) > 0 && data[0] == '[':
		if err := json.Unmarshal(data, &clips); err != nil {
			return nil, fmt.Errorf("suno: couldn't unmarshal clips: %w", err)
		}
		return toIDs(clips), nil
	case len(data) > 0 && data[0] == '{':
		var task struct {
			TaskID string `json:"taskId"`
			ID     string `json:"id"`
		}
		if err := json.Unmarshal(data, &task); err != nil {
			return nil, fmt.Errorf("suno: couldn't unmarshal task: %w", err)
		}
		id := task.TaskID
		if id == "" {
			id = task.ID
		}
		if id == "" {
			return nil, nil
		}
		return []music.GenerationID{{ID: id}}, nil
	}
	if resp.Msg != "" {
		return nil, fmt.Errorf("suno: generation rejected: %s", resp.Msg)
	}
	return nil, nil
}

func toIDs(clips []clip) []music.GenerationID {
	var ids []music.GenerationID
	for _, c := range clips {
		if c.ID != "" {
			ids = append(ids, music.GenerationID{ID: c.ID})
		}
	}
	return ids
}

// Status returns the aggregated status of the clips.
func (c *Client) Status(ctx context.Context, ids []string) (*music.GenerationStatus, error) {
	if len(ids) == 0 {
		return nil, errors.New("suno: no generation ids")
	}
	path := "generate/" + joinIDs(ids)
	b, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	return aggregate(b)
}

// aggregate merges clip statuses: any error, failed or stalled clip fails the
// whole generation, all complete clips complete it, otherwise it is still
// processing. Complete clips are always listed.
func aggregate(b []byte) (*music.GenerationStatus, error) {
	b = bytes.TrimSpace(b)
	status := &music.GenerationStatus{Status: music.Processing, Results: []music.Track{}}

	var clips []clip
	if len(b) > 0 && b[0] == '[' {
		if err := json.Unmarshal(b, &clips); err != nil {
			return nil, fmt.Errorf("suno: couldn't unmarshal clips: %w", err)
		}
	} else {
		var resp struct {
			clip
			Detail any `json:"detail"`
		}
		if err := json.Unmarshal(b, &resp); err != nil {
			return nil, fmt.Errorf("suno: couldn't unmarshal status: %w", err)
		}
		if msg := detailMessage(resp.Detail); msg != "" {
			status.Status = music.Failed
			status.Message = msg
			return status, nil
		}
		clips = []clip{resp.clip}
	}

	var failed *clip
	complete := len(clips) > 0
	for i := range clips {
		switch clips[i].Status {
		case "error", "failed", "stalled":
			if failed == nil {
				failed = &clips[i]
			}
		case "complete":
		default:
			complete = false
		}
	}
	switch {
	case failed != nil:
		status.Status = music.Failed
		status.Message = failed.ErrorMessage
		if status.Message == "" {
			status.Message = fmt.Sprintf("A track entered status: %s", failed.Status)
		}
	case complete:
		status.Status = music.Completed
	}

	for _, c := range clips {
		if c.Status != "complete" {
			continue
		}
		status.Results = append(status.Results, music.Track{
			ID:             c.ID,
			AudioURL:       c.AudioURL,
			Title:          c.Title,
			IsInstrumental: c.Metadata.MakeInstrumental,
		})
	}
	return status, nil
}

func detailMessage(v any) string {
	switch d := v.(type) {
	case nil:
		return ""
	case string:
		return d
	default:
		b, _ := json.Marshal(d)
		return string(b)
	}
}

// Credits returns the remaining credits of the account.
func (c *Client) Credits(ctx context.Context) (float64, error) {
	var resp struct {
		Data *float64 `json:"data"`
	}
	if _, err := c.do(ctx, http.MethodGet, "generate/credit", nil, &resp); err != nil {
		return 0, err
	}
	if resp.Data == nil {
		return 0, errors.New("suno: malformed credits response: missing data field")
	}
	return *resp.Data, nil
}

// Download writes the audio behind u to w.
func (c *Client) Download(ctx context.Context, u string, w io.Writer) error {
	c.logger.Debug("downloading audio", "url", u)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("suno: couldn't create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("suno: couldn't download %s: %w", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("suno: couldn't download %s: %w", u, errStatusCode(resp.StatusCode))
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("suno: couldn't write audio: %w", err)
	}
	return nil
}

// joinIDs escapes every id and joins them with a literal comma.
func joinIDs(ids []string) string {
	escaped := make([]string, len(ids))
	for i, id := range ids {
		escaped[i] = url.PathEscape(id)
	}
	return strings.Join(escaped, ",")
}
