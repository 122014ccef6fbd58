package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/igolaizola/sunoprompt/pkg/music"
	"github.com/igolaizola/sunoprompt/pkg/poll"
)

// Generate submits a generation request and returns the generation IDs.
func (c *Client) Generate(ctx context.Context, req *music.GenerationRequest) ([]string, error) {
	if req.Prompt.Text == "" && !req.Prompt.Custom() {
		return nil, errors.New("client: prompt is empty")
	}
	var resp []music.GenerationID
	if _, err := c.do(ctx, http.MethodPost, "generate-music", req, &resp); err != nil {
		return nil, fmt.Errorf("client: couldn't generate music: %w", err)
	}
	var ids []string
	for _, r := range resp {
		if r.ID != "" {
			ids = append(ids, r.ID)
		}
	}
	if len(ids) == 0 {
		return nil, errors.New("client: empty generation ids")
	}
	return ids, nil
}

// Status returns the current status of the generations.
func (c *Client) Status(ctx context.Context, ids []string) (*music.GenerationStatus, error) {
	if len(ids) == 0 {
		return nil, errors.New("client: no generation ids")
	}
	path := "generation-status/" + joinIDs(ids)
	var resp music.GenerationStatus
	if _, err := c.doAttempt(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("client: couldn't get generation status: %w", err)
	}
	if resp.Status == "" {
		return nil, errors.New("client: empty generation status")
	}
	return &resp, nil
}

// Watch polls the status of a generation in the background until it
// completes, fails, errors or is stopped.
type Watch struct {
	task *poll.Task

	lck    sync.Mutex
	status *music.GenerationStatus
}

// Watch starts polling the generation status. fn is called with every
// status received.
func (c *Client) Watch(ctx context.Context, ids []string, fn func(*music.GenerationStatus)) *Watch {
	w := &Watch{}
	w.task = poll.Start(ctx, c.poll, func(ctx context.Context, attempt int) (poll.State, error) {
		status, err := c.Status(ctx, ids)
		if err != nil {
			return poll.Errored, err
		}
		c.logger.Debug("generation status", "ids", ids, "attempt", attempt, "status", status.Status, "results", len(status.Results))
		w.lck.Lock()
		w.status = status
		w.lck.Unlock()
		if fn != nil {
			fn(status)
		}
		switch status.Status {
		case music.Completed:
			return poll.Completed, nil
		case music.Failed:
			msg := status.Message
			if msg == "" {
				msg = "generation failed"
			}
			return poll.Failed, fmt.Errorf("%w: %s", ErrGenerationFailed, msg)
		default:
			return poll.Polling, nil
		}
	})
	return w
}

// Stop stops polling.
func (w *Watch) Stop() {
	w.task.Stop()
}

// State returns the polling state.
func (w *Watch) State() poll.State {
	return w.task.State()
}

// Wait blocks until polling ends and returns the last status received.
func (w *Watch) Wait() (*music.GenerationStatus, error) {
	err := w.task.Wait()
	w.lck.Lock()
	defer w.lck.Unlock()
	return w.status, err
}

// Wait polls the status of the generations until they complete or fail.
func (c *Client) Wait(ctx context.Context, ids []string, fn func(*music.GenerationStatus)) (*music.GenerationStatus, error) {
	return c.Watch(ctx, ids, fn).Wait()
}

// Download writes the generated audio to w through the backend proxy.
func (c *Client) Download(ctx context.Context, audioURL, title string, w io.Writer) error {
	q := url.Values{}
	q.Set("url", audioURL)
	q.Set("title", title)
	resp, err := c.send(ctx, http.MethodGet, "download-audio?"+q.Encode(), nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("client: couldn't download audio: %w", parseError(resp.StatusCode, b))
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("client: couldn't write audio: %w", err)
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
