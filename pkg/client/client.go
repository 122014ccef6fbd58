// Package client talks to the sunoprompt backend REST and streaming API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/igolaizola/sunoprompt/pkg/poll"
	"github.com/igolaizola/sunoprompt/pkg/ratelimit"
)

const DefaultBaseURL = "http://localhost:5001"

var (
	ErrUnauthorized     = errors.New("client: unauthorized")
	ErrGenerationFailed = errors.New("client: generation failed")
	ErrNoResult         = errors.New("client: analysis stream ended without result")
)

// APIError is an error reported by the backend, either with a non 2xx
// status code or with an error field in a successful response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("client: server error (%d): %s", e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

type Client struct {
	client    *http.Client
	baseURL   string
	apiKey    string
	ratelimit ratelimit.Lock
	logger    *log.Logger
	poll      poll.Config
}

type Config struct {
	BaseURL string
	APIKey  string
	Wait    time.Duration
	Debug   bool
	Client  *http.Client

	PollInterval time.Duration
	PollAttempts int
	PollTimeout  time.Duration
}

func New(cfg *Config) *Client {
	client := cfg.Client
	if client == nil {
		// No global timeout, the analysis stream can take minutes.
		client = &http.Client{}
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	interval := cfg.PollInterval
	if interval == 0 {
		interval = poll.DefaultInterval
	}
	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "client"})
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	return &Client{
		client:    client,
		baseURL:   baseURL,
		apiKey:    cfg.APIKey,
		ratelimit: ratelimit.New(cfg.Wait),
		logger:    logger,
		poll: poll.Config{
			Interval:    interval,
			MaxAttempts: cfg.PollAttempts,
			Timeout:     cfg.PollTimeout,
		},
	}
}

// SetAPIKey changes the key sent as bearer token.
func (c *Client) SetAPIKey(key string) {
	c.apiKey = key
}

var backoff = []time.Duration{
	5 * time.Second,
	15 * time.Second,
	30 * time.Second,
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) ([]byte, error) {
	maxAttempts := 3
	attempts := 0
	var err error
	for {
		if err != nil {
			c.logger.Warn("retrying", "err", err)
		}
		var b []byte
		b, err = c.doAttempt(ctx, method, path, in, out)
		if err == nil {
			return b, nil
		}
		// Increase attempts and check if we should stop
		attempts++
		if attempts >= maxAttempts {
			return nil, err
		}
		// If the error is temporary retry
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			continue
		}
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			return nil, err
		}
		switch apiErr.StatusCode {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusTooManyRequests:
		default:
			return nil, err
		}

		idx := attempts - 1
		if idx >= len(backoff) {
			idx = len(backoff) - 1
		}
		wait := backoff[idx]
		c.logger.Debug("server seems to be down", "wait", wait)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func (c *Client) doAttempt(ctx context.Context, method, path string, in, out any) ([]byte, error) {
	var body []byte
	var reqBody io.Reader
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("client: couldn't marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(body)
	}
	c.logger.Debug("do", "method", method, "path", path, "body", truncate(string(body), 200))

	contentType := ""
	if in != nil {
		contentType = "application/json"
	}
	resp, err := c.send(ctx, method, path, reqBody, contentType)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("client: couldn't read response body: %w", err)
	}
	c.logger.Debug("response", "method", method, "path", path, "status", resp.StatusCode, "body", truncate(string(respBody), 200))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseError(resp.StatusCode, respBody)
	}
	if out == nil {
		return respBody, nil
	}
	if msg := serverError(respBody); msg != "" {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if err := jsonUnmarshal(respBody, out); err != nil {
		return nil, err
	}
	return respBody, nil
}

// send issues a single request without retries and returns the response
// when the transport succeeded.
func (c *Client) send(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	u := fmt.Sprintf("%s/api/%s", c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("client: couldn't create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	c.addHeaders(req, path)

	unlock := c.ratelimit.Lock(ctx)
	defer unlock()

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: couldn't %s %s: %w", method, u, err)
	}
	return resp, nil
}

func (c *Client) addHeaders(req *http.Request, path string) {
	req.Header.Set("Accept", "application/json")
	switch {
	case strings.HasPrefix(path, "generate-music"),
		strings.HasPrefix(path, "generation-status"),
		strings.HasPrefix(path, "download-audio"),
		strings.HasPrefix(path, "credits"):
		if c.apiKey != "" {
			req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
		}
	case strings.HasPrefix(path, "analyze"):
		req.Header.Set("Accept", "text/event-stream")
	}
}

// parseError builds an APIError from an error response. The message is
// taken from the error field, then from a nested detail field, then from the
// raw body.
func parseError(status int, body []byte) error {
	msg := serverError(body)
	if msg == "" {
		msg = detail(body)
	}
	if msg == "" {
		msg = truncate(strings.TrimSpace(string(body)), 200)
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{StatusCode: status, Message: msg}
}

// serverError returns the error field of a JSON object body. An error that is
// itself a JSON document with a detail field is unwrapped.
func serverError(body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return ""
	}
	var resp struct {
		Error any `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	switch v := resp.Error.(type) {
	case nil:
		return ""
	case string:
		if d := detail([]byte(v)); d != "" {
			return d
		}
		return v
	case bool:
		return ""
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

func detail(body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return ""
	}
	var resp struct {
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	switch v := resp.Detail.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

func jsonUnmarshal(b []byte, out any) error {
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("client: couldn't unmarshal response body (%T): %w", out, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
