package suno

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
	"github.com/igolaizola/sunoprompt/pkg/ratelimit"
)

const (
	DefaultBaseURL = "https://api.sunoapi.org"
	DefaultModel   = "V5"
)

var (
	ErrUnauthorized = errors.New("suno: unauthorized, check your api key")
	ErrMissingKey   = errors.New("suno: api key is required")
)

type Client struct {
	client    *http.Client
	baseURL   string
	apiKey    string
	model     string
	ratelimit ratelimit.Lock
	logger    *log.Logger
}

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Wait    time.Duration
	Debug   bool
	Client  *http.Client
}

func New(cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingKey
	}
	wait := cfg.Wait
	if wait == 0 {
		wait = 1 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Timeout: 2 * time.Minute,
		}
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "suno"})
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	return &Client{
		client:    client,
		baseURL:   baseURL,
		apiKey:    cfg.APIKey,
		model:     model,
		ratelimit: ratelimit.New(wait),
		logger:    logger,
	}, nil
}

var backoff = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) ([]byte, error) {
	maxAttempts := 5
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

		var errStatus errStatusCode
		var netErr net.Error
		switch {
		case errors.As(err, &errStatus):
			switch int(errStatus) {
			case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout, 520:
			case http.StatusUnauthorized:
				return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
			default:
				return nil, err
			}
		case errors.As(err, &netErr):
		default:
			return nil, err
		}

		// Wait before retrying
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

type errStatusCode int

func (e errStatusCode) Error() string {
	return fmt.Sprintf("%d", e)
}

func (c *Client) doAttempt(ctx context.Context, method, path string, in, out any) ([]byte, error) {
	var body []byte
	var reqBody io.Reader
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("suno: couldn't marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(body)
	}
	c.logger.Debug("do", "method", method, "path", path, "body", string(body))

	u := fmt.Sprintf("%s/api/v1/%s", c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, fmt.Errorf("suno: couldn't create request: %w", err)
	}
	c.addHeaders(req, in != nil)

	unlock := c.ratelimit.Lock(ctx)
	defer unlock()

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("suno: couldn't %s %s: %w", method, u, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("suno: couldn't read response body: %w", err)
	}
	c.logger.Debug("response", "method", method, "path", path, "status", resp.StatusCode, "body", string(respBody))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errMessage := string(respBody)
		if len(errMessage) > 100 {
			errMessage = errMessage[:100] + "..."
		}
		return nil, fmt.Errorf("suno: %s %s returned (%s): %w", method, u, errMessage, errStatusCode(resp.StatusCode))
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return nil, fmt.Errorf("suno: couldn't unmarshal response body (%T): %w", out, err)
		}
	}
	return respBody, nil
}

func (c *Client) addHeaders(req *http.Request, hasBody bool) {
	req.Header.Set("accept", "application/json")
	req.Header.Set("authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	if hasBody {
		req.Header.Set("content-type", "application/json")
	}
}
