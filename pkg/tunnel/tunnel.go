// Package tunnel exposes a local port through an ngrok agent and reports the
// public url it gets assigned.
package tunnel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/igolaizola/sunoprompt/pkg/poll"
)

const DefaultAPI = "http://localhost:4040"

var ErrNotFound = errors.New("tunnel: no tunnel found for port")

type Config struct {
	Bin string
	// API is the agent's local inspection url.
	API      string
	Interval time.Duration
	Timeout  time.Duration
}

type tunnelsResponse struct {
	Tunnels []struct {
		Name      string `json:"name"`
		PublicURL string `json:"public_url"`
		Proto     string `json:"proto"`
		Config    struct {
			Addr string `json:"addr"`
		} `json:"config"`
	} `json:"tunnels"`
}

// Tunnel is a running ngrok agent.
type Tunnel struct {
	URL    string
	cancel context.CancelFunc
	done   chan struct{}
}

// Close stops the agent and waits for it to exit.
func (t *Tunnel) Close() {
	t.cancel()
	<-t.done
}

// Open launches the agent for an http tunnel to port and waits until the
// public url is available.
func Open(ctx context.Context, cfg *Config, port string) (*Tunnel, error) {
	bin := cfg.Bin
	if bin == "" {
		bin = "ngrok"
	}
	ctx, cancel := context.WithCancel(ctx)
	t := &Tunnel{cancel: cancel, done: make(chan struct{})}

	cmd := exec.CommandContext(ctx, bin, "http", port, "--log", "stdout")
	go func() {
		defer close(t.done)
		data, err := cmd.CombinedOutput()
		if err != nil && ctx.Err() == nil {
			log.Error("tunnel: agent exited", "err", err, "output", strings.TrimSpace(string(data)))
			cancel()
		}
	}()

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = time.Minute
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = time.Second
	}
	err := poll.Run(ctx, poll.Config{Interval: interval, Timeout: timeout}, func(ctx context.Context, _ int) (poll.State, error) {
		u, err := Lookup(ctx, cfg.API, port)
		if err != nil {
			log.Debug("tunnel: waiting for agent", "err", err)
			return poll.Polling, nil
		}
		t.URL = u
		return poll.Completed, nil
	})
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("tunnel: couldn't open: %w", err)
	}
	return t, nil
}

// Lookup asks the agent api for the public url forwarding to port.
func Lookup(ctx context.Context, api, port string) (string, error) {
	if api == "" {
		api = DefaultAPI
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(api, "/")+"/api/tunnels", nil)
	if err != nil {
		return "", fmt.Errorf("tunnel: couldn't create request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("tunnel: couldn't reach agent: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tunnel: agent returned %s", resp.Status)
	}
	var tr tunnelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("tunnel: couldn't decode response: %w", err)
	}
	var fallback string
	for _, t := range tr.Tunnels {
		if addrPort(t.Config.Addr) != port {
			continue
		}
		if t.Proto == "https" {
			return t.PublicURL, nil
		}
		fallback = strings.Replace(t.PublicURL, "tcp://", "http://", 1)
	}
	if fallback == "" {
		return "", ErrNotFound
	}
	return fallback, nil
}

func addrPort(addr string) string {
	addr = strings.TrimPrefix(strings.TrimPrefix(addr, "http://"), "https://")
	if _, p, err := net.SplitHostPort(addr); err == nil {
		return p
	}
	return addr
}
