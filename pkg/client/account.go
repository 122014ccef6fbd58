package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/igolaizola/sunoprompt/pkg/music"
)

type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type accountRequest struct {
	Name   string `json:"name"`
	APIKey string `json:"api_key,omitempty"`
}

// Credits returns the remaining credits of the account behind the api key,
// or of the default account when no key is set.
func (c *Client) Credits(ctx context.Context) (float64, error) {
	var resp struct {
		Credits float64 `json:"credits"`
	}
	if _, err := c.do(ctx, http.MethodGet, "credits", nil, &resp); err != nil {
		return 0, fmt.Errorf("client: couldn't get credits: %w", err)
	}
	return resp.Credits, nil
}

// Accounts returns the stored accounts by name.
func (c *Client) Accounts(ctx context.Context) (map[string]music.Account, error) {
	resp := map[string]music.Account{}
	if _, err := c.do(ctx, http.MethodGet, "accounts", nil, &resp); err != nil {
		return nil, fmt.Errorf("client: couldn't list accounts: %w", err)
	}
	return resp, nil
}

func (c *Client) AddAccount(ctx context.Context, name, apiKey string) error {
	return c.account(ctx, http.MethodPost, "accounts", &accountRequest{Name: name, APIKey: apiKey})
}

func (c *Client) RemoveAccount(ctx context.Context, name string) error {
	return c.account(ctx, http.MethodDelete, "accounts", &accountRequest{Name: name})
}

func (c *Client) SetDefaultAccount(ctx context.Context, name string) error {
	return c.account(ctx, http.MethodPost, "accounts/default", &accountRequest{Name: name})
}

func (c *Client) account(ctx context.Context, method, path string, req *accountRequest) error {
	var resp successResponse
	if _, err := c.do(ctx, method, path, req, &resp); err != nil {
		return fmt.Errorf("client: couldn't %s %s: %w", method, path, err)
	}
	if !resp.Success {
		return fmt.Errorf("client: %s %s: %w", method, path, &APIError{StatusCode: http.StatusOK, Message: "unsuccessful response"})
	}
	return nil
}
