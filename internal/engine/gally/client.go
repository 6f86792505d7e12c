// Package gally implements the search engine contracts on top of the Gally
// REST and GraphQL APIs.
package gally

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/utafrali/gally-search/pkg/httpclient"
)

const serviceName = "gally"

// Config holds the Gally connection settings.
type Config struct {
	BaseURL  string
	Email    string
	Password string
}

// Client talks to one Gally instance. The JWT obtained from the
// authentication endpoint is cached and renewed when Gally answers 401.
type Client struct {
	cfg    Config
	http   httpclient.Doer
	logger *slog.Logger

	mu    sync.Mutex
	token string
}

// NewClient creates a Gally client.
func NewClient(cfg Config, doer httpclient.Doer, logger *slog.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: doer, logger: logger}
}

func (c *Client) authenticate(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" {
		return c.token, nil
	}

	body, err := json.Marshal(map[string]string{"email": c.cfg.Email, "password": c.cfg.Password})
	if err != nil {
		return "", fmt.Errorf("gally auth: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/authentication_token", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("gally auth: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return "", fmt.Errorf("gally auth: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gally auth: %w", httpclient.ParseResponseError(resp, serviceName))
	}
	defer func() { _ = resp.Body.Close() }()

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("gally auth: decode: %w", err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("gally auth: empty token")
	}
	c.token = out.Token
	return c.token, nil
}

func (c *Client) dropToken(stale string) {
	c.mu.Lock()
	if c.token == stale {
		c.token = ""
	}
	c.mu.Unlock()
}

// Ping checks that Gally is reachable and accepts the credentials.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.call(ctx, http.MethodGet, "/api/indices?page=1&itemsPerPage=1", nil); err != nil {
		return fmt.Errorf("gally ping: %w", err)
	}
	return nil
}

// call sends an authenticated JSON request and returns the raw response
// body. A 401 answer renews the token once.
func (c *Client) call(ctx context.Context, method, path string, in any) ([]byte, error) {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		token, err := c.authenticate(ctx)
		if err != nil {
			return nil, err
		}

		var body io.Reader = http.NoBody
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			_ = resp.Body.Close()
			c.dropToken(token)
			c.logger.DebugContext(ctx, "gally token rejected, renewing")
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, httpclient.ParseResponseError(resp, serviceName)
		}

		data, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		return data, nil
	}
}
