package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/fyrsmithlabs/shipd/internal/pipeline"
)

// Client queries the shipd daemon API.
type Client struct {
	baseURL string
	client  *http.Client
}

type healthResponse struct {
	Status string `json:"status"`
}

type readyResponse struct {
	Ready bool `json:"ready"`
}

type runsResponse struct {
	Runs  []*pipeline.Run `json:"runs"`
	Count int             `json:"count"`
}

type aliasesResponse struct {
	Aliases map[string]string `json:"aliases"`
}

// NewClient creates a daemon API client. The timeout is short; the
// dashboard polls and a slow daemon should read as an error, not a
// hang.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

// Health checks daemon liveness and returns the reported status.
func (c *Client) Health(ctx context.Context) (string, error) {
	var out healthResponse
	if err := c.get(ctx, "/health", nil, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

// Ready reports whether the daemon accepts new runs. A 503 is a valid
// answer, not an error.
func (c *Client) Ready(ctx context.Context) (bool, error) {
	resp, err := c.do(ctx, "/ready", nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return false, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	var out readyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}
	return out.Ready, nil
}

// Runs returns recent runs, newest first.
func (c *Client) Runs(ctx context.Context, limit int) ([]*pipeline.Run, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var out runsResponse
	if err := c.get(ctx, "/api/v1/runs", query, &out); err != nil {
		return nil, err
	}
	return out.Runs, nil
}

// Run returns one run record by ID.
func (c *Client) Run(ctx context.Context, id string) (*pipeline.Run, error) {
	var out pipeline.Run
	if err := c.get(ctx, "/api/v1/runs/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Aliases returns the current docs alias table.
func (c *Client) Aliases(ctx context.Context) (map[string]string, error) {
	var out aliasesResponse
	if err := c.get(ctx, "/api/v1/aliases", nil, &out); err != nil {
		return nil, err
	}
	return out.Aliases, nil
}

func (c *Client) do(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	resp, err := c.do(ctx, path, query)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
