// Package hubapi is a rate-limited client for the Hugging Face hub
// REST API.
package hubapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// Model is one hub model listing entry.
type Model struct {
	ID           string    `json:"id"`
	Author       string    `json:"author,omitempty"`
	PipelineTag  string    `json:"pipeline_tag,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	Likes        int       `json:"likes"`
	Downloads    int       `json:"downloads"`
	Private      bool      `json:"private"`
	LastModified time.Time `json:"lastModified"`
	CreatedAt    time.Time `json:"createdAt,omitempty"`
}

// ListParams filters a model listing request.
type ListParams struct {
	Search    string
	Author    string
	Sort      string
	Direction int
	Limit     int
}

// Config controls the client's endpoint and throttling.
type Config struct {
	BaseURL       string
	Token         string
	Timeout       time.Duration
	RatePerSecond int
	Burst         int
}

// Client talks to the hub API. All requests pass through a token
// bucket so bursts of polling cannot trip the hub's rate limits.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
}

// New creates a Client from cfg.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("hub base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse hub base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	r := rate.Limit(cfg.RatePerSecond)
	if cfg.RatePerSecond <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(r, burst),
	}, nil
}

// ListModels returns models matching params, most recently modified
// first unless params says otherwise.
func (c *Client) ListModels(ctx context.Context, params ListParams) ([]Model, error) {
	q := url.Values{}
	if params.Search != "" {
		q.Set("search", params.Search)
	}
	if params.Author != "" {
		q.Set("author", params.Author)
	}
	sort := params.Sort
	if sort == "" {
		sort = "lastModified"
	}
	q.Set("sort", sort)
	direction := params.Direction
	if direction == 0 {
		direction = -1
	}
	q.Set("direction", strconv.Itoa(direction))
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}

	var models []Model
	if err := c.getJSON(ctx, "/api/models?"+q.Encode(), &models); err != nil {
		return nil, err
	}
	return models, nil
}

// GetModel returns one model by its repo ID.
func (c *Client) GetModel(ctx context.Context, id string) (Model, error) {
	var model Model
	if err := c.getJSON(ctx, "/api/models/"+url.PathEscape(id), &model); err != nil {
		return Model{}, err
	}
	return model, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build hub request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("hub request %s: %w", path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("hub request %s: %w", path, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("hub request %s: status %d: %s", path, resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode hub response %s: %w", path, err)
	}
	return nil
}
