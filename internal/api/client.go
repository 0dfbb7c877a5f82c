// Package api is the REST client for the backlog backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"

	"github.com/gosuda/airactl/internal/config"
	"github.com/gosuda/airactl/internal/domain"
)

// Client talks to the backend REST API. All calls are paced through a shared
// rate limiter so bursts of CLI activity (or the polling fallback) cannot
// hammer the backend.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	limiter *rate.Limiter
}

// New creates a Client from API settings and a bearer token. An empty token
// sends unauthenticated requests.
func New(cfg config.APIConfig, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		token:   token,
		httpc:   &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateRPS), cfg.RateBurst),
	}
}

// Health checks the backend's /health endpoint.
func (c *Client) Health(ctx context.Context) error {
	var body struct {
		Status string `json:"status"`
	}
	if err := c.get(ctx, "/health", &body); err != nil {
		return fmt.Errorf("api.Client.Health: %w", err)
	}
	if body.Status != "ok" {
		return fmt.Errorf("api.Client.Health: backend reports %q", body.Status)
	}
	return nil
}

// ListRuns returns run summaries for a project.
func (c *Client) ListRuns(ctx context.Context, projectID string) ([]domain.RunSummary, error) {
	path := "/runs"
	if projectID != "" {
		path += "?project_id=" + url.QueryEscape(projectID)
	}
	var runs []domain.RunSummary
	if err := c.get(ctx, path, &runs); err != nil {
		return nil, fmt.Errorf("api.Client.ListRuns: %w", err)
	}
	return runs, nil
}

// GetRun returns full detail for one run.
func (c *Client) GetRun(ctx context.Context, id string) (*domain.RunDetail, error) {
	var detail domain.RunDetail
	if err := c.get(ctx, "/runs/"+url.PathEscape(id), &detail); err != nil {
		return nil, fmt.Errorf("api.Client.GetRun: %w", err)
	}
	return &detail, nil
}

// ListRunEvents returns the backend's recorded events for a run.
func (c *Client) ListRunEvents(ctx context.Context, id string) ([]domain.Event, error) {
	var events []domain.Event
	if err := c.get(ctx, "/runs/"+url.PathEscape(id)+"/events", &events); err != nil {
		return nil, fmt.Errorf("api.Client.ListRunEvents: %w", err)
	}
	return events, nil
}

// ListProjects returns all projects visible to the caller.
func (c *Client) ListProjects(ctx context.Context) ([]domain.Project, error) {
	var projects []domain.Project
	if err := c.get(ctx, "/projects", &projects); err != nil {
		return nil, fmt.Errorf("api.Client.ListProjects: %w", err)
	}
	return projects, nil
}

// CreateProject creates a project.
func (c *Client) CreateProject(ctx context.Context, name, description string) (*domain.Project, error) {
	req := map[string]string{"name": name, "description": description}
	var project domain.Project
	if err := c.do(ctx, http.MethodPost, "/projects", req, &project); err != nil {
		return nil, fmt.Errorf("api.Client.CreateProject: %w", err)
	}
	return &project, nil
}

// UpdateProject replaces a project's mutable fields.
func (c *Client) UpdateProject(ctx context.Context, p *domain.Project) (*domain.Project, error) {
	var project domain.Project
	if err := c.do(ctx, http.MethodPut, "/projects/"+url.PathEscape(p.ID), p, &project); err != nil {
		return nil, fmt.Errorf("api.Client.UpdateProject: %w", err)
	}
	return &project, nil
}

// DeleteProject removes a project.
func (c *Client) DeleteProject(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/projects/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("api.Client.DeleteProject: %w", err)
	}
	return nil
}

// ListItems returns backlog items, optionally filtered by project.
func (c *Client) ListItems(ctx context.Context, projectID string) ([]domain.Item, error) {
	path := "/items"
	if projectID != "" {
		path += "?project_id=" + url.QueryEscape(projectID)
	}
	var items []domain.Item
	if err := c.get(ctx, path, &items); err != nil {
		return nil, fmt.Errorf("api.Client.ListItems: %w", err)
	}
	return items, nil
}

// CreateItem adds a backlog item.
func (c *Client) CreateItem(ctx context.Context, item *domain.Item) (*domain.Item, error) {
	var created domain.Item
	if err := c.do(ctx, http.MethodPost, "/items", item, &created); err != nil {
		return nil, fmt.Errorf("api.Client.CreateItem: %w", err)
	}
	return &created, nil
}

// PatchItem applies a partial update to a backlog item.
func (c *Client) PatchItem(ctx context.Context, id string, patch domain.ItemPatch) (*domain.Item, error) {
	var updated domain.Item
	if err := c.do(ctx, http.MethodPatch, "/items/"+url.PathEscape(id), patch, &updated); err != nil {
		return nil, fmt.Errorf("api.Client.PatchItem: %w", err)
	}
	return &updated, nil
}

// DeleteItem removes a backlog item.
func (c *Client) DeleteItem(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/items/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("api.Client.DeleteItem: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var bodyReader io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return domain.ErrUnauthorized
	case resp.StatusCode == http.StatusConflict:
		return domain.ErrConflict
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
