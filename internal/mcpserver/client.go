package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the connection settings for the platform API.
type Config struct {
	APIURL   string // e.g. "http://localhost:8080"
	Token    string // bearer access token from /v1/auth/login
	TenantID string // sent as X-Tenant-ID; empty for shared-only access
}

// Client is a thin HTTP client for the /v1 registry API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a client.
func NewClient(cfg Config) *Client {
	return &Client{cfg: cfg, httpClient: &http.Client{Timeout: 30 * time.Second}}
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	if c.cfg.TenantID != "" {
		req.Header.Set("X-Tenant-ID", c.cfg.TenantID)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		var ae apiError
		if json.Unmarshal(data, &ae) == nil && ae.Message != "" {
			return nil, fmt.Errorf("API error (%d %s): %s", resp.StatusCode, ae.Error, ae.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(data))
	}
	return json.RawMessage(data), nil
}

// Login exchanges a username and password for an access token and uses
// it for every later call. The tenant header, when configured, takes part
// in tenant resolution on the server.
func (c *Client) Login(ctx context.Context, username, password string) error {
	c.cfg.Token = ""
	raw, err := c.do(ctx, http.MethodPost, "/v1/auth/login", nil, map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return err
	}
	var session struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(raw, &session); err != nil {
		return fmt.Errorf("decode session: %w", err)
	}
	if session.AccessToken == "" {
		return fmt.Errorf("login returned no access token")
	}
	c.cfg.Token = session.AccessToken
	return nil
}

// ListFilter narrows a registry listing.
type ListFilter struct {
	Status string
	Query  string // switches to the search endpoint
	Limit  int
	Extra  map[string]string // index filters such as capability=analysis
}

// List returns records of resource ("agents", "plugins", ...).
func (c *Client) List(ctx context.Context, resource string, f ListFilter) (json.RawMessage, error) {
	q := url.Values{}
	if f.Query != "" {
		q.Set("q", f.Query)
		return c.do(ctx, http.MethodGet, "/v1/"+resource+"/search", q, nil)
	}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	for k, v := range f.Extra {
		q.Set(k, v)
	}
	return c.do(ctx, http.MethodGet, "/v1/"+resource, q, nil)
}

// Get returns one record.
func (c *Client) Get(ctx context.Context, resource, id string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/v1/"+resource+"/"+url.PathEscape(id), nil, nil)
}

// Stats returns per-status counts of resource.
func (c *Client) Stats(ctx context.Context, resource string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/v1/"+resource+"/stats", nil, nil)
}

// WorkflowOrder returns a workflow's execution order.
func (c *Client) WorkflowOrder(ctx context.Context, workflowID string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/v1/workflows/"+url.PathEscape(workflowID)+"/order", nil, nil)
}

// Fetch routes a data request to the first available source.
func (c *Client) Fetch(ctx context.Context, operation string, params map[string]any, market string, preferred []string) (json.RawMessage, error) {
	body := map[string]any{"operation": operation, "params": params, "market": market, "preferred": preferred}
	return c.do(ctx, http.MethodPost, "/v1/datasources/fetch", nil, body)
}

// ListDocuments returns the documents of a knowledge base.
func (c *Client) ListDocuments(ctx context.Context, kbID, status string) (json.RawMessage, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	return c.do(ctx, http.MethodGet, "/v1/knowledge/"+url.PathEscape(kbID)+"/documents", q, nil)
}

// CreateInstance creates (and, when a runtime exists, starts) an agent instance.
func (c *Client) CreateInstance(ctx context.Context, agentID, name string, config map[string]any) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/v1/agents/"+url.PathEscape(agentID)+"/instances", nil,
		map[string]any{"name": name, "config": config})
}

// CurrentTenant returns the tenant bound to the configured X-Tenant-ID.
func (c *Client) CurrentTenant(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/v1/tenants/current", nil, nil)
}
