package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cordum/cordum-packs/core/packs"
)

// Client talks to the packs HTTP API.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

// NewClient returns a client for baseURL.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 5 * time.Minute},
	}
}

// APIError is a non-2xx response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, strings.TrimSpace(e.Body))
}

// ListPacks returns stored packs, optionally filtered.
func (c *Client) ListPacks(ctx context.Context, name, ref string) ([]*packs.Pack, error) {
	q := url.Values{}
	if name != "" {
		q.Set("name", name)
	}
	if ref != "" {
		q.Set("ref", ref)
	}
	path := "/api/v1/packs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		Items []*packs.Pack `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// GetPack resolves a pack by id or ref.
func (c *Client) GetPack(ctx context.Context, refOrID string) (*packs.Pack, error) {
	var p packs.Pack
	if err := c.do(ctx, http.MethodGet, "/api/v1/packs/"+url.PathEscape(refOrID), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Install schedules packs.install.
func (c *Client) Install(ctx context.Context, names []string) (packs.ExecutionHandle, error) {
	var h packs.ExecutionHandle
	err := c.do(ctx, http.MethodPost, "/api/v1/packs/install", map[string]any{"packs": names}, &h)
	return h, err
}

// Uninstall schedules packs.uninstall.
func (c *Client) Uninstall(ctx context.Context, names []string) (packs.ExecutionHandle, error) {
	var h packs.ExecutionHandle
	err := c.do(ctx, http.MethodPost, "/api/v1/packs/uninstall", map[string]any{"packs": names}, &h)
	return h, err
}

// Register runs bulk registration for types; empty means all.
func (c *Client) Register(ctx context.Context, types []string) (map[packs.ContentKind]packs.RegistrationResult, error) {
	var out registerResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/packs/register", registerRequest{Types: types}, &out)
	return out.Results, err
}

// Deregister removes packs and their content.
func (c *Client) Deregister(ctx context.Context, names []string) (*packs.DeregistrationReport, error) {
	var out packs.DeregistrationReport
	if err := c.do(ctx, http.MethodPost, "/api/v1/packs/deregister", map[string]any{"packs": names}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ConfigSchemas lists the packs that have a stored config schema.
func (c *Client) ConfigSchemas(ctx context.Context) ([]string, error) {
	var out struct {
		Items []string `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/config_schemas", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// ValidateConfig checks values against the pack's config schema.
func (c *Client) ValidateConfig(ctx context.Context, refOrID string, values map[string]any) error {
	return c.do(ctx, http.MethodPost, "/api/v1/packs/"+url.PathEscape(refOrID)+"/config/validate", values, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Body: string(data)}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}
