package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xferwatch/xferwatch/internal/store"
)

// HTTPClient makes REST calls to the relay.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a client targeting the given base URL (e.g. "http://127.0.0.1:8080").
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Session fetches GET /api/session.
func (c *HTTPClient) Session(ctx context.Context) (*store.Snapshot, error) {
	return c.do(ctx, http.MethodGet, "/api/session")
}

// Start starts or resumes the transfer.
func (c *HTTPClient) Start(ctx context.Context) (*store.Snapshot, error) {
	return c.do(ctx, http.MethodPost, "/api/session/start")
}

func (c *HTTPClient) Pause(ctx context.Context) (*store.Snapshot, error) {
	return c.do(ctx, http.MethodPost, "/api/session/pause")
}

func (c *HTTPClient) Abort(ctx context.Context) (*store.Snapshot, error) {
	return c.do(ctx, http.MethodPost, "/api/session/abort")
}

func (c *HTTPClient) do(ctx context.Context, method, path string) (*store.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
		}
		return nil, fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var snap store.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// DeriveHTTPBase converts ws://host:port/ws to http://host:port.
func DeriveHTTPBase(wsURL string) string {
	u, err := url.Parse(wsURL)
	if err != nil || u.Host == "" {
		return "http://127.0.0.1:8080"
	}
	scheme := "http"
	if u.Scheme == "wss" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, u.Host)
}
