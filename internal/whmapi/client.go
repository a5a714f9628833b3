// Package whmapi calls the server's JSON APIs. WHM API 1, UAPI and API2
// share one call shape and one normalised Result.
package whmapi

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds a single API call.
const DefaultTimeout = 30 * time.Second

const maxBody = 4 << 20

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// APIError is a call the server answered but refused.
type APIError struct {
	Reason string
	Errors []string
}

func (e *APIError) Error() string {
	if len(e.Errors) > 0 {
		return "api error: " + strings.Join(e.Errors, "; ")
	}
	if e.Reason != "" {
		return "api error: " + e.Reason
	}
	return "api error"
}

// Options configures New.
type Options struct {
	// BaseURL is the server root, e.g. "https://whm.example.com:2087".
	BaseURL string
	User    string
	// Token is an API token; it is sent as "<scheme> <user>:<token>".
	Token              string
	Timeout            time.Duration
	InsecureSkipVerify bool
	Logger             *zap.Logger
}

// Client issues API calls against one server.
type Client struct {
	base   string
	user   string
	token  string
	http   *http.Client
	logger *zap.Logger
}

// New creates a client. It returns an error when BaseURL is not an
// absolute URL.
func New(opts Options) (*Client, error) {
	u, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must include scheme and host", opts.BaseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // self-signed WHM certificates
	}

	return &Client{
		base:   strings.TrimRight(u.String(), "/"),
		user:   opts.User,
		token:  opts.Token,
		http:   &http.Client{Timeout: opts.Timeout, Transport: transport},
		logger: logger.Named("whmapi"),
	}, nil
}

// Authorization returns the header value for the given dialect, or ""
// when no token is configured.
func (c *Client) Authorization(d Dialect) string {
	if c.token == "" {
		return ""
	}
	return d.authScheme() + " " + c.user + ":" + c.token
}

// Call performs one API request. Transport failures and non-2xx statuses
// are returned as errors; a refused call comes back as a Result with
// Status false and a nil error.
func (c *Client) Call(ctx context.Context, req Request) (*Result, error) {
	path, form, err := req.endpoint(c.user)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")
	if authz := c.Authorization(req.Dialect); authz != "" {
		httpReq.Header.Set("Authorization", authz)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Dialect, req.Func, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", req.Dialect, req.Func, err)
	}
	c.logger.Debug("api call",
		zap.Stringer("dialect", req.Dialect),
		zap.String("func", req.Func),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, &StatusError{Code: resp.StatusCode, Body: snippet}
	}

	res, err := decode(req.Dialect, body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Dialect, req.Func, err)
	}
	if !res.Status {
		c.logger.Info("api call refused", zap.String("func", req.Func), zap.String("reason", res.Reason))
	}
	return res, nil
}
