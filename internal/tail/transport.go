package tail

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Response is what a Transport hands back for one tail request. Body is
// streamed; the reader consumes it incrementally and closes it.
type Response struct {
	StatusCode int
	Body       io.ReadCloser
}

// Transport issues the tail GET. Cancelling ctx must abort the request
// and unblock any pending Body read.
type Transport interface {
	Get(ctx context.Context, query url.Values) (*Response, error)
}

// HTTPTransport fetches the tail endpoint over HTTP. Redirects are not
// followed: the server answers 301/307 to ask for a reconnect and the
// reader needs to see that status.
type HTTPTransport struct {
	endpoint string
	authz    string
	client   *http.Client
}

// HTTPOptions configures NewHTTPTransport.
type HTTPOptions struct {
	// BaseURL is the server root, e.g. "https://whm.example.com:2087".
	BaseURL string
	// Path is the tail endpoint relative to BaseURL.
	Path string
	// Authorization is sent verbatim in the Authorization header when
	// set, e.g. "whm root:TOKEN".
	Authorization      string
	InsecureSkipVerify bool
}

// NewHTTPTransport builds a transport for the given endpoint. The client
// has no overall timeout since a tail response stays open while the
// server streams.
func NewHTTPTransport(opts HTTPOptions) (*HTTPTransport, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must include scheme and host", opts.BaseURL)
	}
	ref, err := url.Parse(strings.TrimPrefix(opts.Path, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse tail path: %w", err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // self-signed WHM certificates
	}

	return &HTTPTransport{
		endpoint: base.ResolveReference(ref).String(),
		authz:    opts.Authorization,
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

// Endpoint returns the resolved tail URL without query.
func (t *HTTPTransport) Endpoint() string {
	return t.endpoint
}

func (t *HTTPTransport) Get(ctx context.Context, query url.Values) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if t.authz != "" {
		req.Header.Set("Authorization", t.authz)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: resp.StatusCode, Body: resp.Body}, nil
}
