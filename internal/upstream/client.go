// Package upstream provides the bearer-authenticated HTTP client shared by
// the MPI and datastore clients. It owns per-call timeouts and token
// attachment; interpretation of upstream status codes stays with callers
// because 404 means different things to different operations.
package upstream

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mpi-mediator/internal/auth"
	"mpi-mediator/internal/platform/config"
	"mpi-mediator/internal/platform/metrics"
	mErrors "mpi-mediator/pkg/errors"
)

const fhirContentType = "application/fhir+json"

// Response is one upstream HTTP result. Body is fully read and the
// connection released before the response is returned.
type Response struct {
	StatusCode int
	Body       []byte
}

// Success reports a 2xx status.
func (r Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

// Client talks to one FHIR upstream.
type Client struct {
	name       string
	cfg        config.Upstream
	httpClient *http.Client
	tokens     *auth.TokenCache
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMetrics attaches request duration metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithHTTPClient overrides the transport, for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New builds a client for the named upstream. tokens may be nil when auth is
// disabled for the upstream.
func New(name string, cfg config.Upstream, tokens *auth.TokenCache, opts ...Option) *Client {
	c := &Client{
		name:       name,
		cfg:        cfg,
		httpClient: &http.Client{},
		tokens:     tokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the upstream identity this client serves.
func (c *Client) Name() string { return c.name }

// Get issues a GET against path with optional query parameters.
func (c *Client) Get(ctx context.Context, path string, query url.Values, operation string) (Response, error) {
	return c.do(ctx, http.MethodGet, path, query, nil, operation)
}

// Ping reports upstream reachability via the FHIR capability statement.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.Get(ctx, "/fhir/metadata", nil, "ping")
	if err != nil {
		return err
	}
	if !resp.Success() {
		return mErrors.Newf(mErrors.CodeUpstream, "%s metadata returned %d", c.name, resp.StatusCode)
	}
	return nil
}

// Post issues a POST of a FHIR JSON body against path.
func (c *Client) Post(ctx context.Context, path string, body []byte, operation string) (Response, error) {
	return c.do(ctx, http.MethodPost, path, nil, body, operation)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, operation string) (Response, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return Response{}, mErrors.Wrap(err, mErrors.CodeUpstream, "build request")
	}
	req.Header.Set("Content-Type", fhirContentType)

	if c.cfg.AuthEnabled && c.tokens != nil {
		token, err := c.tokens.GetToken(ctx, c.name)
		if err != nil {
			return Response{}, err
		}
		req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.metrics != nil {
		c.metrics.ObserveUpstreamRequest(c.name, operation, time.Since(start))
	}
	if err != nil {
		return Response{}, mErrors.Wrap(err, mErrors.CodeUpstream, c.name+" unreachable")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, mErrors.Wrap(err, mErrors.CodeUpstream, "read "+c.name+" response")
	}

	if c.logger != nil {
		c.logger.DebugContext(ctx, "upstream request",
			"upstream", c.name,
			"operation", operation,
			"method", method,
			"path", path,
			"status", resp.StatusCode,
		)
	}
	return Response{StatusCode: resp.StatusCode, Body: respBody}, nil
}
