// Package auth manages OAuth2 client-credentials tokens for the mediator's
// upstream registries. One cache instance serves all upstreams, with one
// independently locked slot per upstream identity so the MPI and the
// secondary MPI never share token state.
package auth

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"mpi-mediator/internal/platform/config"
	"mpi-mediator/internal/platform/metrics"
	mErrors "mpi-mediator/pkg/errors"
)

const tokenPath = "/auth/oauth2_token"

// Token is one issued upstream token.
type Token struct {
	TokenType    string
	AccessToken  string
	RefreshToken string
	// ExpiresAt is derived from the provider's expires_in at issuance time.
	// Zero means the provider sent no expiry and the token never expires.
	ExpiresAt time.Time
}

// Expired reports whether the token is past its expiry.
func (t Token) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

type slot struct {
	mu       sync.Mutex
	upstream config.Upstream
	name     string
	token    *Token
}

// TokenCache acquires and refreshes tokens per registered upstream.
type TokenCache struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time

	mu    sync.RWMutex
	slots map[string]*slot
}

// Option configures a TokenCache.
type Option func(*TokenCache)

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *TokenCache) { c.logger = logger }
}

// WithMetrics attaches exchange counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *TokenCache) { c.metrics = m }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *TokenCache) { c.now = now }
}

// NewTokenCache builds a cache using the given HTTP client for exchanges.
func NewTokenCache(httpClient *http.Client, opts ...Option) *TokenCache {
	c := &TokenCache{
		httpClient: httpClient,
		now:        time.Now,
		slots:      make(map[string]*slot),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds an upstream identity to the cache. Registering the same name
// twice replaces the configuration and drops any cached token.
func (c *TokenCache) Register(name string, upstream config.Upstream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slots[name] = &slot{name: name, upstream: upstream}
}

// GetToken returns a valid token for the named upstream, exchanging or
// refreshing as needed. Calls for the same upstream serialize on the slot
// mutex so a refresh window never issues duplicate exchanges.
func (c *TokenCache) GetToken(ctx context.Context, name string) (Token, error) {
	c.mu.RLock()
	s, ok := c.slots[name]
	c.mu.RUnlock()
	if !ok {
		return Token{}, mErrors.Newf(mErrors.CodeConfig, "unknown upstream %q", name)
	}
	if s.upstream.ClientID == "" || s.upstream.ClientSecret == "" {
		return Token{}, mErrors.Newf(mErrors.CodeConfig, "missing client credentials for upstream %q", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := c.now()
	if s.token != nil && !s.token.Expired(now) {
		return *s.token, nil
	}

	if s.token != nil && s.token.RefreshToken != "" {
		token, err := c.exchange(ctx, s, url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {s.token.RefreshToken},
			"client_id":     {s.upstream.ClientID},
			"client_secret": {s.upstream.ClientSecret},
		}, "refresh_token")
		if err == nil {
			s.token = &token
			return token, nil
		}
		if c.logger != nil {
			c.logger.WarnContext(ctx, "token refresh failed, falling back to client credentials",
				"upstream", name,
				"error", err,
			)
		}
	}

	token, err := c.exchange(ctx, s, url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {s.upstream.ClientID},
		"client_secret": {s.upstream.ClientSecret},
		"scope":         {s.upstream.Scope},
	}, "client_credentials")
	if err != nil {
		return Token{}, err
	}
	s.token = &token
	return token, nil
}

type tokenResponse struct {
	TokenType    string `json:"token_type"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    *int64 `json:"expires_in"`
}

func (c *TokenCache) exchange(ctx context.Context, s *slot, form url.Values, grant string) (Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(s.upstream.BaseURL, "/")+tokenPath,
		strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, mErrors.Wrap(err, mErrors.CodeAuth, "build token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Token{}, mErrors.Wrap(err, mErrors.CodeAuth, "token endpoint unreachable")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Token{}, mErrors.Wrap(err, mErrors.CodeAuth, "read token response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Token{}, mErrors.FromUpstream(mErrors.CodeAuth, resp.StatusCode, string(body))
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Token{}, mErrors.Wrap(err, mErrors.CodeAuth, "parse token response")
	}

	token := Token{
		TokenType:    parsed.TokenType,
		AccessToken:  parsed.AccessToken,
		RefreshToken: parsed.RefreshToken,
	}
	if parsed.ExpiresIn != nil {
		token.ExpiresAt = c.now().Add(time.Duration(*parsed.ExpiresIn) * time.Second)
	}

	if c.metrics != nil {
		c.metrics.ObserveTokenExchange(s.name, grant)
	}
	if c.logger != nil {
		c.logger.DebugContext(ctx, "token exchanged",
			"upstream", s.name,
			"grant", grant,
		)
	}
	return token, nil
}
