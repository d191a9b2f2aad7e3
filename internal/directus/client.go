// Package directus is a thin REST client for the Directus items and auth
// endpoints used by the budget and main sites.
//
// Every call is a single round trip: no retries and no client-side timeout.
// Cancellation comes from the caller's context. The bearer token is read
// from the context (see WithToken) and attached when present; a missing
// token still issues the request and the server decides.
package directus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

type tokenKey struct{}

// WithToken returns a context carrying the bearer token for gateway calls.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFrom returns the bearer token stored by WithToken, if any.
func TokenFrom(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey{}).(string)
	return token
}

type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger used for request failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a client for the Directus instance at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse directus url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("directus url %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the configured Directus URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// envelope is the {"data": ...} wrapper of every Directus response.
type envelope struct {
	Data json.RawMessage `json:"data"`
}

// call describes one request. collection is only used for error reporting;
// token overrides the one carried by the context.
type call struct {
	op         string
	collection string
	method     string
	path       string
	query      url.Values
	body       any
	token      string
}

// do performs the request and decodes the "data" member into out (if non-nil).
func (c *Client) do(ctx context.Context, cl call, out any) error {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + cl.path
	if len(cl.query) > 0 {
		u.RawQuery = cl.query.Encode()
	}

	var body io.Reader
	if cl.body != nil {
		buf, err := json.Marshal(cl.body)
		if err != nil {
			return fmt.Errorf("%s %s: encode body: %w", cl.op, cl.collection, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, u.String(), body)
	if err != nil {
		return fmt.Errorf("%s %s: build request: %w", cl.op, cl.collection, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token := cl.token
	if token == "" {
		token = TokenFrom(ctx)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "Directus request failed",
			"operation", cl.op,
			"collection", cl.collection,
			"error", err)
		return &Error{Op: cl.op, Collection: cl.collection, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Op: cl.op, Collection: cl.collection, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := newStatusError(cl.op, cl.collection, resp.StatusCode, raw)
		c.logger.WarnContext(ctx, "Directus returned an error",
			"operation", cl.op,
			"collection", cl.collection,
			"status_code", resp.StatusCode,
			"error", apiErr.Message)
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &Error{Op: cl.op, Collection: cl.collection, StatusCode: resp.StatusCode, Body: string(raw), Err: fmt.Errorf("decode envelope: %w", err)}
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &Error{Op: cl.op, Collection: cl.collection, StatusCode: resp.StatusCode, Body: string(raw), Err: fmt.Errorf("decode data: %w", err)}
	}
	return nil
}

// Ping checks that the Directus instance answers. Used by readiness checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, call{op: "ping", method: http.MethodGet, path: "/server/ping"}, nil)
}
