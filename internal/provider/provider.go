// Package provider holds the HTTP plumbing shared by the third-party
// generation API clients.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"avatar-studio/internal/metrics"
)

var (
	// ErrInvalidCredential indicates the upstream rejected the API key.
	ErrInvalidCredential = errors.New("provider invalid credential")
	// ErrRateLimited indicates the upstream throttled the request.
	ErrRateLimited = errors.New("provider rate limited")
	// ErrNotConfigured is returned when a client has no API key.
	ErrNotConfigured = errors.New("provider not configured")
)

// UpstreamError is a non-2xx answer carrying the upstream message.
type UpstreamError struct {
	Provider string
	Status   int
	Message  string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s error: status=%d message=%s", e.Provider, e.Status, e.Message)
}

// Config holds the settings every client shares.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// RequestOption adjusts a single request.
type RequestOption func(*resty.Request)

// WithHeader sets a request header.
func WithHeader(key, value string) RequestOption {
	return func(r *resty.Request) {
		r.SetHeader(key, value)
	}
}

// WithQuery sets a query parameter.
func WithQuery(key, value string) RequestOption {
	return func(r *resty.Request) {
		r.SetQueryParam(key, value)
	}
}

// Client wraps resty with per-endpoint metrics and error classification.
type Client struct {
	name    string
	http    *resty.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
	hasKey  bool
}

// NewClient builds a client for the named provider. authHeader receives the
// API key verbatim; use "Authorization" with a "Bearer " prefixed key where
// needed.
func NewClient(name string, cfg Config, defaultBaseURL, authHeader, authPrefix string, logger *slog.Logger, m *metrics.Metrics) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	rc := resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "avatar-studio/"+name)
	if cfg.APIKey != "" {
		rc.SetHeader(authHeader, authPrefix+cfg.APIKey)
	}

	return &Client{
		name:    name,
		http:    rc,
		logger:  logger.With("component", name),
		metrics: m,
		hasKey:  cfg.APIKey != "",
	}
}

// JSON sends body (if non-nil) as JSON and decodes the answer into dest (if
// non-nil). label names the endpoint in metrics so path ids stay out of
// label values.
func (c *Client) JSON(ctx context.Context, method, path, label string, body, dest any, opts ...RequestOption) error {
	raw, err := c.Raw(ctx, method, path, label, body, opts...)
	if err != nil {
		return err
	}
	if dest == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", c.name, label, err)
	}
	return nil
}

// Raw sends the request and returns the response body as-is.
func (c *Client) Raw(ctx context.Context, method, path, label string, body any, opts ...RequestOption) ([]byte, error) {
	if !c.hasKey {
		return nil, fmt.Errorf("%s: %w", c.name, ErrNotConfigured)
	}
	if label == "" {
		label = path
	}

	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	for _, opt := range opts {
		opt(req)
	}

	start := time.Now()
	resp, err := req.Execute(method, path)
	if err != nil {
		c.metrics.ObserveProvider(c.name, label, "error", time.Since(start))
		return nil, fmt.Errorf("%s request %s: %w", c.name, label, err)
	}
	c.metrics.ObserveProvider(c.name, label, strconv.Itoa(resp.StatusCode()), time.Since(start))

	if resp.StatusCode() >= 400 {
		err := ClassifyHTTPError(c.name, resp.StatusCode(), resp.Body())
		c.logger.Warn("upstream request failed", "endpoint", label, "status", resp.StatusCode(), "error", err)
		return nil, err
	}
	return resp.Body(), nil
}

// ClassifyHTTPError maps an error response onto the package sentinels or an
// UpstreamError.
func ClassifyHTTPError(provider string, status int, body []byte) error {
	message := ExtractMessage(body)
	lower := strings.ToLower(message)
	switch {
	case status == http.StatusUnauthorized,
		strings.Contains(lower, "invalid api key"),
		strings.Contains(lower, "invalid_api_key"),
		strings.Contains(lower, "api key is invalid"):
		return fmt.Errorf("%w: %s: %s", ErrInvalidCredential, provider, message)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s: %s", ErrRateLimited, provider, message)
	}
	return &UpstreamError{Provider: provider, Status: status, Message: message}
}

// ExtractMessage pulls a human readable message out of an error body. The
// providers use "message", "error" (string or object) or "detail".
func ExtractMessage(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return ""
	}
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(body, &generic); err != nil {
		return trimmed
	}
	for _, key := range []string{"message", "error", "detail"} {
		raw, ok := generic[key]
		if !ok || string(raw) == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s != "" {
				return s
			}
			continue
		}
		if nested := ExtractMessage(raw); nested != "" {
			return nested
		}
	}
	return trimmed
}
