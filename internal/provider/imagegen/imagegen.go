// Package imagegen is a client for the Black Forest Labs image API.
package imagegen

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"avatar-studio/internal/metrics"
	"avatar-studio/internal/poller"
	"avatar-studio/internal/provider"
)

const (
	providerName   = "bfl"
	defaultBaseURL = "https://api.bfl.ml"
	defaultModel   = "flux-pro-1.1"
)

// Aspect ratios accepted by Submit.
var aspectRatios = map[string][2]int{
	"1:1":  {1024, 1024},
	"16:9": {1344, 768},
	"9:16": {768, 1344},
	"4:3":  {1152, 896},
	"3:4":  {896, 1152},
}

// ValidAspectRatio reports whether ratio is supported.
func ValidAspectRatio(ratio string) bool {
	_, ok := aspectRatios[ratio]
	return ok
}

// Config holds image client configuration.
type Config struct {
	provider.Config
	Model string
}

// Client submits prompts and reads results.
type Client struct {
	api   *provider.Client
	model string
}

// New creates a new image generation client.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Client {
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	return &Client{
		api:   provider.NewClient(providerName, cfg.Config, defaultBaseURL, "x-key", "", logger, m),
		model: model,
	}
}

// Submit queues a generation and returns the request id.
func (c *Client) Submit(ctx context.Context, prompt, aspectRatio string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", errors.New("prompt is required")
	}
	if aspectRatio == "" {
		aspectRatio = "1:1"
	}
	size, ok := aspectRatios[aspectRatio]
	if !ok {
		return "", errors.New("unsupported aspect ratio " + aspectRatio)
	}
	body := map[string]any{
		"prompt": prompt,
		"width":  size[0],
		"height": size[1],
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.api.JSON(ctx, http.MethodPost, "/v1/"+url.PathEscape(c.model), "/v1/generate", body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", errors.New("bfl returned no request id")
	}
	return resp.ID, nil
}

// Result checks a request once. The result is the image URL.
func (c *Client) Result(ctx context.Context, requestID string) (poller.Status[string], error) {
	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Result *struct {
			Sample string `json:"sample"`
		} `json:"result"`
	}
	err := c.api.JSON(ctx, http.MethodGet, "/v1/get_result", "/v1/get_result", nil, &resp, provider.WithQuery("id", requestID))
	if err != nil {
		return poller.Status[string]{}, err
	}

	switch resp.Status {
	case "Ready":
		if resp.Result == nil || resp.Result.Sample == "" {
			return poller.Status[string]{State: poller.StateFailed, Error: "image ready without a sample"}, nil
		}
		return poller.Status[string]{State: poller.StateSucceeded, Result: resp.Result.Sample}, nil
	case "Content Moderated", "Request Moderated":
		return poller.Status[string]{State: poller.StateFailed, Error: "image blocked by content moderation"}, nil
	case "Error", "Failed", "Task not found":
		return poller.Status[string]{State: poller.StateFailed, Error: "image generation failed: " + resp.Status}, nil
	}
	return poller.Status[string]{State: poller.StatePending}, nil
}
