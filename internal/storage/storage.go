// Package storage uploads files to Supabase storage buckets.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"avatar-studio/internal/metrics"
	"avatar-studio/internal/provider"
)

// Buckets used by the studio.
const (
	BucketAudio  = "audio_files"
	BucketVideos = "videos"
)


// Client uploads objects and derives their public URLs.
type Client struct {
	api     *provider.Client
	baseURL string
	apiKey  string
}

// New creates a storage client for the Supabase project at url.
func New(projectURL, serviceKey string, logger *slog.Logger, m *metrics.Metrics) *Client {
	base := strings.TrimRight(projectURL, "/")
	return &Client{
		api:     provider.NewClient("supabase_storage", provider.Config{BaseURL: base, APIKey: serviceKey}, base, "Authorization", "Bearer ", logger, m),
		baseURL: base,
		apiKey:  serviceKey,
	}
}

// Upload stores data at bucket/path, replacing any existing object, and
// returns the public URL.
func (c *Client) Upload(ctx context.Context, bucket, path, contentType string, data []byte) (string, error) {
	if bucket == "" || path == "" {
		return "", errors.New("bucket and path are required")
	}
	if len(data) == 0 {
		return "", errors.New("refusing to upload an empty object")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	path = strings.TrimLeft(path, "/")

	_, err := c.api.Raw(ctx, http.MethodPost, "/storage/v1/object/"+bucket+"/"+path, "/storage/v1/object", data,
		provider.WithHeader("Content-Type", contentType),
		provider.WithHeader("apikey", c.apiKey),
		provider.WithHeader("x-upsert", "true"),
	)
	if err != nil {
		return "", fmt.Errorf("upload %s/%s: %w", bucket, path, err)
	}
	return c.PublicURL(bucket, path), nil
}

// PublicURL returns the public object URL for bucket/path.
func (c *Client) PublicURL(bucket, path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", c.baseURL, bucket, strings.TrimLeft(path, "/"))
}
