package studio

import (
	"context"
	"fmt"

	v "github.com/go-ozzo/ozzo-validation/v4"

	"avatar-studio/internal/poller"
	"avatar-studio/internal/provider"
)

// Images generates still images synchronously.
type Images struct {
	*base
}

// ImageInput is an image request.
type ImageInput struct {
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio"`
}

// Validate checks the image request.
func (in ImageInput) Validate() error {
	return v.ValidateStruct(&in,
		v.Field(&in.Prompt, v.Required, v.Length(3, 2000)),
		v.Field(&in.AspectRatio, v.In("", "1:1", "16:9", "9:16", "4:3", "3:4")),
	)
}

// Image is a finished generation.
type Image struct {
	RequestID string `json:"request_id"`
	URL       string `json:"url"`
	Attempts  int    `json:"attempts"`
}

// Generate submits the prompt and waits for the result. The poll stops when
// ctx is done, e.g. when the HTTP client goes away.
func (s *Images) Generate(ctx context.Context, userID string, in ImageInput) (*Image, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if s.Images == nil {
		return nil, fmt.Errorf("image generation: %w", provider.ErrNotConfigured)
	}
	requestID, err := s.base.Images.Submit(ctx, in.Prompt, in.AspectRatio)
	if err != nil {
		return nil, fmt.Errorf("submit image: %w", err)
	}

	s.Metrics.PollStarted()
	res := poller.Poll(ctx, requestID, s.base.Images.Result, s.Polls.Image)
	s.Metrics.PollFinished()
	s.Metrics.ObservePoll(s.Polls.Image.Kind, string(res.State), res.Attempts)

	if res.Err != nil {
		return nil, fmt.Errorf("image %s: %w", requestID, res.Err)
	}
	s.logger.Info("image generated", "user_id", userID, "request_id", requestID, "attempts", res.Attempts)
	return &Image{RequestID: requestID, URL: res.Value, Attempts: res.Attempts}, nil
}
