// Package voice is a client for the ElevenLabs text-to-speech API.
package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"avatar-studio/internal/metrics"
	"avatar-studio/internal/provider"
)

const (
	providerName   = "elevenlabs"
	defaultBaseURL = "https://api.elevenlabs.io"
	defaultModel   = "eleven_multilingual_v2"
	outputFormat   = "mp3_44100_128"
)

// Config holds voice client configuration.
type Config struct {
	provider.Config
	ModelID string
}

// Client provides typed access to the TTS API.
type Client struct {
	api   *provider.Client
	model string
}

// New creates a new voice client.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Client {
	model := cfg.ModelID
	if model == "" {
		model = defaultModel
	}
	return &Client{
		api:   provider.NewClient(providerName, cfg.Config, defaultBaseURL, "xi-api-key", "", logger, m),
		model: model,
	}
}

// Synthesize renders text with voiceID and returns MP3 bytes.
func (c *Client) Synthesize(ctx context.Context, voiceID, text string) ([]byte, error) {
	if voiceID == "" {
		return nil, errors.New("voice id is required")
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("text is required")
	}
	body := map[string]any{
		"text":     text,
		"model_id": c.model,
	}
	audio, err := c.api.Raw(ctx, http.MethodPost, "/v1/text-to-speech/"+url.PathEscape(voiceID), "/v1/text-to-speech", body,
		provider.WithHeader("Accept", "audio/mpeg"),
		provider.WithQuery("output_format", outputFormat),
	)
	if err != nil {
		return nil, err
	}
	if len(audio) == 0 {
		return nil, errors.New("elevenlabs returned empty audio")
	}
	return audio, nil
}

// Preview is a candidate voice produced from a description.
type Preview struct {
	GeneratedVoiceID string  `json:"generated_voice_id"`
	MediaType        string  `json:"media_type"`
	DurationSecs     float64 `json:"duration_secs"`
	AudioBase64      string  `json:"audio_base_64"`
}

// Audio decodes the preview sample.
func (p Preview) Audio() ([]byte, error) {
	return base64.StdEncoding.DecodeString(p.AudioBase64)
}

// DesignPreviews generates voice candidates matching description, reading
// sampleText. ElevenLabs requires at least 100 characters of sample text.
func (c *Client) DesignPreviews(ctx context.Context, description, sampleText string) ([]Preview, error) {
	if strings.TrimSpace(description) == "" {
		return nil, errors.New("voice description is required")
	}
	body := map[string]any{"voice_description": description}
	if strings.TrimSpace(sampleText) != "" {
		body["text"] = sampleText
	} else {
		body["auto_generate_text"] = true
	}
	var resp struct {
		Previews []Preview `json:"previews"`
	}
	if err := c.api.JSON(ctx, http.MethodPost, "/v1/text-to-voice/create-previews", "", body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Previews) == 0 {
		return nil, errors.New("elevenlabs returned no voice previews")
	}
	return resp.Previews, nil
}

// CreateFromPreview turns a generated preview into a permanent voice and
// returns its id.
func (c *Client) CreateFromPreview(ctx context.Context, name, description, generatedVoiceID string) (string, error) {
	if name == "" || generatedVoiceID == "" {
		return "", errors.New("voice name and preview id are required")
	}
	body := map[string]string{
		"voice_name":         name,
		"voice_description":  description,
		"generated_voice_id": generatedVoiceID,
	}
	var resp struct {
		VoiceID string `json:"voice_id"`
	}
	if err := c.api.JSON(ctx, http.MethodPost, "/v1/text-to-voice/create-voice-from-preview", "", body, &resp); err != nil {
		return "", err
	}
	if resp.VoiceID == "" {
		return "", fmt.Errorf("elevenlabs returned no voice id for preview %s", generatedVoiceID)
	}
	return resp.VoiceID, nil
}

// Voice is a voice available to the account.
type Voice struct {
	ID         string            `json:"voice_id"`
	Name       string            `json:"name"`
	Category   string            `json:"category"`
	Labels     map[string]string `json:"labels"`
	PreviewURL string            `json:"preview_url"`
}

// ListVoices returns premade, cloned and generated voices.
func (c *Client) ListVoices(ctx context.Context) ([]Voice, error) {
	var resp struct {
		Voices []Voice `json:"voices"`
	}
	if err := c.api.JSON(ctx, http.MethodGet, "/v1/voices", "/v1/voices", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Voices, nil
}
