// Package llm generates video scripts through the OpenAI chat completions API.
package llm

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

const (
	providerName   = "openai"
	defaultBaseURL = "https://api.openai.com"
	defaultModel   = "gpt-4o-mini"
)

// Config holds LLM client configuration.
type Config struct {
	provider.Config
	Model string
}

// Client provides script generation.
type Client struct {
	api   *provider.Client
	model string
}

// New creates a new LLM client.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Client {
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	return &Client{
		api:   provider.NewClient(providerName, cfg.Config, defaultBaseURL, "Authorization", "Bearer ", logger, m),
		model: model,
	}
}

// ScriptRequest describes the video a script is written for.
type ScriptRequest struct {
	Topic      string
	Tone       string
	Influencer string
	MaxWords   int
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateScript asks the model for a spoken script and returns its text.
func (c *Client) GenerateScript(ctx context.Context, req ScriptRequest) (string, error) {
	if strings.TrimSpace(req.Topic) == "" {
		return "", errors.New("topic is required")
	}
	return c.Complete(ctx, []Message{
		{Role: "system", Content: systemPrompt(req)},
		{Role: "user", Content: req.Topic},
	})
}

// Complete runs a chat completion and returns the first choice.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	body := map[string]any{
		"model":       c.model,
		"messages":    messages,
		"temperature": 0.7,
	}
	var resp struct {
		Choices []struct {
			Message Message `json:"message"`
		} `json:"choices"`
	}
	if err := c.api.JSON(ctx, http.MethodPost, "/v1/chat/completions", "", body, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("openai returned an empty script")
	}
	return text, nil
}

func systemPrompt(req ScriptRequest) string {
	var b strings.Builder
	b.WriteString("You write short scripts for talking-head social videos. ")
	b.WriteString("Return only the words to be spoken, without stage directions, headings or emojis.")
	if req.Influencer != "" {
		fmt.Fprintf(&b, " The presenter is %s.", req.Influencer)
	}
	if req.Tone != "" {
		fmt.Fprintf(&b, " Use a %s tone.", req.Tone)
	}
	maxWords := req.MaxWords
	if maxWords <= 0 {
		maxWords = 150
	}
	fmt.Fprintf(&b, " Keep it under %d words.", maxWords)
	return b.String()
}
