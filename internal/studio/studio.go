// Package studio implements the user-facing actions: influencers, contents,
// images, translations, automations and accounts. Every action returns its
// result explicitly; persistence stays behind repo.Repository.
package studio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"avatar-studio/internal/automation"
	"avatar-studio/internal/metrics"
	"avatar-studio/internal/plan"
	"avatar-studio/internal/poller"
	"avatar-studio/internal/provider/avatar"
	"avatar-studio/internal/provider/llm"
	"avatar-studio/internal/provider/voice"
	"avatar-studio/internal/repo"
)

// ErrNotReady is returned when an influencer cannot be used yet.
var ErrNotReady = errors.New("influencer is not ready")

// AvatarAPI renders videos, looks, motions and translations.
type AvatarAPI interface {
	GenerateVideo(ctx context.Context, req avatar.VideoRequest) (string, error)
	VideoStatus(ctx context.Context, videoID string) (poller.Status[avatar.VideoResult], error)
	GenerateLook(ctx context.Context, req avatar.LookRequest) (string, error)
	LookStatus(ctx context.Context, generationID string) (poller.Status[avatar.LookResult], error)
	AddMotion(ctx context.Context, avatarID string) (string, error)
	MotionStatus(ctx context.Context, avatarID string) (poller.Status[avatar.MotionResult], error)
	TranslateVideo(ctx context.Context, req avatar.TranslateRequest) (string, error)
	TranslationStatus(ctx context.Context, translateID string) (poller.Status[string], error)
}

// VoiceAPI synthesizes speech and designs voices.
type VoiceAPI interface {
	Synthesize(ctx context.Context, voiceID, text string) ([]byte, error)
	DesignPreviews(ctx context.Context, description, sampleText string) ([]voice.Preview, error)
	CreateFromPreview(ctx context.Context, name, description, generatedVoiceID string) (string, error)
}

// ScriptWriter drafts scripts.
type ScriptWriter interface {
	GenerateScript(ctx context.Context, req llm.ScriptRequest) (string, error)
}

// ImageAPI generates still images.
type ImageAPI interface {
	Submit(ctx context.Context, prompt, aspectRatio string) (string, error)
	Result(ctx context.Context, requestID string) (poller.Status[string], error)
}

// Uploader stores files publicly.
type Uploader interface {
	Upload(ctx context.Context, bucket, path, contentType string, data []byte) (string, error)
}

// Notifier delivers automation events.
type Notifier interface {
	VideoCompleted(ctx context.Context, content repo.Content, influencer repo.Influencer) []automation.Delivery
}

// Gate checks plan limits.
type Gate interface {
	Check(ctx context.Context, userID string, res plan.Resource, amount int) error
	Summary(ctx context.Context, userID string) (*plan.Summary, error)
}

// PollSettings configures each kind of job poll.
type PollSettings struct {
	Video       poller.Config
	Look        poller.Config
	Motion      poller.Config
	Image       poller.Config
	Translation poller.Config
}

// Deps wires the studio. Voice, Storage, LLM and Images may be nil when the
// matching provider is not configured.
type Deps struct {
	Store       repo.Repository
	Gate        Gate
	Avatar      AvatarAPI
	Voice       VoiceAPI
	LLM         ScriptWriter
	Images      ImageAPI
	Storage     Uploader
	AudioBucket string
	Notifier    Notifier
	Tracker     *poller.Tracker
	Polls       PollSettings
	// PublicBaseURL prefixes derived inbound webhook URLs.
	PublicBaseURL string
	// TranslationRetention is how long finished translations stay queryable.
	TranslationRetention time.Duration
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

// Studio groups the services.
type Studio struct {
	Users        *Users
	Influencers  *Influencers
	Contents     *Contents
	Images       *Images
	Translations *Translations
	Webhooks     *Webhooks
}

type base struct {
	Deps
	logger *slog.Logger
}

// New builds every service on top of deps.
func New(deps Deps) *Studio {
	if deps.AudioBucket == "" {
		deps.AudioBucket = "audio_files"
	}
	if deps.TranslationRetention <= 0 {
		deps.TranslationRetention = 24 * time.Hour
	}
	b := &base{Deps: deps, logger: deps.Logger.With("component", "studio")}
	contents := &Contents{base: b}
	return &Studio{
		Users:        &Users{base: b},
		Influencers:  &Influencers{base: b},
		Contents:     contents,
		Images:       &Images{base: b},
		Translations: newTranslations(b),
		Webhooks:     &Webhooks{base: b, contents: contents},
	}
}

// ownedInfluencer loads an influencer and hides ones owned by someone else.
func (b *base) ownedInfluencer(ctx context.Context, userID, id string) (*repo.Influencer, error) {
	inf, err := b.Store.GetInfluencer(ctx, id)
	if err != nil {
		return nil, err
	}
	if inf.UserID != userID {
		return nil, fmt.Errorf("influencer %s: %w", id, repo.ErrNotFound)
	}
	return inf, nil
}

func (b *base) ownedContent(ctx context.Context, userID, id string) (*repo.Content, error) {
	c, err := b.Store.GetContent(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.UserID != userID {
		return nil, fmt.Errorf("content %s: %w", id, repo.ErrNotFound)
	}
	return c, nil
}

func (b *base) ownedWebhook(ctx context.Context, userID, id string) (*repo.Webhook, error) {
	w, err := b.Store.GetWebhook(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.UserID != userID {
		return nil, fmt.Errorf("webhook %s: %w", id, repo.ErrNotFound)
	}
	return w, nil
}

func (b *base) bumpUsage(ctx context.Context, userID string, field repo.UsageField, delta int) {
	if err := b.Store.IncrementUsage(ctx, userID, field, delta); err != nil {
		b.logger.Error("update usage failed", "user_id", userID, "field", field, "delta", delta, "error", err)
		b.Metrics.Error("usage")
	}
}

func errorText(err error) string {
	var jobErr *poller.JobFailedError
	if errors.As(err, &jobErr) && jobErr.Message != "" {
		return jobErr.Message
	}
	return err.Error()
}
