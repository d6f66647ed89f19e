package studio

import (
	"context"
	"fmt"
	"strings"

	v "github.com/go-ozzo/ozzo-validation/v4"

	"avatar-studio/internal/plan"
	"avatar-studio/internal/poller"
	"avatar-studio/internal/provider"
	"avatar-studio/internal/provider/avatar"
	"avatar-studio/internal/repo"
)

// Influencers manages avatars, their voices, looks and motion variants.
type Influencers struct {
	*base
}

// CreateInfluencerInput registers an avatar rendered from an existing
// template.
type CreateInfluencerInput struct {
	Name       string `json:"name"`
	TemplateID string `json:"template_id"`
	VoiceID    string `json:"voice_id"`
	PreviewURL string `json:"preview_url"`
}

// Validate checks the create payload.
func (in CreateInfluencerInput) Validate() error {
	return v.ValidateStruct(&in,
		v.Field(&in.Name, v.Required, v.Length(1, 80)),
		v.Field(&in.TemplateID, v.Required),
	)
}

// Create stores a ready influencer and counts it against the avatar limit.
func (s *Influencers) Create(ctx context.Context, userID string, in CreateInfluencerInput) (*repo.Influencer, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if err := s.Gate.Check(ctx, userID, plan.Avatars, 1); err != nil {
		return nil, err
	}

	inf := repo.Influencer{
		UserID:     userID,
		Name:       in.Name,
		TemplateID: in.TemplateID,
		Status:     repo.InfluencerCompleted,
	}
	if in.VoiceID != "" {
		inf.VoiceID = repo.Ptr(in.VoiceID)
	}
	if in.PreviewURL != "" {
		inf.PreviewURL = repo.Ptr(in.PreviewURL)
	}
	created, err := s.Store.InsertInfluencer(ctx, inf)
	if err != nil {
		return nil, err
	}
	s.bumpUsage(ctx, userID, repo.UsageAvatars, 1)
	s.logger.Info("influencer created", "user_id", userID, "influencer_id", created.ID)
	return created, nil
}

// List returns the user's influencers, newest first.
func (s *Influencers) List(ctx context.Context, userID string) ([]repo.Influencer, error) {
	return s.Store.ListInfluencers(ctx, userID)
}

// Get returns one influencer owned by userID.
func (s *Influencers) Get(ctx context.Context, userID, id string) (*repo.Influencer, error) {
	return s.ownedInfluencer(ctx, userID, id)
}

// Delete removes an influencer, stops its polls and frees the avatar slot.
func (s *Influencers) Delete(ctx context.Context, userID, id string) error {
	inf, err := s.ownedInfluencer(ctx, userID, id)
	if err != nil {
		return err
	}
	if s.Tracker != nil {
		s.Tracker.Cancel(repo.Deref(inf.JobID))
		contents, err := s.Store.ListContents(ctx, id)
		if err != nil {
			return err
		}
		for _, c := range contents {
			s.Tracker.Cancel(repo.Deref(c.JobID))
		}
	}
	if err := s.Store.DeleteInfluencer(ctx, id); err != nil {
		return err
	}
	s.bumpUsage(ctx, userID, repo.UsageAvatars, -1)
	s.logger.Info("influencer deleted", "user_id", userID, "influencer_id", id)
	return nil
}

// AssignVoice sets the voice used for the influencer's videos.
func (s *Influencers) AssignVoice(ctx context.Context, userID, id, voiceID string) (*repo.Influencer, error) {
	if err := v.Validate(voiceID, v.Required); err != nil {
		return nil, v.Errors{"voice_id": err}
	}
	if _, err := s.ownedInfluencer(ctx, userID, id); err != nil {
		return nil, err
	}
	if err := s.Store.UpdateInfluencer(ctx, id, repo.InfluencerUpdate{VoiceID: repo.Ptr(voiceID)}); err != nil {
		return nil, err
	}
	return s.Store.GetInfluencer(ctx, id)
}

// CreateVoiceInput designs a synthetic voice from a description.
type CreateVoiceInput struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	SampleText   string `json:"sample_text"`
	InfluencerID string `json:"influencer_id"`
}

// Validate checks the voice payload.
func (in CreateVoiceInput) Validate() error {
	return v.ValidateStruct(&in,
		v.Field(&in.Name, v.Required, v.Length(1, 80)),
		v.Field(&in.Description, v.Required, v.Length(20, 1000)),
		v.Field(&in.SampleText, v.Length(100, 1000)),
	)
}

// Voice is a created synthetic voice.
type Voice struct {
	VoiceID   string `json:"voice_id"`
	PreviewID string `json:"preview_id"`
}

// CreateVoice generates previews, keeps the first one as a permanent voice
// and optionally assigns it to an influencer. It counts as an AI clone.
func (s *Influencers) CreateVoice(ctx context.Context, userID string, in CreateVoiceInput) (*Voice, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if s.Voice == nil {
		return nil, fmt.Errorf("voice design: %w", provider.ErrNotConfigured)
	}
	if in.InfluencerID != "" {
		if _, err := s.ownedInfluencer(ctx, userID, in.InfluencerID); err != nil {
			return nil, err
		}
	}
	if err := s.Gate.Check(ctx, userID, plan.AIClones, 1); err != nil {
		return nil, err
	}

	previews, err := s.Voice.DesignPreviews(ctx, in.Description, in.SampleText)
	if err != nil {
		return nil, fmt.Errorf("design voice: %w", err)
	}
	previewID := previews[0].GeneratedVoiceID
	voiceID, err := s.Voice.CreateFromPreview(ctx, in.Name, in.Description, previewID)
	if err != nil {
		return nil, fmt.Errorf("create voice: %w", err)
	}
	s.bumpUsage(ctx, userID, repo.UsageAIClones, 1)

	if in.InfluencerID != "" {
		if err := s.Store.UpdateInfluencer(ctx, in.InfluencerID, repo.InfluencerUpdate{VoiceID: repo.Ptr(voiceID)}); err != nil {
			return nil, err
		}
	}
	s.logger.Info("voice created", "user_id", userID, "voice_id", voiceID)
	return &Voice{VoiceID: voiceID, PreviewID: previewID}, nil
}

// LookInput requests a new appearance for an influencer.
type LookInput struct {
	Name        string `json:"name"`
	Prompt      string `json:"prompt"`
	Orientation string `json:"orientation"`
	Pose        string `json:"pose"`
	Style       string `json:"style"`
}

// Validate checks the look payload.
func (in LookInput) Validate() error {
	return v.ValidateStruct(&in,
		v.Field(&in.Prompt, v.Required, v.Length(3, 1000)),
		v.Field(&in.Orientation, v.In("", "square", "horizontal", "vertical")),
		v.Field(&in.Pose, v.In("", "half_body", "close_up", "full_body")),
	)
}

// GenerateLook creates a pending child influencer pointing at parentID and
// polls the look generation in the background: completed with a preview on
// success, failed with the upstream message otherwise.
func (s *Influencers) GenerateLook(ctx context.Context, userID, parentID string, in LookInput) (*repo.Influencer, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	parent, err := s.ownedInfluencer(ctx, userID, parentID)
	if err != nil {
		return nil, err
	}
	if parent.Status != repo.InfluencerCompleted {
		return nil, fmt.Errorf("%w: status is %s", ErrNotReady, parent.Status)
	}
	if err := s.Gate.Check(ctx, userID, plan.Avatars, 1); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = parent.Name + " look"
	}
	child, err := s.Store.InsertInfluencer(ctx, repo.Influencer{
		UserID:     userID,
		Name:       name,
		TemplateID: parent.TemplateID,
		VoiceID:    parent.VoiceID,
		LookID:     repo.Ptr(parent.ID),
		Status:     repo.InfluencerPending,
	})
	if err != nil {
		return nil, err
	}
	s.bumpUsage(ctx, userID, repo.UsageAvatars, 1)

	jobID, err := s.Avatar.GenerateLook(ctx, avatar.LookRequest{
		GroupID:     parent.TemplateID,
		Prompt:      in.Prompt,
		Orientation: in.Orientation,
		Pose:        in.Pose,
		Style:       in.Style,
	})
	if err != nil {
		s.markInfluencerFailed(child.ID, err)
		return nil, fmt.Errorf("generate look: %w", err)
	}
	if err := s.Store.UpdateInfluencer(ctx, child.ID, repo.InfluencerUpdate{JobID: repo.Ptr(jobID)}); err != nil {
		return nil, err
	}
	child.JobID = repo.Ptr(jobID)

	err = poller.Start(s.Tracker, jobID, s.Avatar.LookStatus, s.Polls.Look, func(res poller.Result[avatar.LookResult]) {
		s.finishLook(child.ID, res)
	})
	if err != nil {
		s.markInfluencerFailed(child.ID, err)
		return nil, fmt.Errorf("track look: %w", err)
	}
	return child, nil
}

func (s *Influencers) finishLook(id string, res poller.Result[avatar.LookResult]) {
	switch res.State {
	case poller.StateCanceled:
		return
	case poller.StateSucceeded:
		upd := repo.InfluencerUpdate{Status: repo.Ptr(repo.InfluencerCompleted)}
		if len(res.Value.ImageURLs) > 0 {
			upd.PreviewURL = repo.Ptr(res.Value.ImageURLs[0])
		}
		if len(res.Value.ImageKeys) > 0 {
			upd.TemplateID = repo.Ptr(res.Value.ImageKeys[0])
		}
		s.updateInfluencerBackground(id, upd)
	default:
		s.markInfluencerFailed(id, res.Err)
	}
}

// AddMotion animates a photo influencer. The status moves to pending_motion,
// then motion_training while the upstream job runs, and finally completed
// (with the motion avatar as template) or failed.
func (s *Influencers) AddMotion(ctx context.Context, userID, id string) (*repo.Influencer, error) {
	inf, err := s.ownedInfluencer(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if inf.Status != repo.InfluencerCompleted {
		return nil, fmt.Errorf("%w: status is %s", ErrNotReady, inf.Status)
	}

	if err := s.Store.UpdateInfluencer(ctx, id, repo.InfluencerUpdate{Status: repo.Ptr(repo.InfluencerPendingMotion)}); err != nil {
		return nil, err
	}
	motionID, err := s.Avatar.AddMotion(ctx, inf.TemplateID)
	if err != nil {
		s.markInfluencerFailed(id, err)
		return nil, fmt.Errorf("add motion: %w", err)
	}
	if err := s.Store.UpdateInfluencer(ctx, id, repo.InfluencerUpdate{JobID: repo.Ptr(motionID)}); err != nil {
		return nil, err
	}

	cfg := s.Polls.Motion
	cfg.OnPending = func(attempt int) {
		if attempt == 1 {
			s.updateInfluencerBackground(id, repo.InfluencerUpdate{Status: repo.Ptr(repo.InfluencerMotionTraining)})
		}
	}
	err = poller.Start(s.Tracker, motionID, s.Avatar.MotionStatus, cfg, func(res poller.Result[avatar.MotionResult]) {
		s.finishMotion(id, res)
	})
	if err != nil {
		s.markInfluencerFailed(id, err)
		return nil, fmt.Errorf("track motion: %w", err)
	}
	return s.Store.GetInfluencer(ctx, id)
}

func (s *Influencers) finishMotion(id string, res poller.Result[avatar.MotionResult]) {
	switch res.State {
	case poller.StateCanceled:
		return
	case poller.StateSucceeded:
		upd := repo.InfluencerUpdate{Status: repo.Ptr(repo.InfluencerCompleted)}
		if res.Value.ID != "" {
			upd.TemplateID = repo.Ptr(res.Value.ID)
		}
		if res.Value.PreviewURL != "" {
			upd.PreviewURL = repo.Ptr(res.Value.PreviewURL)
		}
		s.updateInfluencerBackground(id, upd)
	default:
		s.markInfluencerFailed(id, res.Err)
	}
}

func (s *Influencers) markInfluencerFailed(id string, cause error) {
	msg := "generation failed"
	if cause != nil {
		msg = errorText(cause)
	}
	s.updateInfluencerBackground(id, repo.InfluencerUpdate{
		Status: repo.Ptr(repo.InfluencerFailed),
		Error:  repo.Ptr(msg),
	})
}

// updateInfluencerBackground runs outside any request context.
func (s *Influencers) updateInfluencerBackground(id string, upd repo.InfluencerUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := s.Store.UpdateInfluencer(ctx, id, upd); err != nil {
		s.logger.Error("update influencer failed", "influencer_id", id, "error", err)
		s.Metrics.Error("studio")
	}
}
