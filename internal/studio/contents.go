package studio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	v "github.com/go-ozzo/ozzo-validation/v4"

	"avatar-studio/internal/plan"
	"avatar-studio/internal/poller"
	"avatar-studio/internal/provider"
	"avatar-studio/internal/provider/avatar"
	"avatar-studio/internal/provider/llm"
	"avatar-studio/internal/repo"
)

const (
	// WordsPerMinute is the speaking rate used to estimate video length.
	WordsPerMinute = 150
	storeTimeout   = 30 * time.Second
)

// EstimateMinutes returns the billed length of a script, at least one minute.
func EstimateMinutes(script string) int {
	words := len(strings.Fields(script))
	return max(1, int(math.Ceil(float64(words)/WordsPerMinute)))
}

// Contents manages scripted videos.
type Contents struct {
	*base
}

// ScriptInput asks the LLM for a draft.
type ScriptInput struct {
	Topic        string `json:"topic"`
	Tone         string `json:"tone"`
	InfluencerID string `json:"influencer_id"`
	MaxWords     int    `json:"max_words"`
}

// Validate checks the script request.
func (in ScriptInput) Validate() error {
	return v.ValidateStruct(&in,
		v.Field(&in.Topic, v.Required, v.Length(3, 2000)),
		v.Field(&in.MaxWords, v.Min(0), v.Max(1500)),
	)
}

// GenerateScript drafts a script, voiced for the influencer when given.
func (s *Contents) GenerateScript(ctx context.Context, userID string, in ScriptInput) (string, error) {
	if err := in.Validate(); err != nil {
		return "", err
	}
	if s.LLM == nil {
		return "", fmt.Errorf("script generation: %w", provider.ErrNotConfigured)
	}
	req := llm.ScriptRequest{Topic: in.Topic, Tone: in.Tone, MaxWords: in.MaxWords}
	if in.InfluencerID != "" {
		inf, err := s.ownedInfluencer(ctx, userID, in.InfluencerID)
		if err != nil {
			return "", err
		}
		req.Influencer = inf.Name
	}
	script, err := s.LLM.GenerateScript(ctx, req)
	if err != nil {
		return "", fmt.Errorf("generate script: %w", err)
	}
	return script, nil
}

// CreateContentInput is a video request.
type CreateContentInput struct {
	Title  string `json:"title"`
	Script string `json:"script"`
}

// Validate checks the video request.
func (in CreateContentInput) Validate() error {
	return v.ValidateStruct(&in,
		v.Field(&in.Title, v.Required, v.Length(1, 200)),
		v.Field(&in.Script, v.Required, v.Length(1, 10000)),
	)
}

// Create stores a generating content item, submits the render and polls it
// in the background until it completes or fails.
func (s *Contents) Create(ctx context.Context, userID, influencerID string, in CreateContentInput) (*repo.Content, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Script = strings.TrimSpace(in.Script)
	if err := in.Validate(); err != nil {
		return nil, err
	}
	inf, err := s.ownedInfluencer(ctx, userID, influencerID)
	if err != nil {
		return nil, err
	}
	if inf.Status != repo.InfluencerCompleted {
		return nil, fmt.Errorf("%w: status is %s", ErrNotReady, inf.Status)
	}

	minutes := EstimateMinutes(in.Script)
	if err := s.Gate.Check(ctx, userID, plan.VideoMinutes, minutes); err != nil {
		return nil, err
	}

	content, err := s.Store.InsertContent(ctx, repo.Content{
		UserID:          userID,
		InfluencerID:    inf.ID,
		Title:           in.Title,
		Script:          in.Script,
		Status:          repo.ContentGenerating,
		DurationMinutes: minutes,
	})
	if err != nil {
		return nil, err
	}

	jobID, err := s.submit(ctx, content, inf)
	if err != nil {
		s.fail(content.ID, err)
		return nil, fmt.Errorf("submit video: %w", err)
	}
	if err := s.Store.UpdateContent(ctx, content.ID, repo.ContentUpdate{JobID: repo.Ptr(jobID)}); err != nil {
		return nil, err
	}
	content.JobID = repo.Ptr(jobID)

	if err := s.track(content.ID, jobID); err != nil {
		return nil, err
	}
	s.logger.Info("video submitted", "user_id", userID, "content_id", content.ID, "job_id", jobID, "minutes", minutes)
	return content, nil
}

// submit renders speech first when the influencer has its own voice and
// audio hosting is configured; otherwise the renderer voices the script.
func (s *Contents) submit(ctx context.Context, content *repo.Content, inf *repo.Influencer) (string, error) {
	req := avatar.VideoRequest{
		AvatarID: inf.TemplateID,
		Script:   content.Script,
		Title:    content.Title,
	}
	if inf.VoiceID != nil && s.Voice != nil && s.Storage != nil {
		audio, err := s.Voice.Synthesize(ctx, *inf.VoiceID, content.Script)
		if err != nil {
			return "", fmt.Errorf("synthesize: %w", err)
		}
		path := fmt.Sprintf("%s/%s.mp3", content.UserID, content.ID)
		audioURL, err := s.Storage.Upload(ctx, s.AudioBucket, path, "audio/mpeg", audio)
		if err != nil {
			return "", err
		}
		req.AudioURL = audioURL
	}
	return s.Avatar.GenerateVideo(ctx, req)
}

func (s *Contents) track(contentID, jobID string) error {
	err := poller.Start(s.Tracker, jobID, s.Avatar.VideoStatus, s.Polls.Video, func(res poller.Result[avatar.VideoResult]) {
		s.finish(contentID, res)
	})
	if err != nil && !errors.Is(err, poller.ErrAlreadyPolling) {
		return fmt.Errorf("track video: %w", err)
	}
	return nil
}

// finish applies a terminal poll result once. Contents that already left the
// generating state (deleted, swept) are not touched again.
func (s *Contents) finish(contentID string, res poller.Result[avatar.VideoResult]) {
	if res.State == poller.StateCanceled {
		return
	}
	upd := repo.ContentUpdate{}
	if res.State == poller.StateSucceeded {
		upd.Status = repo.Ptr(repo.ContentCompleted)
		upd.VideoURL = repo.Ptr(res.Value.VideoURL)
	} else {
		upd.Status = repo.Ptr(repo.ContentFailed)
		upd.Error = repo.Ptr(errorText(res.Err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	content, ok := s.transition(ctx, contentID, upd)
	if !ok {
		return
	}
	if res.State == poller.StateSucceeded {
		s.bumpUsage(ctx, content.UserID, repo.UsageVideoMinutes, content.DurationMinutes)
		s.logger.Info("video completed", "content_id", contentID, "attempts", res.Attempts)
	} else {
		s.logger.Warn("video failed", "content_id", contentID, "state", res.State, "error", res.Err)
	}
	s.notify(ctx, content)
}

// fail marks a content item failed outside of polling and notifies. It
// reports false when the content had already reached a terminal state.
func (s *Contents) fail(contentID string, cause error) bool {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	content, ok := s.transition(ctx, contentID, repo.ContentUpdate{
		Status: repo.Ptr(repo.ContentFailed),
		Error:  repo.Ptr(errorText(cause)),
	})
	if !ok {
		return false
	}
	s.notify(ctx, content)
	return true
}

// transition moves a generating content to a terminal state and returns the
// updated row. Only the caller that wins the transition gets ok.
func (s *Contents) transition(ctx context.Context, contentID string, upd repo.ContentUpdate) (*repo.Content, bool) {
	changed, err := s.Store.FinishContent(ctx, contentID, upd)
	if err != nil {
		s.logger.Error("update content failed", "content_id", contentID, "error", err)
		s.Metrics.Error("studio")
		return nil, false
	}
	if !changed {
		s.logger.Debug("content already terminal", "content_id", contentID)
		return nil, false
	}
	content, err := s.Store.GetContent(ctx, contentID)
	if err != nil {
		s.logger.Error("reload content failed", "content_id", contentID, "error", err)
		return nil, false
	}
	return content, true
}

func (s *Contents) notify(ctx context.Context, content *repo.Content) {
	if s.Notifier == nil {
		return
	}
	inf, err := s.Store.GetInfluencer(ctx, content.InfluencerID)
	if err != nil {
		s.logger.Error("load influencer failed", "influencer_id", content.InfluencerID, "error", err)
		return
	}
	s.Notifier.VideoCompleted(ctx, *content, *inf)
}

// List returns the contents of one influencer.
func (s *Contents) List(ctx context.Context, userID, influencerID string) ([]repo.Content, error) {
	if _, err := s.ownedInfluencer(ctx, userID, influencerID); err != nil {
		return nil, err
	}
	return s.Store.ListContents(ctx, influencerID)
}

// Get returns one content item.
func (s *Contents) Get(ctx context.Context, userID, id string) (*repo.Content, error) {
	return s.ownedContent(ctx, userID, id)
}

// Delete stops the render poll and removes the content item.
func (s *Contents) Delete(ctx context.Context, userID, id string) error {
	c, err := s.ownedContent(ctx, userID, id)
	if err != nil {
		return err
	}
	if c.JobID != nil && s.Tracker != nil {
		s.Tracker.Cancel(*c.JobID)
	}
	return s.Store.DeleteContent(ctx, id)
}

// SweepReport counts what a sweep changed.
type SweepReport struct {
	Failed  int `json:"failed"`
	Resumed int `json:"resumed"`
}

// Sweep fails contents generating for longer than staleAfter and restarts
// polls for the others that have a job but no running poll, which is the
// case after a restart.
func (s *Contents) Sweep(ctx context.Context, staleAfter time.Duration) (SweepReport, error) {
	var report SweepReport
	contents, err := s.Store.ListContentsByStatus(ctx, repo.ContentGenerating)
	if err != nil {
		return report, err
	}

	now := time.Now()
	for _, c := range contents {
		jobID := repo.Deref(c.JobID)
		if staleAfter > 0 && now.Sub(c.CreatedAt) > staleAfter {
			if jobID != "" {
				s.Tracker.Cancel(jobID)
			}
			if s.fail(c.ID, fmt.Errorf("video generation did not finish within %s", staleAfter)) {
				report.Failed++
			}
			continue
		}
		if jobID == "" || s.Tracker.Active(jobID) {
			continue
		}
		if err := s.track(c.ID, jobID); err != nil {
			if errors.Is(err, poller.ErrLockHeld) {
				s.logger.Debug("poll owned elsewhere", "content_id", c.ID, "job_id", jobID)
			} else {
				s.logger.Warn("resume poll failed", "content_id", c.ID, "error", err)
			}
			continue
		}
		report.Resumed++
	}
	if report.Failed > 0 || report.Resumed > 0 {
		s.logger.Info("sweep finished", "failed", report.Failed, "resumed", report.Resumed)
	}
	return report, nil
}

// Resume restarts polls for every generating content with a job id.
func (s *Contents) Resume(ctx context.Context) (int, error) {
	report, err := s.Sweep(ctx, 0)
	return report.Resumed, err
}
