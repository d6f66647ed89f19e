package studio

import (
	"context"
	"fmt"
	"sync"
	"time"

	v "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"avatar-studio/internal/poller"
	"avatar-studio/internal/provider/avatar"
	"avatar-studio/internal/repo"
)

// Translation is a dubbing job and its latest known outcome.
type Translation struct {
	ID        string       `json:"id"`
	UserID    string       `json:"-"`
	Language  string       `json:"language"`
	State     poller.State `json:"state"`
	VideoURL  string       `json:"video_url,omitempty"`
	Error     string       `json:"error,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	// FinishedAt is set once the job reached a terminal state.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Translations dubs finished videos into other languages. Jobs are tracked
// in memory only and dropped TranslationRetention after they finish.
type Translations struct {
	*base

	mu   sync.RWMutex
	jobs map[string]*Translation
	now  func() time.Time
}

func newTranslations(b *base) *Translations {
	return &Translations{base: b, jobs: make(map[string]*Translation), now: time.Now}
}

// TranslateInput requests a dubbed copy.
type TranslateInput struct {
	VideoURL string `json:"video_url"`
	Language string `json:"language"`
	Title    string `json:"title"`
}

// Validate checks the dubbing request.
func (in TranslateInput) Validate() error {
	return v.ValidateStruct(&in,
		v.Field(&in.VideoURL, v.Required, is.URL),
		v.Field(&in.Language, v.Required, v.Length(2, 40)),
	)
}

// Translate submits the job and polls it in the background.
func (s *Translations) Translate(ctx context.Context, userID string, in TranslateInput) (*Translation, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	id, err := s.Avatar.TranslateVideo(ctx, avatar.TranslateRequest{
		VideoURL:       in.VideoURL,
		OutputLanguage: in.Language,
		Title:          in.Title,
	})
	if err != nil {
		return nil, fmt.Errorf("translate video: %w", err)
	}

	t := &Translation{ID: id, UserID: userID, Language: in.Language, State: poller.StatePending, CreatedAt: s.now().UTC()}
	s.mu.Lock()
	s.pruneLocked()
	s.jobs[id] = t
	s.mu.Unlock()

	err = poller.Start(s.Tracker, id, s.Avatar.TranslationStatus, s.Polls.Translation, func(res poller.Result[string]) {
		s.mu.Lock()
		defer s.mu.Unlock()
		finished := s.now().UTC()
		t.State = res.State
		t.VideoURL = res.Value
		t.FinishedAt = &finished
		if res.Err != nil {
			t.Error = errorText(res.Err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("track translation: %w", err)
	}
	return s.Get(userID, id)
}

// Get returns a snapshot of a translation job owned by userID.
func (s *Translations) Get(userID, id string) (*Translation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.jobs[id]
	if !ok || t.UserID != userID || s.expired(t) {
		return nil, fmt.Errorf("translation %s: %w", id, repo.ErrNotFound)
	}
	snapshot := *t
	return &snapshot, nil
}

func (s *Translations) expired(t *Translation) bool {
	return t.FinishedAt != nil && s.now().Sub(*t.FinishedAt) > s.TranslationRetention
}

func (s *Translations) pruneLocked() {
	for id, t := range s.jobs {
		if s.expired(t) {
			delete(s.jobs, id)
		}
	}
}
