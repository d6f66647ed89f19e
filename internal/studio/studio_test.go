package studio

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avatar-studio/internal/automation"
	"avatar-studio/internal/logging"
	"avatar-studio/internal/plan"
	"avatar-studio/internal/poller"
	"avatar-studio/internal/provider/avatar"
	"avatar-studio/internal/provider/llm"
	"avatar-studio/internal/provider/voice"
	"avatar-studio/internal/repo"
	"avatar-studio/migrations"
)

type fakeAvatar struct {
	mu           sync.Mutex
	videoReqs    []avatar.VideoRequest
	videoStates  []poller.Status[avatar.VideoResult]
	videoCalls   int
	lookState    poller.Status[avatar.LookResult]
	motionStates []poller.Status[avatar.MotionResult]
	motionCalls  int
	translation  poller.Status[string]
	submitErr    error
}

func (f *fakeAvatar) GenerateVideo(ctx context.Context, req avatar.VideoRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.videoReqs = append(f.videoReqs, req)
	return "video-" + req.Title, nil
}

func (f *fakeAvatar) VideoStatus(ctx context.Context, id string) (poller.Status[avatar.VideoResult], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.videoCalls++
	if len(f.videoStates) == 0 {
		return poller.Status[avatar.VideoResult]{State: poller.StatePending}, nil
	}
	st := f.videoStates[0]
	if len(f.videoStates) > 1 {
		f.videoStates = f.videoStates[1:]
	}
	return st, nil
}

func (f *fakeAvatar) GenerateLook(ctx context.Context, req avatar.LookRequest) (string, error) {
	return "look-job", nil
}

func (f *fakeAvatar) LookStatus(ctx context.Context, id string) (poller.Status[avatar.LookResult], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookState, nil
}

func (f *fakeAvatar) AddMotion(ctx context.Context, avatarID string) (string, error) {
	return "motion-" + avatarID, nil
}

func (f *fakeAvatar) MotionStatus(ctx context.Context, id string) (poller.Status[avatar.MotionResult], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.motionCalls++
	st := f.motionStates[0]
	if len(f.motionStates) > 1 {
		f.motionStates = f.motionStates[1:]
	}
	return st, nil
}

func (f *fakeAvatar) TranslateVideo(ctx context.Context, req avatar.TranslateRequest) (string, error) {
	return "tr-1", nil
}

func (f *fakeAvatar) TranslationStatus(ctx context.Context, id string) (poller.Status[string], error) {
	return f.translation, nil
}

type fakeVoice struct{}

func (fakeVoice) Synthesize(ctx context.Context, voiceID, text string) ([]byte, error) {
	return []byte("mp3:" + voiceID), nil
}

func (fakeVoice) DesignPreviews(ctx context.Context, description, sampleText string) ([]voice.Preview, error) {
	return []voice.Preview{{GeneratedVoiceID: "preview-1"}}, nil
}

func (fakeVoice) CreateFromPreview(ctx context.Context, name, description, previewID string) (string, error) {
	return "voice-from-" + previewID, nil
}

type fakeStorage struct {
	mu    sync.Mutex
	paths []string
}

func (f *fakeStorage) Upload(ctx context.Context, bucket, path, contentType string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, bucket+"/"+path)
	return "https://storage/" + bucket + "/" + path, nil
}

type fakeWriter struct{ got llm.ScriptRequest }

func (f *fakeWriter) GenerateScript(ctx context.Context, req llm.ScriptRequest) (string, error) {
	f.got = req
	return "Generated script about " + req.Topic, nil
}

type fakeImages struct{ polls int }

func (f *fakeImages) Submit(ctx context.Context, prompt, ratio string) (string, error) {
	return "img-1", nil
}

func (f *fakeImages) Result(ctx context.Context, id string) (poller.Status[string], error) {
	f.polls++
	if f.polls < 3 {
		return poller.Status[string]{State: poller.StatePending}, nil
	}
	return poller.Status[string]{State: poller.StateSucceeded, Result: "https://img/1.jpg"}, nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	payloads []automation.Payload
}

func (n *recordingNotifier) VideoCompleted(ctx context.Context, content repo.Content, inf repo.Influencer) []automation.Delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.payloads = append(n.payloads, automation.BuildPayload(content, inf))
	return nil
}

func (n *recordingNotifier) all() []automation.Payload {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]automation.Payload(nil), n.payloads...)
}

type fixture struct {
	studio   *Studio
	store    *repo.SQLiteRepository
	avatar   *fakeAvatar
	storage  *fakeStorage
	writer   *fakeWriter
	notifier *recordingNotifier
	tracker  *poller.Tracker
}

func fastPoll(kind string, attempts int) poller.Config {
	return poller.Config{Kind: kind, Interval: time.Millisecond, MaxAttempts: attempts}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, nil, nil)
}

// newFixtureWith lets a test wrap the store and plug a poll locker.
func newFixtureWith(t *testing.T, wrap func(repo.Repository) repo.Repository, locker poller.Locker) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := logging.Discard()

	store, err := repo.NewSQLite(ctx, filepath.Join(t.TempDir(), "studio.db"), logger)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.RunMigrations(ctx, migrations.SQLite()))

	tracker := poller.NewTracker(logger, nil, locker)
	t.Cleanup(tracker.Close)

	var backing repo.Repository = store
	if wrap != nil {
		backing = wrap(store)
	}

	f := &fixture{
		store:    store,
		avatar:   &fakeAvatar{},
		storage:  &fakeStorage{},
		writer:   &fakeWriter{},
		notifier: &recordingNotifier{},
		tracker:  tracker,
	}
	f.studio = New(Deps{
		Store:    backing,
		Gate:     plan.NewGate(store, nil, 0, nil, logger),
		Avatar:   f.avatar,
		Voice:    fakeVoice{},
		LLM:      f.writer,
		Images:   &fakeImages{},
		Storage:  f.storage,
		Notifier: f.notifier,
		Tracker:  tracker,
		Polls: PollSettings{
			Video:       fastPoll("video", 0),
			Look:        fastPoll("look", 3),
			Motion:      fastPoll("motion", 10),
			Image:       fastPoll("image", 10),
			Translation: fastPoll("translation", 0),
		},
		PublicBaseURL: "https://studio.example.com",
		Logger:        logger,
	})
	return f
}

func (f *fixture) user(t *testing.T, planID string) string {
	t.Helper()
	u, err := f.studio.Users.Create(context.Background(), CreateUserInput{Email: planID + "@example.com", PlanID: planID})
	require.NoError(t, err)
	return u.ID
}

func (f *fixture) influencer(t *testing.T, userID string, voiceID string) *repo.Influencer {
	t.Helper()
	inf, err := f.studio.Influencers.Create(context.Background(), userID, CreateInfluencerInput{Name: "Ava", TemplateID: "tmpl-1", VoiceID: voiceID})
	require.NoError(t, err)
	return inf
}

func (f *fixture) waitContent(t *testing.T, id, status string) *repo.Content {
	t.Helper()
	var got *repo.Content
	require.Eventually(t, func() bool {
		c, err := f.store.GetContent(context.Background(), id)
		if err != nil {
			return false
		}
		got = c
		return c.Status == status
	}, 2*time.Second, 5*time.Millisecond)
	return got
}

func TestEstimateMinutes(t *testing.T) {
	assert.Equal(t, 1, EstimateMinutes(""))
	assert.Equal(t, 1, EstimateMinutes("just a few words"))
	assert.Equal(t, 1, EstimateMinutes(strings.Repeat("word ", 150)))
	assert.Equal(t, 2, EstimateMinutes(strings.Repeat("word ", 151)))
}

func TestContentCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.user(t, "pro")
	inf := f.influencer(t, userID, "")

	f.avatar.videoStates = []poller.Status[avatar.VideoResult]{
		{State: poller.StatePending},
		{State: poller.StatePending},
		{State: poller.StateSucceeded, Result: avatar.VideoResult{VideoURL: "https://cdn/launch.mp4"}},
	}

	content, err := f.studio.Contents.Create(ctx, userID, inf.ID, CreateContentInput{Title: "launch", Script: "Hello everyone"})
	require.NoError(t, err)
	assert.Equal(t, repo.ContentGenerating, content.Status)
	assert.Equal(t, "video-launch", repo.Deref(content.JobID))

	done := f.waitContent(t, content.ID, repo.ContentCompleted)
	assert.Equal(t, "https://cdn/launch.mp4", repo.Deref(done.VideoURL))
	assert.Nil(t, done.Error)

	require.Eventually(t, func() bool { return len(f.notifier.all()) == 1 }, time.Second, 5*time.Millisecond)
	p := f.notifier.all()[0]
	assert.Equal(t, "video.completed", p.Event)
	assert.Equal(t, "Ava", p.Content.InfluencerName)
	assert.Equal(t, "completed", p.Content.Status)
	assert.Empty(t, p.Content.Error)

	usage, err := f.store.GetUsage(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 1, usage.VideoMinutesUsed)

	require.Eventually(t, func() bool { return f.tracker.Len() == 0 }, time.Second, 5*time.Millisecond)
	f.avatar.mu.Lock()
	calls := f.avatar.videoCalls
	f.avatar.mu.Unlock()
	time.Sleep(20 * time.Millisecond)
	f.avatar.mu.Lock()
	assert.Equal(t, calls, f.avatar.videoCalls, "no status requests after the terminal state")
	f.avatar.mu.Unlock()
}

func TestContentFailsAndNotifiesWithError(t *testing.T) {
	f := newFixture(t)
	userID := f.user(t, "pro")
	inf := f.influencer(t, userID, "")
	f.avatar.videoStates = []poller.Status[avatar.VideoResult]{{State: poller.StateFailed, Error: "avatar not found"}}

	content, err := f.studio.Contents.Create(context.Background(), userID, inf.ID, CreateContentInput{Title: "oops", Script: "text"})
	require.NoError(t, err)

	failed := f.waitContent(t, content.ID, repo.ContentFailed)
	assert.Equal(t, "avatar not found", repo.Deref(failed.Error))

	require.Eventually(t, func() bool { return len(f.notifier.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "avatar not found", f.notifier.all()[0].Content.Error)

	usage, err := f.store.GetUsage(context.Background(), userID)
	require.NoError(t, err)
	assert.Zero(t, usage.VideoMinutesUsed)
}

func TestContentUsesVoiceAudio(t *testing.T) {
	f := newFixture(t)
	userID := f.user(t, "pro")
	inf := f.influencer(t, userID, "voice-7")
	f.avatar.videoStates = []poller.Status[avatar.VideoResult]{{State: poller.StateSucceeded}}

	content, err := f.studio.Contents.Create(context.Background(), userID, inf.ID, CreateContentInput{Title: "voiced", Script: "text"})
	require.NoError(t, err)

	f.avatar.mu.Lock()
	req := f.avatar.videoReqs[0]
	f.avatar.mu.Unlock()
	assert.Equal(t, "https://storage/audio_files/"+userID+"/"+content.ID+".mp3", req.AudioURL)
	assert.Equal(t, "tmpl-1", req.AvatarID)
}

func TestContentSubmitErrorMarksFailed(t *testing.T) {
	f := newFixture(t)
	userID := f.user(t, "pro")
	inf := f.influencer(t, userID, "")
	f.avatar.submitErr = errors.New("upstream down")

	_, err := f.studio.Contents.Create(context.Background(), userID, inf.ID, CreateContentInput{Title: "x", Script: "y"})
	require.Error(t, err)

	list, err := f.studio.Contents.List(context.Background(), userID, inf.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, repo.ContentFailed, list[0].Status)
	assert.Equal(t, "upstream down", repo.Deref(list[0].Error))
}

func TestPlanLimits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.user(t, "free")
	inf := f.influencer(t, userID, "")

	_, err := f.studio.Influencers.Create(ctx, userID, CreateInfluencerInput{Name: "Second", TemplateID: "t"})
	assert.ErrorIs(t, err, plan.ErrLimitExceeded)

	longScript := strings.Repeat("word ", 6*WordsPerMinute)
	_, err = f.studio.Contents.Create(ctx, userID, inf.ID, CreateContentInput{Title: "long", Script: longScript})
	assert.ErrorIs(t, err, plan.ErrLimitExceeded)

	_, err = f.studio.Webhooks.Create(ctx, userID, CreateWebhookInput{Name: "Hook", Kind: repo.WebhookVideoCreate, InfluencerIDs: []string{inf.ID}})
	assert.ErrorIs(t, err, plan.ErrLimitExceeded)

	_, err = f.studio.Influencers.CreateVoice(ctx, userID, CreateVoiceInput{Name: "V", Description: "a calm and friendly narrator"})
	assert.ErrorIs(t, err, plan.ErrLimitExceeded)

	require.NoError(t, f.studio.Influencers.Delete(ctx, userID, inf.ID))
	_, err = f.studio.Influencers.Create(ctx, userID, CreateInfluencerInput{Name: "Again", TemplateID: "t"})
	assert.NoError(t, err)
}

func TestOwnershipIsEnforced(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "pro")
	other := f.user(t, "enterprise")
	inf := f.influencer(t, owner, "")

	_, err := f.studio.Influencers.Get(context.Background(), other, inf.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)
	assert.ErrorIs(t, f.studio.Influencers.Delete(context.Background(), other, inf.ID), repo.ErrNotFound)
}

func TestInboundWebhookFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.user(t, "pro")
	inf := f.influencer(t, userID, "")

	hook, err := f.studio.Webhooks.Create(ctx, userID, CreateWebhookInput{Name: "Morning Upload", Kind: repo.WebhookVideoCreate, InfluencerIDs: []string{inf.ID, inf.ID}})
	require.NoError(t, err)
	assert.Equal(t, "https://studio.example.com/api/webhooks/"+hook.ID+"?name=morning-upload", hook.URL)
	assert.Equal(t, []string{inf.ID}, hook.InfluencerIDs)
	token := repo.Deref(hook.Token)
	require.Len(t, token, 64)

	req := automation.InboundRequest{Title: "From Zapier", Script: "Hello"}
	_, err = f.studio.Webhooks.TriggerWebhook(ctx, hook.ID, "wrong", req)
	assert.ErrorIs(t, err, automation.ErrInvalidToken)

	trigger, err := f.studio.Webhooks.TriggerWebhook(ctx, hook.ID, token, req)
	require.NoError(t, err)
	require.Len(t, trigger.ContentIDs, 1)

	toggled, err := f.studio.Webhooks.Toggle(ctx, userID, hook.ID)
	require.NoError(t, err)
	assert.False(t, toggled.Active)
	_, err = f.studio.Webhooks.TriggerWebhook(ctx, hook.ID, token, req)
	assert.ErrorIs(t, err, automation.ErrWebhookInactive)

	rotated, err := f.studio.Webhooks.RegenerateToken(ctx, userID, hook.ID)
	require.NoError(t, err)
	assert.NotEqual(t, token, rotated)

	_, err = f.studio.Webhooks.TriggerWebhook(ctx, "missing", token, req)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestOutboundWebhookValidation(t *testing.T) {
	f := newFixture(t)
	userID := f.user(t, "pro")
	inf := f.influencer(t, userID, "")

	_, err := f.studio.Webhooks.Create(context.Background(), userID, CreateWebhookInput{Name: "Notify", Kind: repo.WebhookVideoCompleted, InfluencerIDs: []string{inf.ID}})
	require.Error(t, err)

	hook, err := f.studio.Webhooks.Create(context.Background(), userID, CreateWebhookInput{Name: "Notify", Kind: repo.WebhookVideoCompleted, URL: "https://hooks.example.com/done", InfluencerIDs: []string{inf.ID}})
	require.NoError(t, err)
	assert.Nil(t, hook.Token)
	assert.Equal(t, "https://hooks.example.com/done", hook.URL)

	_, err = f.studio.Webhooks.RegenerateToken(context.Background(), userID, hook.ID)
	assert.Error(t, err)
}

func TestSweepFailsStaleAndResumes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.user(t, "pro")
	inf := f.influencer(t, userID, "")

	withJob, err := f.store.InsertContent(ctx, repo.Content{UserID: userID, InfluencerID: inf.ID, Title: "old", Script: "s", JobID: repo.Ptr("job-old")})
	require.NoError(t, err)
	withoutJob, err := f.store.InsertContent(ctx, repo.Content{UserID: userID, InfluencerID: inf.ID, Title: "orphan", Script: "s"})
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	f.avatar.videoStates = []poller.Status[avatar.VideoResult]{{State: poller.StateSucceeded, Result: avatar.VideoResult{VideoURL: "https://v"}}}

	report, err := f.studio.Contents.Sweep(ctx, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Failed)

	failed := f.waitContent(t, withJob.ID, repo.ContentFailed)
	assert.Contains(t, repo.Deref(failed.Error), "did not finish")
	f.waitContent(t, withoutJob.ID, repo.ContentFailed)

	resumable, err := f.store.InsertContent(ctx, repo.Content{UserID: userID, InfluencerID: inf.ID, Title: "resume", Script: "s", JobID: repo.Ptr("job-resume")})
	require.NoError(t, err)
	n, err := f.studio.Contents.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	f.waitContent(t, resumable.ID, repo.ContentCompleted)
}

// listThenStore runs after between listing generating contents and acting
// on them.
type listThenStore struct {
	repo.Repository
	after func()
}

func (s *listThenStore) ListContentsByStatus(ctx context.Context, status string) ([]repo.Content, error) {
	res, err := s.Repository.ListContentsByStatus(ctx, status)
	if s.after != nil {
		s.after()
	}
	return res, err
}

func TestSweepKeepsContentCompletedMeanwhile(t *testing.T) {
	var wrapped *listThenStore
	f := newFixtureWith(t, func(r repo.Repository) repo.Repository {
		wrapped = &listThenStore{Repository: r}
		return wrapped
	}, nil)
	ctx := context.Background()
	userID := f.user(t, "pro")
	inf := f.influencer(t, userID, "")

	c, err := f.store.InsertContent(ctx, repo.Content{UserID: userID, InfluencerID: inf.ID, Title: "race", Script: "s", DurationMinutes: 1})
	require.NoError(t, err)
	wrapped.after = func() {
		require.NoError(t, f.store.UpdateContent(ctx, c.ID, repo.ContentUpdate{
			Status:   repo.Ptr(repo.ContentCompleted),
			VideoURL: repo.Ptr("https://cdn/done.mp4"),
		}))
	}

	time.Sleep(20 * time.Millisecond)
	report, err := f.studio.Contents.Sweep(ctx, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Zero(t, report.Failed)

	got, err := f.store.GetContent(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, repo.ContentCompleted, got.Status)
	assert.Equal(t, "https://cdn/done.mp4", repo.Deref(got.VideoURL))
	assert.Nil(t, got.Error)
	assert.Empty(t, f.notifier.all())
}

func TestLatePollResultAfterSweepIsIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.user(t, "pro")
	inf := f.influencer(t, userID, "")

	c, err := f.store.InsertContent(ctx, repo.Content{UserID: userID, InfluencerID: inf.ID, Title: "late", Script: "s", DurationMinutes: 1})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	report, err := f.studio.Contents.Sweep(ctx, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	f.studio.Contents.finish(c.ID, poller.Result[avatar.VideoResult]{
		JobID: "job-late",
		State: poller.StateSucceeded,
		Value: avatar.VideoResult{VideoURL: "https://cdn/late.mp4"},
	})

	got, err := f.store.GetContent(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, repo.ContentFailed, got.Status)
	assert.Nil(t, got.VideoURL)
	assert.Len(t, f.notifier.all(), 1)

	usage, err := f.store.GetUsage(ctx, userID)
	require.NoError(t, err)
	assert.Zero(t, usage.VideoMinutesUsed)
}

type heldLocker struct{}

func (heldLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return false, nil
}

func (heldLocker) Refresh(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return false, nil
}

func (heldLocker) Release(ctx context.Context, key string) error { return nil }

func TestResumeSkipsPollsLockedElsewhere(t *testing.T) {
	f := newFixtureWith(t, nil, heldLocker{})
	ctx := context.Background()
	userID := f.user(t, "pro")
	inf := f.influencer(t, userID, "")

	c, err := f.store.InsertContent(ctx, repo.Content{UserID: userID, InfluencerID: inf.ID, Title: "elsewhere", Script: "s", JobID: repo.Ptr("job-elsewhere")})
	require.NoError(t, err)

	n, err := f.studio.Contents.Resume(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, f.tracker.Active("job-elsewhere"))

	got, err := f.store.GetContent(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, repo.ContentGenerating, got.Status)
}

func TestDeleteContentCancelsPoll(t *testing.T) {
	f := newFixture(t)
	userID := f.user(t, "pro")
	inf := f.influencer(t, userID, "")

	content, err := f.studio.Contents.Create(context.Background(), userID, inf.ID, CreateContentInput{Title: "forever", Script: "s"})
	require.NoError(t, err)
	require.True(t, f.tracker.Active("video-forever"))

	require.NoError(t, f.studio.Contents.Delete(context.Background(), userID, content.ID))
	require.Eventually(t, func() bool { return !f.tracker.Active("video-forever") }, time.Second, 5*time.Millisecond)
	assert.Empty(t, f.notifier.all())
}

func TestGenerateLookTimesOut(t *testing.T) {
	f := newFixture(t)
	userID := f.user(t, "pro")
	parent := f.influencer(t, userID, "voice-1")
	f.avatar.lookState = poller.Status[avatar.LookResult]{State: poller.StatePending}

	child, err := f.studio.Influencers.GenerateLook(context.Background(), userID, parent.ID, LookInput{Prompt: "on a beach"})
	require.NoError(t, err)
	assert.Equal(t, repo.InfluencerPending, child.Status)
	assert.Equal(t, parent.ID, repo.Deref(child.LookID))
	assert.Equal(t, "voice-1", repo.Deref(child.VoiceID))

	require.Eventually(t, func() bool {
		got, err := f.store.GetInfluencer(context.Background(), child.ID)
		return err == nil && got.Status == repo.InfluencerFailed
	}, 2*time.Second, 5*time.Millisecond)
	got, err := f.store.GetInfluencer(context.Background(), child.ID)
	require.NoError(t, err)
	assert.Equal(t, poller.ErrTimedOut.Error(), repo.Deref(got.Error))
}

func TestGenerateLookSucceeds(t *testing.T) {
	f := newFixture(t)
	userID := f.user(t, "pro")
	parent := f.influencer(t, userID, "")
	f.avatar.lookState = poller.Status[avatar.LookResult]{
		State:  poller.StateSucceeded,
		Result: avatar.LookResult{ImageURLs: []string{"https://img/look.png"}, ImageKeys: []string{"look-key"}},
	}

	child, err := f.studio.Influencers.GenerateLook(context.Background(), userID, parent.ID, LookInput{Prompt: "studio portrait"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := f.store.GetInfluencer(context.Background(), child.ID)
		return err == nil && got.Status == repo.InfluencerCompleted
	}, 2*time.Second, 5*time.Millisecond)
	got, err := f.store.GetInfluencer(context.Background(), child.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://img/look.png", repo.Deref(got.PreviewURL))
	assert.Equal(t, "look-key", got.TemplateID)
}

func TestAddMotionTransitions(t *testing.T) {
	f := newFixture(t)
	userID := f.user(t, "pro")
	inf := f.influencer(t, userID, "")
	f.avatar.motionStates = []poller.Status[avatar.MotionResult]{
		{State: poller.StatePending},
		{State: poller.StatePending},
		{State: poller.StateSucceeded, Result: avatar.MotionResult{ID: "motion-avatar", PreviewURL: "https://img/motion.gif"}},
	}

	_, err := f.studio.Influencers.AddMotion(context.Background(), userID, inf.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := f.store.GetInfluencer(context.Background(), inf.ID)
		return err == nil && got.Status == repo.InfluencerCompleted && got.TemplateID == "motion-avatar"
	}, 2*time.Second, 5*time.Millisecond)
	got, err := f.store.GetInfluencer(context.Background(), inf.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://img/motion.gif", repo.Deref(got.PreviewURL))
	assert.Equal(t, "motion-tmpl-1", repo.Deref(got.JobID))
}

func TestUntrackableJobsMarkInfluencerFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.user(t, "pro")
	parent := f.influencer(t, userID, "")
	other := f.influencer(t, userID, "")
	f.tracker.Close()

	_, err := f.studio.Influencers.GenerateLook(ctx, userID, parent.ID, LookInput{Prompt: "city at night"})
	require.ErrorIs(t, err, poller.ErrTrackerClosed)

	all, err := f.store.ListInfluencers(ctx, userID)
	require.NoError(t, err)
	var child *repo.Influencer
	for i := range all {
		if repo.Deref(all[i].LookID) == parent.ID {
			child = &all[i]
		}
	}
	require.NotNil(t, child)
	assert.Equal(t, repo.InfluencerFailed, child.Status)

	_, err = f.studio.Influencers.AddMotion(ctx, userID, other.ID)
	require.ErrorIs(t, err, poller.ErrTrackerClosed)
	got, err := f.store.GetInfluencer(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, repo.InfluencerFailed, got.Status)
	assert.NotEmpty(t, repo.Deref(got.Error))
}

func TestCreateVoiceAssignsInfluencer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.user(t, "pro")
	inf := f.influencer(t, userID, "")

	created, err := f.studio.Influencers.CreateVoice(ctx, userID, CreateVoiceInput{
		Name: "Narrator", Description: "a calm and friendly narrator", InfluencerID: inf.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, "voice-from-preview-1", created.VoiceID)

	got, err := f.studio.Influencers.Get(ctx, userID, inf.ID)
	require.NoError(t, err)
	assert.Equal(t, "voice-from-preview-1", repo.Deref(got.VoiceID))

	usage, err := f.store.GetUsage(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 1, usage.AIClonesUsed)
}

func TestGenerateScriptUsesInfluencerName(t *testing.T) {
	f := newFixture(t)
	userID := f.user(t, "pro")
	inf := f.influencer(t, userID, "")

	script, err := f.studio.Contents.GenerateScript(context.Background(), userID, ScriptInput{Topic: "morning routine", InfluencerID: inf.ID})
	require.NoError(t, err)
	assert.Equal(t, "Generated script about morning routine", script)
	assert.Equal(t, "Ava", f.writer.got.Influencer)
}

func TestImagesGenerate(t *testing.T) {
	f := newFixture(t)
	img, err := f.studio.Images.Generate(context.Background(), "user", ImageInput{Prompt: "neon skyline", AspectRatio: "16:9"})
	require.NoError(t, err)
	assert.Equal(t, "https://img/1.jpg", img.URL)
	assert.Equal(t, 3, img.Attempts)

	_, err = f.studio.Images.Generate(context.Background(), "user", ImageInput{Prompt: "x", AspectRatio: "2:1"})
	assert.Error(t, err)
}

func TestTranslations(t *testing.T) {
	f := newFixture(t)
	f.avatar.translation = poller.Status[string]{State: poller.StateSucceeded, Result: "https://cdn/es.mp4"}

	tr, err := f.studio.Translations.Translate(context.Background(), "user-1", TranslateInput{VideoURL: "https://cdn/en.mp4", Language: "Spanish"})
	require.NoError(t, err)
	assert.Equal(t, "tr-1", tr.ID)

	require.Eventually(t, func() bool {
		got, err := f.studio.Translations.Get("user-1", "tr-1")
		return err == nil && got.State == poller.StateSucceeded
	}, time.Second, 5*time.Millisecond)

	_, err = f.studio.Translations.Get("someone-else", "tr-1")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestTranslationsExpireAfterRetention(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.avatar.translation = poller.Status[string]{State: poller.StateSucceeded, Result: "https://cdn/fr.mp4"}
	translations := f.studio.Translations
	translations.TranslationRetention = 50 * time.Millisecond

	_, err := translations.Translate(ctx, "user-1", TranslateInput{VideoURL: "https://cdn/en.mp4", Language: "French"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, err := translations.Get("user-1", "tr-1")
		return err == nil && got.FinishedAt != nil
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		_, err := translations.Get("user-1", "tr-1")
		return errors.Is(err, repo.ErrNotFound)
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return !f.tracker.Active("tr-1") }, time.Second, 5*time.Millisecond)

	f.avatar.translation = poller.Status[string]{State: poller.StatePending}
	again, err := translations.Translate(ctx, "user-1", TranslateInput{VideoURL: "https://cdn/en.mp4", Language: "French"})
	require.NoError(t, err)
	assert.Equal(t, poller.StatePending, again.State)
	assert.Nil(t, again.FinishedAt)

	translations.mu.RLock()
	defer translations.mu.RUnlock()
	assert.Len(t, translations.jobs, 1)
}
