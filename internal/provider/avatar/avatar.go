// Package avatar is a client for the HeyGen avatar rendering API.
package avatar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"avatar-studio/internal/metrics"
	"avatar-studio/internal/poller"
	"avatar-studio/internal/provider"
)

const (
	providerName   = "heygen"
	defaultBaseURL = "https://api.heygen.com"
)

// Client provides typed access to the avatar API.
type Client struct {
	api          *provider.Client
	defaultVoice string
}

// Config holds avatar client configuration.
type Config struct {
	provider.Config
	// DefaultVoiceID is used for text videos when the influencer has no voice.
	DefaultVoiceID string
}

// New creates a new avatar client.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Client {
	return &Client{
		api:          provider.NewClient(providerName, cfg.Config, defaultBaseURL, "X-Api-Key", "", logger, m),
		defaultVoice: cfg.DefaultVoiceID,
	}
}

// envelope is the shape every HeyGen answer shares. error is null, a string
// or an object with a message.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Error   json.RawMessage `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func (e envelope) failure() string {
	raw := strings.TrimSpace(string(e.Error))
	if raw == "" || raw == "null" {
		return ""
	}
	return provider.ExtractMessage([]byte(`{"error":` + raw + `}`))
}

func (c *Client) call(ctx context.Context, method, path, label string, body, dest any) error {
	var env envelope
	if err := c.api.JSON(ctx, method, path, label, body, &env); err != nil {
		return err
	}
	if msg := env.failure(); msg != "" {
		return &provider.UpstreamError{Provider: providerName, Status: http.StatusOK, Message: msg}
	}
	if dest == nil {
		return nil
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return fmt.Errorf("heygen %s: empty data", label)
	}
	if err := json.Unmarshal(env.Data, dest); err != nil {
		return fmt.Errorf("heygen %s: decode data: %w", label, err)
	}
	return nil
}

// VideoRequest describes a talking-head render. Either Script or AudioURL is
// required; AudioURL wins when both are set.
type VideoRequest struct {
	AvatarID string
	Script   string
	AudioURL string
	VoiceID  string
	Title    string
	Width    int
	Height   int
}

// VideoResult is the payload of a finished render.
type VideoResult struct {
	VideoURL     string  `json:"video_url"`
	ThumbnailURL string  `json:"thumbnail_url"`
	Duration     float64 `json:"duration"`
}

// GenerateVideo submits a render and returns its job id.
func (c *Client) GenerateVideo(ctx context.Context, req VideoRequest) (string, error) {
	if req.AvatarID == "" {
		return "", errors.New("avatar id is required")
	}

	voice := map[string]any{}
	switch {
	case req.AudioURL != "":
		voice["type"] = "audio"
		voice["audio_url"] = req.AudioURL
	case strings.TrimSpace(req.Script) != "":
		voiceID := req.VoiceID
		if voiceID == "" {
			voiceID = c.defaultVoice
		}
		voice["type"] = "text"
		voice["input_text"] = req.Script
		voice["voice_id"] = voiceID
	default:
		return "", errors.New("script or audio url is required")
	}

	width, height := req.Width, req.Height
	if width <= 0 || height <= 0 {
		width, height = 1280, 720
	}

	payload := map[string]any{
		"title": req.Title,
		"video_inputs": []map[string]any{{
			"character": map[string]any{
				"type":         "avatar",
				"avatar_id":    req.AvatarID,
				"avatar_style": "normal",
			},
			"voice": voice,
		}},
		"dimension": map[string]int{"width": width, "height": height},
	}

	var data struct {
		VideoID string `json:"video_id"`
	}
	if err := c.call(ctx, http.MethodPost, "/v2/video/generate", "", payload, &data); err != nil {
		return "", err
	}
	if data.VideoID == "" {
		return "", errors.New("heygen returned no video id")
	}
	return data.VideoID, nil
}

// VideoStatus checks a render once.
func (c *Client) VideoStatus(ctx context.Context, videoID string) (poller.Status[VideoResult], error) {
	var data struct {
		Status string `json:"status"`
		VideoResult
		Error json.RawMessage `json:"error"`
	}
	path := "/v1/video_status.get?video_id=" + url.QueryEscape(videoID)
	if err := c.call(ctx, http.MethodGet, path, "/v1/video_status.get", nil, &data); err != nil {
		return poller.Status[VideoResult]{}, err
	}
	st := poller.Status[VideoResult]{State: videoState(data.Status), Result: data.VideoResult}
	if st.State == poller.StateFailed {
		st.Error = failureMessage(data.Error, "video rendering failed")
	}
	return st, nil
}

func videoState(s string) poller.State {
	switch strings.ToLower(s) {
	case "completed":
		return poller.StateSucceeded
	case "failed":
		return poller.StateFailed
	}
	return poller.StatePending
}

// LookRequest asks for new looks of a photo avatar group.
type LookRequest struct {
	GroupID     string `json:"group_id"`
	Prompt      string `json:"prompt"`
	Orientation string `json:"orientation,omitempty"`
	Pose        string `json:"pose,omitempty"`
	Style       string `json:"style,omitempty"`
}

// LookResult lists generated images.
type LookResult struct {
	ImageURLs []string `json:"image_url_list"`
	ImageKeys []string `json:"image_key_list"`
}

// GenerateLook submits a look generation and returns its generation id.
func (c *Client) GenerateLook(ctx context.Context, req LookRequest) (string, error) {
	if req.GroupID == "" || strings.TrimSpace(req.Prompt) == "" {
		return "", errors.New("group id and prompt are required")
	}
	if req.Orientation == "" {
		req.Orientation = "square"
	}
	if req.Pose == "" {
		req.Pose = "half_body"
	}
	if req.Style == "" {
		req.Style = "Realistic"
	}
	var data struct {
		GenerationID string `json:"generation_id"`
	}
	if err := c.call(ctx, http.MethodPost, "/v2/photo_avatar/look/generate", "", req, &data); err != nil {
		return "", err
	}
	if data.GenerationID == "" {
		return "", errors.New("heygen returned no generation id")
	}
	return data.GenerationID, nil
}

// LookStatus checks a look generation once.
func (c *Client) LookStatus(ctx context.Context, generationID string) (poller.Status[LookResult], error) {
	var data struct {
		Status string `json:"status"`
		Msg    string `json:"msg"`
		LookResult
	}
	path := "/v2/photo_avatar/generation/" + url.PathEscape(generationID)
	if err := c.call(ctx, http.MethodGet, path, "/v2/photo_avatar/generation", nil, &data); err != nil {
		return poller.Status[LookResult]{}, err
	}
	st := poller.Status[LookResult]{State: generationState(data.Status), Result: data.LookResult}
	if st.State == poller.StateFailed {
		st.Error = firstNonEmpty(data.Msg, "look generation failed")
	}
	return st, nil
}

// MotionResult describes an animated photo avatar.
type MotionResult struct {
	ID         string `json:"id"`
	ImageURL   string `json:"image_url"`
	PreviewURL string `json:"motion_preview_url"`
}

// AddMotion requests an animated variant of a photo avatar and returns the
// id of the motion avatar.
func (c *Client) AddMotion(ctx context.Context, avatarID string) (string, error) {
	if avatarID == "" {
		return "", errors.New("avatar id is required")
	}
	var data struct {
		ID string `json:"id"`
	}
	if err := c.call(ctx, http.MethodPost, "/v2/photo_avatar/add_motion", "", map[string]string{"id": avatarID}, &data); err != nil {
		return "", err
	}
	if data.ID == "" {
		return "", errors.New("heygen returned no motion avatar id")
	}
	return data.ID, nil
}

// MotionStatus checks a photo avatar once.
func (c *Client) MotionStatus(ctx context.Context, avatarID string) (poller.Status[MotionResult], error) {
	var data struct {
		Status       string `json:"status"`
		ErrorMessage string `json:"error_msg"`
		MotionResult
	}
	path := "/v2/photo_avatar/" + url.PathEscape(avatarID)
	if err := c.call(ctx, http.MethodGet, path, "/v2/photo_avatar", nil, &data); err != nil {
		return poller.Status[MotionResult]{}, err
	}
	st := poller.Status[MotionResult]{State: generationState(data.Status), Result: data.MotionResult}
	if st.State == poller.StateFailed {
		st.Error = firstNonEmpty(data.ErrorMessage, "motion generation failed")
	}
	return st, nil
}

func generationState(s string) poller.State {
	switch strings.ToLower(s) {
	case "success", "completed":
		return poller.StateSucceeded
	case "failed", "fail":
		return poller.StateFailed
	}
	return poller.StatePending
}

// TranslateRequest asks for a dubbed copy of an existing video.
type TranslateRequest struct {
	VideoURL       string `json:"video_url"`
	OutputLanguage string `json:"output_language"`
	Title          string `json:"title,omitempty"`
}

// TranslateVideo submits a dubbing job and returns its id.
func (c *Client) TranslateVideo(ctx context.Context, req TranslateRequest) (string, error) {
	if req.VideoURL == "" || req.OutputLanguage == "" {
		return "", errors.New("video url and output language are required")
	}
	var data struct {
		ID string `json:"video_translate_id"`
	}
	if err := c.call(ctx, http.MethodPost, "/v2/video_translate", "", req, &data); err != nil {
		return "", err
	}
	if data.ID == "" {
		return "", errors.New("heygen returned no translation id")
	}
	return data.ID, nil
}

// TranslationStatus checks a dubbing job once. The result is the video URL.
func (c *Client) TranslationStatus(ctx context.Context, translateID string) (poller.Status[string], error) {
	var data struct {
		Status  string `json:"status"`
		URL     string `json:"url"`
		Message string `json:"message"`
	}
	path := "/v2/video_translate/" + url.PathEscape(translateID)
	if err := c.call(ctx, http.MethodGet, path, "/v2/video_translate", nil, &data); err != nil {
		return poller.Status[string]{}, err
	}
	st := poller.Status[string]{State: generationState(data.Status), Result: data.URL}
	if st.State == poller.StateFailed {
		st.Error = firstNonEmpty(data.Message, "video translation failed")
	}
	return st, nil
}

func failureMessage(raw json.RawMessage, fallback string) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return fallback
	}
	return firstNonEmpty(provider.ExtractMessage([]byte(`{"error":`+s+`}`)), fallback)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// Template is a stock avatar usable as an influencer template.
type Template struct {
	ID         string `json:"avatar_id"`
	Name       string `json:"avatar_name"`
	Gender     string `json:"gender"`
	PreviewURL string `json:"preview_image_url"`
	Premium    bool   `json:"premium"`
}

// ListAvatars returns the stock avatars and talking photos of the account.
func (c *Client) ListAvatars(ctx context.Context) ([]Template, error) {
	var data struct {
		Avatars       []Template `json:"avatars"`
		TalkingPhotos []struct {
			ID         string `json:"talking_photo_id"`
			Name       string `json:"talking_photo_name"`
			PreviewURL string `json:"preview_image_url"`
		} `json:"talking_photos"`
	}
	if err := c.call(ctx, http.MethodGet, "/v2/avatars", "/v2/avatars", nil, &data); err != nil {
		return nil, err
	}
	out := make([]Template, 0, len(data.Avatars)+len(data.TalkingPhotos))
	out = append(out, data.Avatars...)
	for _, p := range data.TalkingPhotos {
		out = append(out, Template{ID: p.ID, Name: p.Name, PreviewURL: p.PreviewURL, Gender: "photo"})
	}
	return out, nil
}
