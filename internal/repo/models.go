package repo

import "time"

// Influencer statuses.
const (
	InfluencerPending        = "pending"
	InfluencerPendingMotion  = "pending_motion"
	InfluencerMotionTraining = "motion_training"
	InfluencerCompleted      = "completed"
	InfluencerFailed         = "failed"
)

// Content statuses.
const (
	ContentGenerating = "generating"
	ContentCompleted  = "completed"
	ContentFailed     = "failed"
)

// Webhook kinds. Inbound webhooks create videos, outbound ones are notified
// when a video finishes.
const (
	WebhookVideoCreate    = "video.create"
	WebhookVideoCompleted = "video.completed"
)

// Unlimited marks a plan limit without a cap.
const Unlimited = -1

// User represents the users table row.
type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName *string   `json:"display_name,omitempty"`
	PlanID      string    `json:"plan_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewUser carries data used to create a user.
type NewUser struct {
	Email       string
	DisplayName *string
	PlanID      string
}

// Plan represents a subscription tier. Limits of -1 are unlimited.
type Plan struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	MaxAvatars         int    `json:"max_avatars"`
	MaxAIClones        int    `json:"max_ai_clones"`
	MaxVideoMinutes    int    `json:"max_video_minutes"`
	AutomationsEnabled bool   `json:"automations_enabled"`
}

// Usage holds the consumption counters compared against a plan.
type Usage struct {
	UserID           string     `json:"user_id"`
	AvatarsUsed      int        `json:"avatars_used"`
	AIClonesUsed     int        `json:"ai_clones_used"`
	VideoMinutesUsed int        `json:"video_minutes_used"`
	UpdatedAt        *time.Time `json:"updated_at,omitempty"`
}

// UsageField names a counter in user_usage.
type UsageField string

const (
	UsageAvatars      UsageField = "avatars_used"
	UsageAIClones     UsageField = "ai_clones_used"
	UsageVideoMinutes UsageField = "video_minutes_used"
)

// Valid reports whether f is a known counter column.
func (f UsageField) Valid() bool {
	switch f {
	case UsageAvatars, UsageAIClones, UsageVideoMinutes:
		return true
	}
	return false
}

// Influencer is a synthetic persona rendered by the avatar API.
type Influencer struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Name       string    `json:"name"`
	TemplateID string    `json:"template_id"`
	VoiceID    *string   `json:"voice_id,omitempty"`
	LookID     *string   `json:"look_id,omitempty"`
	PreviewURL *string   `json:"preview_url,omitempty"`
	JobID      *string   `json:"job_id,omitempty"`
	Status     string    `json:"status"`
	Error      *string   `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// InfluencerUpdate lists optional column changes; nil fields are untouched.
type InfluencerUpdate struct {
	Status     *string
	TemplateID *string
	VoiceID    *string
	PreviewURL *string
	JobID      *string
	Error      *string
}

// Content is a scripted video belonging to one influencer.
type Content struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	InfluencerID    string    `json:"influencer_id"`
	Title           string    `json:"title"`
	Script          string    `json:"script"`
	Status          string    `json:"status"`
	JobID           *string   `json:"job_id,omitempty"`
	VideoURL        *string   `json:"video_url,omitempty"`
	Error           *string   `json:"error,omitempty"`
	DurationMinutes int       `json:"duration_minutes"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ContentUpdate lists optional column changes; nil fields are untouched.
type ContentUpdate struct {
	Status   *string
	JobID    *string
	VideoURL *string
	Error    *string
}

// Webhook is either an inbound trigger or an outbound automation target.
type Webhook struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Name          string    `json:"name"`
	URL           string    `json:"url"`
	Kind          string    `json:"kind"`
	Token         *string   `json:"token,omitempty"`
	Active        bool      `json:"active"`
	InfluencerIDs []string  `json:"influencer_ids"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// Deref returns *p or the zero value.
func Deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
