package automation

import "avatar-studio/internal/repo"

// EventVideoCompleted is sent when a content render finishes, successfully
// or not.
const EventVideoCompleted = repo.WebhookVideoCompleted

// Payload is the JSON body posted to outbound automations.
type Payload struct {
	Event   string         `json:"event"`
	Content PayloadContent `json:"content"`
}

// PayloadContent describes the finished video.
type PayloadContent struct {
	Title          string `json:"title"`
	Script         string `json:"script"`
	InfluencerName string `json:"influencerName"`
	VideoURL       string `json:"video_url"`
	Status         string `json:"status"`
	Error          string `json:"error,omitempty"`
}

// BuildPayload assembles the video.completed notification.
func BuildPayload(content repo.Content, influencer repo.Influencer) Payload {
	return Payload{
		Event: EventVideoCompleted,
		Content: PayloadContent{
			Title:          content.Title,
			Script:         content.Script,
			InfluencerName: influencer.Name,
			VideoURL:       repo.Deref(content.VideoURL),
			Status:         content.Status,
			Error:          repo.Deref(content.Error),
		},
	}
}
