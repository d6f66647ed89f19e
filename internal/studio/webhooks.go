package studio

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	v "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"

	"avatar-studio/internal/automation"
	"avatar-studio/internal/plan"
	"avatar-studio/internal/repo"
)

// Webhooks manages inbound triggers and outbound automations.
type Webhooks struct {
	*base
	contents *Contents
}

// CreateWebhookInput registers a webhook. URL is required for outbound
// automations and derived for inbound ones.
type CreateWebhookInput struct {
	Name          string   `json:"name"`
	Kind          string   `json:"kind"`
	URL           string   `json:"url"`
	InfluencerIDs []string `json:"influencer_ids"`
}

// Validate checks the webhook payload.
func (in CreateWebhookInput) Validate() error {
	return v.ValidateStruct(&in,
		v.Field(&in.Name, v.Required, v.Length(1, 80)),
		v.Field(&in.Kind, v.Required, v.In(repo.WebhookVideoCreate, repo.WebhookVideoCompleted)),
		v.Field(&in.URL, v.When(in.Kind == repo.WebhookVideoCompleted, v.Required, is.URL)),
		v.Field(&in.InfluencerIDs, v.Required, v.Each(v.Required)),
	)
}

// Create stores an active webhook linked to the given influencers.
func (s *Webhooks) Create(ctx context.Context, userID string, in CreateWebhookInput) (*repo.Webhook, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.URL = strings.TrimSpace(in.URL)
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if err := s.Gate.Check(ctx, userID, plan.Automations, 1); err != nil {
		return nil, err
	}
	for _, id := range in.InfluencerIDs {
		if _, err := s.ownedInfluencer(ctx, userID, id); err != nil {
			return nil, err
		}
	}

	hook := repo.Webhook{
		ID:            uuid.NewString(),
		UserID:        userID,
		Name:          in.Name,
		URL:           in.URL,
		Kind:          in.Kind,
		Active:        true,
		InfluencerIDs: dedupe(in.InfluencerIDs),
	}
	if in.Kind == repo.WebhookVideoCreate {
		hook.URL = automation.InboundURL(s.PublicBaseURL, hook.ID, hook.Name)
		hook.Token = repo.Ptr(repo.NewToken())
	}

	created, err := s.Store.InsertWebhook(ctx, hook)
	if err != nil {
		return nil, err
	}
	s.logger.Info("webhook created", "user_id", userID, "webhook_id", created.ID, "kind", created.Kind)
	return created, nil
}

// List returns the user's webhooks.
func (s *Webhooks) List(ctx context.Context, userID string) ([]repo.Webhook, error) {
	return s.Store.ListWebhooks(ctx, userID)
}

// Toggle flips the active flag. Enabling requires automations in the plan.
func (s *Webhooks) Toggle(ctx context.Context, userID, id string) (*repo.Webhook, error) {
	hook, err := s.ownedWebhook(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	active := !hook.Active
	if active {
		if err := s.Gate.Check(ctx, userID, plan.Automations, 1); err != nil {
			return nil, err
		}
	}
	if err := s.Store.SetWebhookActive(ctx, id, active); err != nil {
		return nil, err
	}
	return s.Store.GetWebhook(ctx, id)
}

// Delete removes a webhook.
func (s *Webhooks) Delete(ctx context.Context, userID, id string) error {
	if _, err := s.ownedWebhook(ctx, userID, id); err != nil {
		return err
	}
	return s.Store.DeleteWebhook(ctx, id)
}

// RegenerateToken rotates the secret of an inbound webhook.
func (s *Webhooks) RegenerateToken(ctx context.Context, userID, id string) (string, error) {
	hook, err := s.ownedWebhook(ctx, userID, id)
	if err != nil {
		return "", err
	}
	if hook.Kind != repo.WebhookVideoCreate {
		return "", v.Errors{"kind": errors.New("only inbound webhooks have a token")}
	}
	return s.Store.RegenerateWebhookToken(ctx, id)
}

// TriggerWebhook handles an inbound call: it checks the webhook is an active
// video.create hook, verifies the token when one is set and creates one
// video per linked influencer.
func (s *Webhooks) TriggerWebhook(ctx context.Context, webhookID, token string, req automation.InboundRequest) (*automation.Trigger, error) {
	hook, err := s.Store.GetWebhook(ctx, webhookID)
	if err != nil {
		return nil, err
	}
	if hook.Kind != repo.WebhookVideoCreate || !hook.Active {
		return nil, automation.ErrWebhookInactive
	}
	if expected := repo.Deref(hook.Token); expected != "" {
		if subtle.ConstantTimeCompare([]byte(expected), []byte(token)) != 1 {
			return nil, automation.ErrInvalidToken
		}
	}
	if len(hook.InfluencerIDs) == 0 {
		return nil, fmt.Errorf("%w: no influencers linked", automation.ErrWebhookInactive)
	}

	trigger := &automation.Trigger{WebhookID: hook.ID, ContentIDs: []string{}}
	var firstErr error
	for _, infID := range hook.InfluencerIDs {
		content, err := s.contents.Create(ctx, hook.UserID, infID, CreateContentInput{Title: req.Title, Script: req.Script})
		if err != nil {
			s.logger.Warn("inbound video creation failed", "webhook_id", hook.ID, "influencer_id", infID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		trigger.ContentIDs = append(trigger.ContentIDs, content.ID)
	}
	if len(trigger.ContentIDs) == 0 {
		return nil, firstErr
	}
	return trigger, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
