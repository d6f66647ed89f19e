package automation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	v "github.com/go-ozzo/ozzo-validation/v4"

	"avatar-studio/internal/metrics"
	"avatar-studio/internal/plan"
	"avatar-studio/internal/repo"
)

var (
	// ErrInvalidToken is returned when an inbound call carries a wrong token.
	ErrInvalidToken = errors.New("invalid webhook token")
	// ErrWebhookInactive is returned for disabled or outbound webhooks.
	ErrWebhookInactive = errors.New("webhook is not accepting calls")
)

// TokenHeader carries the inbound webhook secret.
const TokenHeader = "X-Webhook-Token"

const maxInboundBody = 1 << 20

// InboundRequest is the body third parties post to create a video.
type InboundRequest struct {
	Title  string `json:"title"`
	Script string `json:"script"`
}

// Validate checks the inbound body.
func (r InboundRequest) Validate() error {
	return v.ValidateStruct(&r,
		v.Field(&r.Title, v.Required, v.Length(1, 200)),
		v.Field(&r.Script, v.Required, v.Length(1, 10000)),
	)
}

// Trigger is the result of a processed inbound call.
type Trigger struct {
	WebhookID  string   `json:"webhook_id"`
	ContentIDs []string `json:"content_ids"`
}

// InboundProcessor turns an accepted call into video creations.
type InboundProcessor interface {
	TriggerWebhook(ctx context.Context, webhookID, token string, req InboundRequest) (*Trigger, error)
}

// InboundHandler serves POST /api/webhooks/{id}.
type InboundHandler struct {
	logger    *slog.Logger
	metrics   *metrics.Metrics
	processor InboundProcessor
}

// NewInboundHandler creates the inbound webhook handler.
func NewInboundHandler(logger *slog.Logger, m *metrics.Metrics, processor InboundProcessor) *InboundHandler {
	return &InboundHandler{
		logger:    logger.With("component", "inbound_webhook"),
		metrics:   m,
		processor: processor,
	}
}

// ServeHTTP satisfies http.Handler.
func (h *InboundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.respond(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		h.respond(w, http.StatusNotFound, map[string]string{"error": "webhook not found"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxInboundBody))
	defer r.Body.Close()
	if err != nil {
		h.respond(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}

	var req InboundRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.respond(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}
	if err := req.Validate(); err != nil {
		h.respond(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "fields": err})
		return
	}

	token := r.Header.Get(TokenHeader)
	if token == "" {
		token = r.URL.Query().Get("token")
	}

	trigger, err := h.processor.TriggerWebhook(r.Context(), id, token, req)
	if err != nil {
		status := inboundStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("inbound webhook failed", "webhook_id", id, "error", err)
			h.metrics.Error("inbound_webhook")
		} else {
			h.logger.Info("inbound webhook rejected", "webhook_id", id, "status", status, "error", err)
		}
		h.respond(w, status, map[string]string{"error": publicMessage(status, err)})
		return
	}

	h.respond(w, http.StatusAccepted, map[string]any{"status": "accepted", "webhook_id": trigger.WebhookID, "content_ids": trigger.ContentIDs})
}

func (h *InboundHandler) respond(w http.ResponseWriter, status int, body any) {
	h.metrics.Inbound(strconv.Itoa(status))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func inboundStatus(err error) int {
	var verrs v.Errors
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, ErrWebhookInactive):
		return http.StatusConflict
	case errors.Is(err, plan.ErrLimitExceeded):
		return http.StatusForbidden
	case errors.As(err, &verrs):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func publicMessage(status int, err error) string {
	switch status {
	case http.StatusNotFound:
		return "webhook not found"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusInternalServerError:
		return "failed to process"
	}
	return err.Error()
}
