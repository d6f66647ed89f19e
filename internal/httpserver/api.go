package httpserver

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	v "github.com/go-ozzo/ozzo-validation/v4"

	"avatar-studio/internal/plan"
	"avatar-studio/internal/poller"
	"avatar-studio/internal/provider"
	"avatar-studio/internal/repo"
	"avatar-studio/internal/studio"
)

// UserHeader carries the caller identity set by the session layer in front
// of this service.
const UserHeader = "X-User-ID"

const maxBody = 1 << 20

type userHandler func(w http.ResponseWriter, r *http.Request, st *studio.Studio, userID string)

func (s *Server) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/users", s.handleCreateUser)
	mux.Handle("GET /api/me", s.user(s.handleMe))
	mux.Handle("GET /api/usage", s.user(s.handleUsage))

	mux.Handle("GET /api/influencers", s.user(s.handleListInfluencers))
	mux.Handle("POST /api/influencers", s.user(s.handleCreateInfluencer))
	mux.Handle("GET /api/influencers/{id}", s.user(s.handleGetInfluencer))
	mux.Handle("DELETE /api/influencers/{id}", s.user(s.handleDeleteInfluencer))
	mux.Handle("PUT /api/influencers/{id}/voice", s.user(s.handleAssignVoice))
	mux.Handle("POST /api/influencers/{id}/looks", s.user(s.handleGenerateLook))
	mux.Handle("POST /api/influencers/{id}/motion", s.user(s.handleAddMotion))
	mux.Handle("POST /api/voices", s.user(s.handleCreateVoice))

	mux.Handle("GET /api/influencers/{id}/contents", s.user(s.handleListContents))
	mux.Handle("POST /api/influencers/{id}/contents", s.user(s.handleCreateContent))
	mux.Handle("GET /api/contents/{id}", s.user(s.handleGetContent))
	mux.Handle("DELETE /api/contents/{id}", s.user(s.handleDeleteContent))
	mux.Handle("POST /api/scripts", s.user(s.handleGenerateScript))
	mux.Handle("POST /api/images", s.user(s.handleGenerateImage))
	mux.Handle("POST /api/translations", s.user(s.handleTranslate))
	mux.Handle("GET /api/translations/{id}", s.user(s.handleGetTranslation))

	mux.Handle("GET /api/automations", s.user(s.handleListWebhooks))
	mux.Handle("POST /api/automations", s.user(s.handleCreateWebhook))
	mux.Handle("POST /api/automations/{id}/toggle", s.user(s.handleToggleWebhook))
	mux.Handle("POST /api/automations/{id}/token", s.user(s.handleRegenerateToken))
	mux.Handle("DELETE /api/automations/{id}", s.user(s.handleDeleteWebhook))

	mux.Handle("DELETE /admin/users/{id}", s.admin(s.handleDeleteUser))
}

// user resolves the caller and the studio before running h.
func (s *Server) user(h userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := s.deps.Studio
		if st == nil {
			writeError(w, http.StatusServiceUnavailable, "studio unavailable")
			return
		}
		userID := strings.TrimSpace(r.Header.Get(UserHeader))
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing "+UserHeader+" header")
			return
		}
		h(w, r, st, userID)
	})
}

func (s *Server) admin(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.AdminToken == "" {
			writeError(w, http.StatusForbidden, "admin api disabled")
			return
		}
		got := []byte(r.Header.Get("Authorization"))
		if subtle.ConstantTimeCompare(got, []byte("Bearer "+s.deps.AdminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		h(w, r)
	})
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if s.deps.Studio == nil {
		writeError(w, http.StatusServiceUnavailable, "studio unavailable")
		return
	}
	var in studio.CreateUserInput
	if !decode(w, r, &in) {
		return
	}
	u, err := s.deps.Studio.Users.Create(r.Context(), in)
	s.respond(w, r, http.StatusCreated, u, err)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, st *studio.Studio, userID string) {
	u, err := st.Users.Get(r.Context(), userID)
	s.respond(w, r, http.StatusOK, u, err)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request, st *studio.Studio, userID string) {
	summary, err := st.Users.Usage(r.Context(), userID)
	s.respond(w, r, http.StatusOK, summary, err)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if s.deps.Studio == nil {
		writeError(w, http.StatusServiceUnavailable, "studio unavailable")
		return
	}
	err := s.deps.Studio.Users.Delete(r.Context(), r.PathValue("id"))
	s.respond(w, r, http.StatusNoContent, nil, err)
}

func (s *Server) handleListInfluencers(w http.ResponseWriter, r *http.Request, st *studio.Studio, userID string) {
	list, err := st.Influencers.List(r.Context(), userID)
	s.respond(w, r, http.StatusOK, list, err)
}

func (s *Server) handleCreateInfluencer(w http.ResponseWriter, r *http.Request, st *studio.Studio, userID string) {
	var in studio.CreateInfluencerInput
	if !decode(w, r, &in) {
		return
	}
	inf, err := st.Influencers.Create(r.Context(), userID, in)
	s.respond(w, r, http.StatusCreated, inf, err)
}

func (s *Server) handleGetInfluencer(w http.ResponseWriter, r *http.Request, st *studio.Studio, userID string) {
	inf, err := st.Influencers.Get(r.Context(), userID, r.PathValue("id"))
	s.respond(w, r, http.StatusOK, inf, err)
}

func (s *Server) handleDeleteInfluencer(w http.ResponseWriter, r *http.Request, st *studio.Studio, userID string) {
	err := st.Influencers.Delete(r.Context(), userID, r.PathValue("id"))
	s.respond(w, r, http.StatusNoContent, nil, err)
}

func (s *Server) handleAssignVoice(w http.ResponseWriter, r *http.Request, st *studio.Studio, userID string) {
	var in struct {
		VoiceID string `json:"voice_id"`
	}
	if !decode(w, r, &in) {
		return
	}
	inf, err := st.Influencers.AssignVoice(r.Context(), userID, r.PathValue("id"), in.VoiceID)
	s.respond(w, r, http.StatusOK, inf, err)
}

func (s *Server) handleGenerateLook(w http.ResponseWriter, r *http.Request, st *studio.Studio, userID string) {
	var in studio.LookInput
	if !decode(w, r, &in) {
		return
	}
	inf, err := st.Influencers.GenerateLook(r.Context(), userID, r.PathValue("id"), in)
	s.respond(w, r, http.StatusAccepted, inf, err)
}

func (s *Server) handleAddMotion(w http.ResponseWriter, r *http.Request, st *studio.Studio, userID string) {
	inf, err := st.Influencers.AddMotion(r.Context(), userID, r.PathValue("id"))
	s.respond(w, r, http.StatusAccepted, inf, err)
}

func (s *Server) handleCreateVoice(w http.ResponseWriter, r *http.Request, st *studio.Studio, userID string) {
	var in studio.CreateVoiceInput
	if !decode(w, r, &in) {
		return
	}
	voice, err := st.Influencers.CreateVoice(r.Context(), userID, in)
	s.respond(w, r, http.StatusCreated, voice, err)
}

func (s *Server) handleListContents(w http.ResponseWriter, r *http.Request, st *studio.Studio, userID string) {
	list, err := st.Contents.List(r.Context(), userID, r.PathValue("id"))
	s.respond(w, r, http.StatusOK, list, err)
}

func (s *Server) handleCreateContent(w http.ResponseWriter, r *http.Request, st *studio.Studio, userID string) {
	var in studio.CreateContentInput
	if !decode(w, r, &in) {
		return
	}
	content, err := st.Contents.Create(r.Context(), userID, r.PathValue("id"), in)
	s.respond(w, r, http.StatusAccepted, content, err)
}

func (s *Server) handleGetContent(w http.ResponseWriter, r *http.Request, st *studio.Studio, userID string) {
	content, err := st.Contents.Get(r.Context(), userID, r.PathValue("id"))
	s.respond(w, r, http.StatusOK, content, err)
}

func (s *Server) handleDeleteContent(w http.ResponseWriter, r *http.Request, st *studio.Studio, userID string) {
	err := st.Contents.Delete(r.Context(), userID, r.PathValue("id"))
	s.respond(w, r, http.StatusNoContent, nil, err)
}

func (s *Server) handleGenerateScript(w http.ResponseWriter, r *http.Request, st *studio.Studio, userID string) {
	var in studio.ScriptInput
	if !decode(w, r, &in) {
		return
	}
	script, err := st.Contents.GenerateScript(r.Context(), userID, in)
	s.respond(w, r, http.StatusOK, map[string]string{"script": script}, err)
}

func (s *Server) handleGenerateImage(w http.ResponseWriter, r *http.Request, st *studio.Studio, userID string) {
	var in studio.ImageInput
	if !decode(w, r, &in) {
		return
	}
	img, err := st.Images.Generate(r.Context(), userID, in)
	s.respond(w, r, http.StatusOK, img, err)
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request, st *studio.Studio, userID string) {
	var in studio.TranslateInput
	if !decode(w, r, &in) {
		return
	}
	tr, err := st.Translations.Translate(r.Context(), userID, in)
	s.respond(w, r, http.StatusAccepted, tr, err)
}

func (s *Server) handleGetTranslation(w http.ResponseWriter, r *http.Request, st *studio.Studio, userID string) {
	tr, err := st.Translations.Get(userID, r.PathValue("id"))
	s.respond(w, r, http.StatusOK, tr, err)
}

func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request, st *studio.Studio, userID string) {
	list, err := st.Webhooks.List(r.Context(), userID)
	s.respond(w, r, http.StatusOK, list, err)
}

func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request, st *studio.Studio, userID string) {
	var in studio.CreateWebhookInput
	if !decode(w, r, &in) {
		return
	}
	hook, err := st.Webhooks.Create(r.Context(), userID, in)
	s.respond(w, r, http.StatusCreated, hook, err)
}

func (s *Server) handleToggleWebhook(w http.ResponseWriter, r *http.Request, st *studio.Studio, userID string) {
	hook, err := st.Webhooks.Toggle(r.Context(), userID, r.PathValue("id"))
	s.respond(w, r, http.StatusOK, hook, err)
}

func (s *Server) handleRegenerateToken(w http.ResponseWriter, r *http.Request, st *studio.Studio, userID string) {
	token, err := st.Webhooks.RegenerateToken(r.Context(), userID, r.PathValue("id"))
	s.respond(w, r, http.StatusOK, map[string]string{"token": token}, err)
}

func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request, st *studio.Studio, userID string) {
	err := st.Webhooks.Delete(r.Context(), userID, r.PathValue("id"))
	s.respond(w, r, http.StatusNoContent, nil, err)
}

// respond writes body with status, or the mapped error.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, body any, err error) {
	if err != nil {
		code := statusFor(err)
		if code >= http.StatusInternalServerError {
			s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", code, "error", err)
			s.metrics.Error("http")
		}
		writeErr(w, code, err)
		return
	}
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	writeJSONStatus(w, status, body)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var (
		verrs    v.Errors
		verr     v.Error
		upstream *provider.UpstreamError
		jobErr   *poller.JobFailedError
		tErr     *poller.TransportError
	)
	switch {
	case errors.As(err, &verrs), errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, plan.ErrLimitExceeded):
		return http.StatusForbidden
	case errors.Is(err, repo.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, studio.ErrNotReady), errors.Is(err, poller.ErrAlreadyPolling), errors.Is(err, poller.ErrLockHeld):
		return http.StatusConflict
	case errors.Is(err, provider.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, provider.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, poller.ErrTimedOut):
		return http.StatusGatewayTimeout
	case errors.Is(err, provider.ErrInvalidCredential),
		errors.As(err, &upstream), errors.As(err, &jobErr), errors.As(err, &tErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeErr(w http.ResponseWriter, status int, err error) {
	var verrs v.Errors
	switch {
	case status == http.StatusBadRequest && errors.As(err, &verrs):
		writeJSONStatus(w, status, map[string]any{"error": "validation failed", "fields": verrs})
	case status == http.StatusInternalServerError:
		writeError(w, status, "internal error")
	default:
		writeError(w, status, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSONStatus(w, status, map[string]string{"error": msg})
}

func decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	defer r.Body.Close()
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return false
	}
	if err := json.Unmarshal(body, dest); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}
