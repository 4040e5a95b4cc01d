// Package chat exposes the question endpoints: a single-shot answer and a
// token stream over server-sent events.
package chat

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/quadai/quad/internal/apperr"
	"github.com/quadai/quad/internal/logging"
	"github.com/quadai/quad/internal/middleware"
	chatsvc "github.com/quadai/quad/internal/service/chat"
	"github.com/quadai/quad/internal/service/session"
	"github.com/quadai/quad/pkg/utils"
)

// Handler serves the chat endpoints. A nil coordinator means no engine is
// configured; both endpoints then refuse with ENGINE_UNAVAILABLE.
type Handler struct {
	coordinator *chatsvc.Coordinator
}

func New(coordinator *chatsvc.Coordinator) *Handler {
	return &Handler{coordinator: coordinator}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleAsk)
	r.Post("/chat/stream", h.handleStream)
}

func (h *Handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	if h.coordinator == nil {
		utils.RespondAppError(w, apperr.New(apperr.CodeEngineUnavailable, "inference engine is not configured"))
		return
	}
	req, err := h.parseRequest(r)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}

	answer, err := h.coordinator.Answer(r.Context(), req)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"answer": answer})
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	if h.coordinator == nil {
		utils.RespondAppError(w, apperr.New(apperr.CodeEngineUnavailable, "inference engine is not configured"))
		return
	}
	req, err := h.parseRequest(r)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	// Reject malformed identifiers while a plain JSON error is still
	// possible, before the response commits to an event stream.
	if err := session.ValidateID(req.SessionID); err != nil {
		utils.RespondAppError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, string(apperr.CodeInternal), "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	state, err := h.coordinator.StreamAnswer(r.Context(), req, func(ev chatsvc.Event) error {
		return utils.SendSSEChunk(w, flusher, frameFor(ev))
	})
	if err != nil {
		logging.Debug().Str("state", string(state)).Err(err).Msg("stream ended early")
	}
}

type askPayload struct {
	Question  string `json:"question"`
	SessionID string `json:"sessionId"`
}

// parseRequest resolves the question and target session from the body, with
// the caller's session cookie as the fallback target.
func (h *Handler) parseRequest(r *http.Request) (chatsvc.Request, error) {
	var payload askPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return chatsvc.Request{}, apperr.New(apperr.CodeInvalidRequest, "invalid request body")
	}

	question := strings.TrimSpace(payload.Question)
	if question == "" {
		return chatsvc.Request{}, apperr.New(apperr.CodeInvalidRequest, "question is required")
	}

	identity := middleware.IdentityFrom(r.Context())
	sessionID := payload.SessionID
	if sessionID == "" {
		sessionID = identity.ActiveSessionID
	}
	if sessionID == "" {
		return chatsvc.Request{}, apperr.New(apperr.CodeInvalidRequest, "no session specified and no active session")
	}

	return chatsvc.Request{
		SessionID: sessionID,
		Question:  question,
		Identity:  identity,
		ClientIP:  middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	}, nil
}

// streamFrame is the wire form of one stream event: {"token": ...},
// {"done": true}, or {"error": ..., "code": ...}.
type streamFrame struct {
	Token string `json:"token,omitempty"`
	Done  bool   `json:"done,omitempty"`
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

func frameFor(ev chatsvc.Event) streamFrame {
	switch {
	case ev.Err != nil:
		return streamFrame{Error: apperr.MessageOf(ev.Err), Code: string(apperr.CodeOf(ev.Err))}
	case ev.Done:
		return streamFrame{Done: true}
	default:
		return streamFrame{Token: ev.Token}
	}
}
