// Package session exposes the conversation lifecycle endpoints: list,
// create, fetch, delete, and switch.
package session

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quadai/quad/internal/middleware"
	"github.com/quadai/quad/internal/model/chat"
	sessionsvc "github.com/quadai/quad/internal/service/session"
	"github.com/quadai/quad/pkg/utils"
)

// Handler serves session management.
type Handler struct {
	sessions *sessionsvc.Service
}

func New(sessions *sessionsvc.Service) *Handler {
	return &Handler{sessions: sessions}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions", h.handleList)
	r.Post("/sessions", h.handleCreate)
	r.Get("/sessions/{sessionID}", h.handleGet)
	r.Delete("/sessions/{sessionID}", h.handleDelete)
	r.Post("/sessions/{sessionID}/switch", h.handleSwitch)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFrom(r.Context())
	summaries, err := h.sessions.List(r.Context(), identity)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	if summaries == nil {
		summaries = []chat.SessionSummary{}
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"sessions": summaries})
}

// handleCreate mints a session for the caller and makes it their active one.
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFrom(r.Context())
	session, err := h.sessions.Create(r.Context(), identity)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}

	middleware.SetActiveSession(w, session.ID)
	utils.RespondJSON(w, http.StatusCreated, map[string]string{"session_id": session.ID})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFrom(r.Context())
	session, err := h.sessions.Load(r.Context(), identity, chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFrom(r.Context())
	id := chi.URLParam(r, "sessionID")
	if err := h.sessions.Delete(r.Context(), identity, id); err != nil {
		utils.RespondAppError(w, err)
		return
	}

	// Deleting the active session leaves the cookie dangling; expire it.
	if identity.ActiveSessionID == id {
		middleware.ClearActiveSession(w)
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"message": "session deleted"})
}

// handleSwitch repoints the caller's active-session cookie after confirming
// the target session exists and belongs to them.
func (h *Handler) handleSwitch(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFrom(r.Context())
	session, err := h.sessions.Switch(r.Context(), identity, chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}

	middleware.SetActiveSession(w, session.ID)
	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"message":    "session switched",
		"session_id": session.ID,
	})
}
