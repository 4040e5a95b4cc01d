// Package auth exposes account registration, login, logout, and the guest
// entry point. Identity travels in HttpOnly cookies; these handlers are the
// only writers of those cookies besides the session switch endpoint.
package auth

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quadai/quad/internal/apperr"
	"github.com/quadai/quad/internal/middleware"
	"github.com/quadai/quad/internal/model/user"
	sessionsvc "github.com/quadai/quad/internal/service/session"
	usersvc "github.com/quadai/quad/internal/service/user"
	"github.com/quadai/quad/pkg/utils"
)

// Handler serves the auth endpoints.
type Handler struct {
	users    *usersvc.Service
	sessions *sessionsvc.Service
}

func New(users *usersvc.Service, sessions *sessionsvc.Service) *Handler {
	return &Handler{users: users, sessions: sessions}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/register", h.handleRegister)
	r.Post("/auth/login", h.handleLogin)
	r.Post("/auth/logout", h.handleLogout)
	r.Post("/auth/guest", h.handleGuest)
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func decodeCredentials(r *http.Request) (credentials, error) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		return credentials{}, apperr.New(apperr.CodeInvalidRequest, "invalid request body")
	}
	return creds, nil
}

// handleRegister creates the account and the caller's first session.
func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	creds, err := decodeCredentials(r)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}

	account, err := h.users.Register(r.Context(), creds.Email, creds.Password)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}

	session, err := h.sessions.Create(r.Context(), user.Identity{Email: account.Email})
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}

	middleware.SetUserEmail(w, account.Email)
	middleware.SetActiveSession(w, session.ID)
	utils.RespondJSON(w, http.StatusCreated, map[string]string{
		"email":      account.Email,
		"session_id": session.ID,
	})
}

// handleLogin verifies credentials and starts a fresh session rather than
// resuming an old one; previous sessions stay reachable through the listing.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	creds, err := decodeCredentials(r)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}

	account, err := h.users.Authenticate(r.Context(), creds.Email, creds.Password)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}

	session, err := h.sessions.Create(r.Context(), user.Identity{Email: account.Email})
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}

	middleware.SetUserEmail(w, account.Email)
	middleware.SetActiveSession(w, session.ID)
	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"email":      account.Email,
		"session_id": session.ID,
	})
}

// handleLogout drops the identity cookies. Sessions themselves are kept; a
// returning login lists them again.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	middleware.ClearIdentity(w)
	utils.RespondJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// handleGuest mints an anonymous session. The cookie is the only claim to it.
func (h *Handler) handleGuest(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.Create(r.Context(), user.Identity{})
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}

	middleware.SetActiveSession(w, session.ID)
	utils.RespondJSON(w, http.StatusCreated, map[string]string{"session_id": session.ID})
}
