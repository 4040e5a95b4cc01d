package session_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/quadai/quad/internal/apperr"
	"github.com/quadai/quad/internal/event"
	sessionhandler "github.com/quadai/quad/internal/handler/session"
	"github.com/quadai/quad/internal/middleware"
	"github.com/quadai/quad/internal/model/chat"
	"github.com/quadai/quad/internal/model/user"
	sessionsvc "github.com/quadai/quad/internal/service/session"
	"github.com/quadai/quad/internal/storage"
)

const email = "ada@brookfield.edu"

type fixture struct {
	router   http.Handler
	sessions *sessionsvc.Service
}

func setup(t *testing.T) *fixture {
	t.Helper()
	bus := event.NewBus()
	t.Cleanup(func() { bus.Close() })
	sessions := sessionsvc.New(storage.New(t.TempDir()), bus)

	r := chi.NewRouter()
	r.Use(middleware.Identity)
	r.Route("/api", func(api chi.Router) {
		sessionhandler.New(sessions).RegisterRoutes(api)
	})
	return &fixture{router: r, sessions: sessions}
}

type cookies struct {
	sessionID string
	email     string
}

func (f *fixture) do(t *testing.T, method, path string, c cookies) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if c.email != "" {
		req.AddCookie(&http.Cookie{Name: middleware.CookieUserEmail, Value: c.email})
	}
	if c.sessionID != "" {
		req.AddCookie(&http.Cookie{Name: middleware.CookieSessionID, Value: c.sessionID})
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == middleware.CookieSessionID {
			return c
		}
	}
	return nil
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope %s: %v", body, err)
	}
	return envelope.Error.Code
}

func TestCreateSetsActiveCookie(t *testing.T) {
	f := setup(t)

	rec := f.do(t, http.MethodPost, "/api/sessions", cookies{email: email})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp["session_id"] == "" {
		t.Fatal("response missing session_id")
	}

	c := sessionCookie(t, rec)
	if c == nil {
		t.Fatal("no session cookie set")
	}
	if c.Value != resp["session_id"] {
		t.Errorf("cookie points at %q, body says %q", c.Value, resp["session_id"])
	}
	if !c.HttpOnly || c.SameSite != http.SameSiteStrictMode {
		t.Errorf("cookie not HttpOnly+Strict: %+v", c)
	}
}

func TestListReturnsOwnSessionsOnly(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	mine, err := f.sessions.Create(ctx, user.Identity{Email: email})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := f.sessions.Create(ctx, user.Identity{Email: "other@brookfield.edu"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	rec := f.do(t, http.MethodGet, "/api/sessions", cookies{email: email})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Sessions []chat.SessionSummary `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(resp.Sessions) != 1 || resp.Sessions[0].ID != mine.ID {
		t.Errorf("sessions = %+v, want only %s", resp.Sessions, mine.ID)
	}
}

func TestListEmptyIsArray(t *testing.T) {
	f := setup(t)
	rec := f.do(t, http.MethodGet, "/api/sessions", cookies{email: email})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Body.String(); !json.Valid([]byte(got)) || got == "" {
		t.Fatalf("body = %q", got)
	}
	var resp struct {
		Sessions []chat.SessionSummary `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Sessions == nil {
		t.Error("empty listing must be [], not null")
	}
}

func TestGetReturnsFullHistory(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	identity := user.Identity{Email: email}

	sess, err := f.sessions.Create(ctx, identity)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := f.sessions.Append(ctx, identity, sess.ID,
		chat.Turn{Role: chat.RoleUser, Content: "hi"},
		chat.Turn{Role: chat.RoleAssistant, Content: "hello"},
	); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	rec := f.do(t, http.MethodGet, "/api/sessions/"+sess.ID, cookies{email: email})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var got chat.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal session: %v", err)
	}
	if got.ID != sess.ID || len(got.Turns) != 2 {
		t.Errorf("session = %s with %d turns", got.ID, len(got.Turns))
	}
	if got.Turns[0].Content != "hi" || got.Turns[1].Content != "hello" {
		t.Errorf("turns out of order: %+v", got.Turns)
	}
}

func TestOwnershipAndAbsence(t *testing.T) {
	f := setup(t)
	sess, err := f.sessions.Create(context.Background(), user.Identity{Email: email})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	tests := []struct {
		name       string
		path       string
		caller     cookies
		wantStatus int
		wantCode   apperr.Code
	}{
		{"foreign session", "/api/sessions/" + sess.ID, cookies{email: "mallory@brookfield.edu"}, http.StatusForbidden, apperr.CodeUnauthorized},
		{"absent session", "/api/sessions/" + strings.Repeat("a", 43), cookies{email: email}, http.StatusNotFound, apperr.CodeNotFound},
		{"malformed id", "/api/sessions/bad!id", cookies{email: email}, http.StatusBadRequest, apperr.CodeInvalidIdentifier},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, tt.path, tt.caller)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if code := errorCode(t, rec.Body.Bytes()); code != string(tt.wantCode) {
				t.Errorf("error code = %q, want %q", code, tt.wantCode)
			}
		})
	}
}

func TestDeleteSession(t *testing.T) {
	f := setup(t)
	sess, err := f.sessions.Create(context.Background(), user.Identity{Email: email})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	rec := f.do(t, http.MethodDelete, "/api/sessions/"+sess.ID, cookies{email: email, sessionID: sess.ID})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if c := sessionCookie(t, rec); c == nil || c.MaxAge >= 0 {
		t.Errorf("active-session cookie not expired after deleting it: %+v", c)
	}

	rec = f.do(t, http.MethodDelete, "/api/sessions/"+sess.ID, cookies{email: email})
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestSwitchSession(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	identity := user.Identity{Email: email}

	first, err := f.sessions.Create(ctx, identity)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	second, err := f.sessions.Create(ctx, identity)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	rec := f.do(t, http.MethodPost, "/api/sessions/"+first.ID+"/switch", cookies{email: email, sessionID: second.ID})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if c := sessionCookie(t, rec); c == nil || c.Value != first.ID {
		t.Errorf("switch did not repoint the cookie: %+v", c)
	}
}

func TestGuestSeesOnlyActiveSession(t *testing.T) {
	f := setup(t)

	created := f.do(t, http.MethodPost, "/api/sessions", cookies{})
	if created.Code != http.StatusCreated {
		t.Fatalf("status = %d", created.Code)
	}
	guestCookie := sessionCookie(t, created)
	if guestCookie == nil {
		t.Fatal("guest got no session cookie")
	}

	// The cookie holder reaches the session.
	rec := f.do(t, http.MethodGet, "/api/sessions/"+guestCookie.Value, cookies{sessionID: guestCookie.Value})
	if rec.Code != http.StatusOK {
		t.Errorf("cookie holder denied: %d", rec.Code)
	}

	// A cookie-less caller does not, and cannot tell the session exists.
	rec = f.do(t, http.MethodGet, "/api/sessions/"+guestCookie.Value, cookies{})
	if rec.Code != http.StatusForbidden {
		t.Errorf("stranger status = %d, want 403", rec.Code)
	}
}
