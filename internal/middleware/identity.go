// Package middleware carries the HTTP concerns shared across handlers:
// caller identity extraction from cookies and per-client rate limiting.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/quadai/quad/internal/model/user"
	"github.com/quadai/quad/internal/service/session"
)

// Cookie names shared by the auth and session handlers.
const (
	CookieSessionID = "session_id"
	CookieUserEmail = "user_email"
)

type contextKey int

const identityKey contextKey = iota

// Identity reads the caller's cookies into a user.Identity and stores it on
// the request context. Malformed cookie values are treated as absent; the
// cookies are a claim of identity, authorization happens at the services.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var identity user.Identity
		if c, err := r.Cookie(CookieUserEmail); err == nil {
			identity.Email = strings.TrimSpace(c.Value)
		}
		if c, err := r.Cookie(CookieSessionID); err == nil && session.ValidateID(c.Value) == nil {
			identity.ActiveSessionID = c.Value
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// WithIdentity returns a context carrying identity.
func WithIdentity(ctx context.Context, identity user.Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFrom returns the identity stored by the Identity middleware, or the
// zero identity when none was set.
func IdentityFrom(ctx context.Context) user.Identity {
	identity, _ := ctx.Value(identityKey).(user.Identity)
	return identity
}

// SetActiveSession points the caller's session cookie at id.
func SetActiveSession(w http.ResponseWriter, id string) {
	http.SetCookie(w, sessionCookie(id, 0))
}

// SetUserEmail records the caller's account email in a cookie.
func SetUserEmail(w http.ResponseWriter, email string) {
	http.SetCookie(w, emailCookie(email, 0))
}

// ClearActiveSession expires the session cookie only.
func ClearActiveSession(w http.ResponseWriter) {
	http.SetCookie(w, sessionCookie("", -1))
}

// ClearIdentity expires both identity cookies.
func ClearIdentity(w http.ResponseWriter) {
	http.SetCookie(w, sessionCookie("", -1))
	http.SetCookie(w, emailCookie("", -1))
}

func sessionCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     CookieSessionID,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

func emailCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     CookieUserEmail,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}
