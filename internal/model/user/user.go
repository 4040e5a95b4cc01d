// Package user defines registered identities and the caller identity passed
// through request handling.
package user

import (
	"time"

	"github.com/quadai/quad/internal/model/chat"
)

// User is a registered account. PasswordHash is a bcrypt digest; the
// plaintext credential is never stored.
type User struct {
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
	SessionIDs   []string  `json:"session_ids"`
}

// Identity describes the caller of a request as established from its
// cookies. A zero Email means the caller is anonymous.
type Identity struct {
	// Email of the logged-in account; empty for anonymous callers.
	Email string
	// ActiveSessionID is the session the caller's cookie currently points
	// at. Guests are authorized for exactly this session.
	ActiveSessionID string
}

// Anonymous reports whether the identity has no registered account behind it.
func (id Identity) Anonymous() bool {
	return id.Email == "" || id.Email == chat.GuestOwner
}

// Owner returns the owner marker recorded on sessions created by this
// identity.
func (id Identity) Owner() string {
	if id.Email == "" {
		return chat.GuestOwner
	}
	return id.Email
}
