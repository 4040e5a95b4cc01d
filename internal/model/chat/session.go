package chat

import "time"

// GuestOwner marks sessions minted for anonymous callers.
const GuestOwner = "guest"

// Session is a durable conversation thread. Turns are insertion-ordered and
// immutable once appended.
type Session struct {
	ID        string    `json:"session_id"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Turns     []Turn    `json:"turns"`
}

// SessionSummary is the listing view of a session.
type SessionSummary struct {
	ID        string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Preview   string    `json:"preview"`
	TurnCount int       `json:"turn_count"`
}
