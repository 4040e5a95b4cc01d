package chat

import "time"

// Turn roles. The engine's system preamble is assembled per request and never
// persisted as a turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message within a session.
type Turn struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
