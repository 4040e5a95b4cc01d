package chat

import "github.com/quadai/quad/internal/model/chat"

// DefaultContextTurns is how many recent turns accompany a question when no
// explicit bound is configured.
const DefaultContextTurns = 10

// Assembler produces the bounded recent context handed to the engine.
type Assembler struct {
	limit int
}

func NewAssembler(limit int) *Assembler {
	if limit <= 0 {
		limit = DefaultContextTurns
	}
	return &Assembler{limit: limit}
}

// BuildContext returns the session's most recent turns in order, oldest
// first, capped at the configured bound. The result is a copy, later appends
// to the session never alias it.
func (a *Assembler) BuildContext(session *chat.Session) []chat.Turn {
	turns := session.Turns
	if len(turns) > a.limit {
		turns = turns[len(turns)-a.limit:]
	}
	out := make([]chat.Turn, len(turns))
	copy(out, turns)
	return out
}
