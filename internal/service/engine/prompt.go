package engine

import (
	"strings"
	"time"
)

// Knowledge supplies the campus material embedded in every system prompt.
// *knowledge.Provider satisfies it.
type Knowledge interface {
	Snapshot() string
}

const personaPreamble = `You are Quad, the virtual campus assistant for Brookfield College. You help students, faculty, and staff with questions about courses, schedules, facilities, events, and campus services.

Answer from the campus material provided below whenever it covers the question. If the material does not cover the question and a web search tool is available, you may use it to look up current information. Otherwise say plainly that you do not know rather than guessing.

Keep answers concise and factual.`

// PromptBuilder assembles the system prompt for one exchange. The output is
// deterministic for a given knowledge snapshot and clock reading.
type PromptBuilder struct {
	knowledge Knowledge
	now       func() time.Time
}

func NewPromptBuilder(k Knowledge) *PromptBuilder {
	return &PromptBuilder{knowledge: k, now: time.Now}
}

// System returns the persona preamble followed by the current knowledge
// snapshot and today's date.
func (b *PromptBuilder) System() string {
	var sb strings.Builder
	sb.WriteString(personaPreamble)

	if b.knowledge != nil {
		if snapshot := strings.TrimSpace(b.knowledge.Snapshot()); snapshot != "" {
			sb.WriteString("\n\nCampus material:\n")
			sb.WriteString(snapshot)
		}
	}

	sb.WriteString("\n\nToday's date: ")
	sb.WriteString(b.now().Format("Monday, January 2, 2006"))
	return sb.String()
}
