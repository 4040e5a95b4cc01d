package engine

import (
	"strings"
	"testing"
	"time"
)

func TestPromptBuilderSystem(t *testing.T) {
	b := NewPromptBuilder(staticKnowledge(`{"dining": {"hours": "7am-9pm"}}`))
	b.now = func() time.Time { return time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC) }

	got := b.System()
	if !strings.HasPrefix(got, "You are Quad") {
		t.Errorf("system prompt does not open with the persona:\n%s", got)
	}
	if !strings.Contains(got, `"dining"`) {
		t.Error("system prompt missing the knowledge snapshot")
	}
	if !strings.Contains(got, "Friday, March 14, 2025") {
		t.Error("system prompt missing the date")
	}

	if again := b.System(); again != got {
		t.Error("system prompt not deterministic for a fixed clock and snapshot")
	}
}

func TestPromptBuilderWithoutKnowledge(t *testing.T) {
	b := NewPromptBuilder(nil)
	b.now = func() time.Time { return time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC) }

	got := b.System()
	if strings.Contains(got, "Campus material:") {
		t.Error("empty knowledge still produced a material section")
	}

	b = NewPromptBuilder(staticKnowledge("  \n"))
	b.now = func() time.Time { return time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC) }
	if strings.Contains(b.System(), "Campus material:") {
		t.Error("blank snapshot still produced a material section")
	}
}
