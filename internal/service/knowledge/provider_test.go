package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeKnowledge(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write knowledge file: %v", err)
	}
}

func TestLoadAndSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knowledge.json")
	writeKnowledge(t, path, `[
		{"title": "Library", "url": "https://brookfield.edu/library", "content": "Open 8am to midnight."},
		{"title": "Empty", "url": "https://brookfield.edu/empty", "content": "   "},
		{"title": "Dining", "url": "https://brookfield.edu/dining", "content": "Three dining halls."}
	]`)

	p := New(path)

	snapshot := p.Snapshot()
	if !strings.Contains(snapshot, "## Library") || !strings.Contains(snapshot, "Open 8am to midnight.") {
		t.Errorf("snapshot missing library entry: %q", snapshot)
	}
	if strings.Contains(snapshot, "## Empty") {
		t.Errorf("blank entries should be skipped: %q", snapshot)
	}
	if p.Snapshot() != snapshot {
		t.Error("snapshot is not deterministic")
	}
	if got := p.Entries(); len(got) != 3 {
		t.Errorf("entries = %d, want 3", len(got))
	}
}

func TestMissingFileStartsEmpty(t *testing.T) {
	p := New(filepath.Join(t.TempDir(), "absent.json"))
	if p.Snapshot() != "" {
		t.Errorf("expected empty snapshot, got %q", p.Snapshot())
	}
}

func TestReloadPicksUpChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knowledge.json")
	writeKnowledge(t, path, `[{"title": "A", "content": "before"}]`)

	p := New(path)
	if !strings.Contains(p.Snapshot(), "before") {
		t.Fatalf("initial load failed: %q", p.Snapshot())
	}

	writeKnowledge(t, path, `[{"title": "A", "content": "after"}]`)
	if err := p.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if !strings.Contains(p.Snapshot(), "after") {
		t.Errorf("snapshot not refreshed: %q", p.Snapshot())
	}
}

func TestReloadFailureKeepsPreviousSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knowledge.json")
	writeKnowledge(t, path, `[{"title": "A", "content": "good"}]`)

	p := New(path)
	writeKnowledge(t, path, `{not json`)
	if err := p.Reload(); err == nil {
		t.Fatal("expected reload error for malformed file")
	}
	if !strings.Contains(p.Snapshot(), "good") {
		t.Errorf("previous snapshot lost: %q", p.Snapshot())
	}
}

func TestWatchReloadsOnRewrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "knowledge.json")
	writeKnowledge(t, path, `[{"title": "A", "content": "first"}]`)

	p := New(path)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := p.Watch(ctx); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	writeKnowledge(t, path, `[{"title": "A", "content": "second"}]`)

	deadline := time.After(3 * time.Second)
	for {
		if strings.Contains(p.Snapshot(), "second") {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("watcher never reloaded, snapshot: %q", p.Snapshot())
		case <-time.After(20 * time.Millisecond):
		}
	}
}
