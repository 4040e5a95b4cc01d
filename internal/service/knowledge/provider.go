// Package knowledge loads the campus reference material that grounds the
// assistant's answers. The material is produced offline by the scrape
// pipeline; this provider only reads it, keeps it in memory, and refreshes
// it when the file changes on disk.
package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/quadai/quad/internal/logging"
)

// Entry is one scraped page.
type Entry struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Provider serves an immutable snapshot of the knowledge file. Reloads swap
// the snapshot atomically under the lock; readers never see a partial
// refresh.
type Provider struct {
	path string

	mu       sync.RWMutex
	entries  []Entry
	snapshot string
}

// New loads the knowledge file at path. A missing file is not fatal: the
// assistant still answers, just without campus material.
func New(path string) *Provider {
	p := &Provider{path: path}
	if err := p.Reload(); err != nil {
		logging.Warn().Str("path", path).Err(err).Msg("knowledge file unavailable, starting empty")
	}
	return p
}

// Reload re-reads the knowledge file and rebuilds the snapshot.
func (p *Provider) Reload() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("read knowledge file: %w", err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("decode knowledge file: %w", err)
	}

	var b strings.Builder
	for _, entry := range entries {
		if strings.TrimSpace(entry.Content) == "" {
			continue
		}
		if entry.Title != "" {
			fmt.Fprintf(&b, "## %s\n", entry.Title)
		}
		b.WriteString(strings.TrimSpace(entry.Content))
		b.WriteString("\n\n")
	}

	p.mu.Lock()
	p.entries = entries
	p.snapshot = strings.TrimSpace(b.String())
	p.mu.Unlock()

	logging.Info().Str("path", p.path).Int("entries", len(entries)).Msg("knowledge loaded")
	return nil
}

// Snapshot returns the concatenated knowledge text. The same loaded file
// always yields the same string.
func (p *Provider) Snapshot() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot
}

// Entries returns a copy of the loaded entries.
func (p *Provider) Entries() []Entry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Entry, len(p.entries))
	copy(out, p.entries)
	return out
}

// Watch reloads the provider whenever the knowledge file is rewritten. It
// watches the parent directory so atomic replace-by-rename is picked up.
// Watch returns once the watcher is installed; reloading continues until ctx
// is canceled.
func (p *Provider) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(p.path), err)
	}

	base := filepath.Base(p.path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := p.Reload(); err != nil {
					logging.Warn().Err(err).Msg("knowledge reload failed, keeping previous snapshot")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Warn().Err(err).Msg("knowledge watcher error")
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}
