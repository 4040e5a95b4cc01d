// Package storage implements the durable record layer: one JSON document per
// key under a base directory. Writes are atomic (temp file + rename) and
// serialized per path; documents stay human-inspectable on disk.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrNotFound is returned when no document exists at the requested path.
var ErrNotFound = errors.New("not found")

// Store persists JSON documents under basePath. Path elements are joined
// into a relative file path; callers are responsible for validating any
// untrusted element before it reaches the store.
type Store struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*fileLock
}

// New creates a Store rooted at basePath. The directory is created lazily on
// first write.
func New(basePath string) *Store {
	return &Store{
		basePath: basePath,
		locks:    make(map[string]*fileLock),
	}
}

func (s *Store) filePath(path ...string) string {
	parts := append([]string{s.basePath}, path...)
	return filepath.Join(parts...) + ".json"
}

func (s *Store) dirPath(path ...string) string {
	parts := append([]string{s.basePath}, path...)
	return filepath.Join(parts...)
}

// Get unmarshals the document at path into v.
func (s *Store) Get(ctx context.Context, v any, path ...string) error {
	data, err := os.ReadFile(s.filePath(path...))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("read %s: %w", strings.Join(path, "/"), err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", strings.Join(path, "/"), err)
	}
	return nil
}

// Put writes v as the document at path, replacing any existing document.
// The write is atomic: readers never observe a partially written file.
func (s *Store) Put(ctx context.Context, v any, path ...string) error {
	file := s.filePath(path...)

	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", strings.Join(path, "/"), err)
	}

	lock := s.lockFor(file)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", strings.Join(path, "/"), err)
	}
	defer lock.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", strings.Join(path, "/"), err)
	}

	tmp := file + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", strings.Join(path, "/"), err)
	}
	if err := os.Rename(tmp, file); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit %s: %w", strings.Join(path, "/"), err)
	}
	return nil
}

// Delete removes the document at path. Deleting a missing document is not an
// error.
func (s *Store) Delete(ctx context.Context, path ...string) error {
	file := s.filePath(path...)

	lock := s.lockFor(file)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", strings.Join(path, "/"), err)
	}
	defer lock.Unlock()

	if err := os.Remove(file); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("delete %s: %w", strings.Join(path, "/"), err)
	}
	return nil
}

// List returns the keys of all documents directly under path.
func (s *Store) List(ctx context.Context, path ...string) ([]string, error) {
	entries, err := os.ReadDir(s.dirPath(path...))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", strings.Join(path, "/"), err)
	}

	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ".json"))
	}
	return keys, nil
}

// Scan invokes fn with the raw contents of every document directly under
// path. Unreadable files are skipped; an error from fn stops the scan.
func (s *Store) Scan(ctx context.Context, fn func(key string, data json.RawMessage) error, path ...string) error {
	dir := s.dirPath(path...)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("scan %s: %w", strings.Join(path, "/"), err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		if err := fn(strings.TrimSuffix(name, ".json"), json.RawMessage(data)); err != nil {
			return err
		}
	}
	return nil
}

// Exists reports whether a document is present at path.
func (s *Store) Exists(ctx context.Context, path ...string) bool {
	_, err := os.Stat(s.filePath(path...))
	return err == nil
}

func (s *Store) lockFor(file string) *fileLock {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[file]
	if !ok {
		lock = newFileLock(file)
		s.locks[file] = lock
	}
	return lock
}
