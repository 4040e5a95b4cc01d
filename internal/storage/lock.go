package storage

import (
	"fmt"
	"os"
	"sync"
	"syscall"
)

// fileLock guards a single document against concurrent writers. The mutex
// serializes goroutines in this process; the flock on a sidecar .lock file
// covers other processes sharing the data directory.
type fileLock struct {
	path string
	mu   sync.Mutex
	file *os.File
}

func newFileLock(path string) *fileLock {
	return &fileLock{path: path + ".lock"}
}

func (l *fileLock) Lock() error {
	l.mu.Lock()

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		l.mu.Unlock()
		return fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX); err != nil {
		file.Close()
		l.mu.Unlock()
		return fmt.Errorf("acquire lock: %w", err)
	}

	l.file = file
	return nil
}

func (l *fileLock) Unlock() {
	if l.file != nil {
		syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
		l.file.Close()
		l.file = nil
		os.Remove(l.path)
	}
	l.mu.Unlock()
}
