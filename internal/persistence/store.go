// Package persistence owns every on-disk file the daemon writes: the
// write-ahead log, periodic checkpoints, recovery bookkeeping, and the
// small JSON state files (last-active, daily-sessions) alongside the
// session/message/todo entity records themselves. No other package touches
// these paths directly. No session-contexts file is read or written.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
)

// ErrNotFound is returned by Get for a path with no stored value.
var ErrNotFound = errors.New("persistence: not found")

// Store is a file-based JSON store for entity records (sessions, messages,
// todos, projects), keyed by path segments under a base directory.
type Store struct {
	basePath string
	mu       sync.RWMutex
	locks    map[string]*FileLock
}

// NewStore creates a Store rooted at basePath.
func NewStore(basePath string) *Store {
	return &Store{
		basePath: basePath,
		locks:    make(map[string]*FileLock),
	}
}

func (s *Store) pathToFile(path []string) string {
	parts := append([]string{s.basePath}, path...)
	return filepath.Join(parts...) + ".json"
}

func (s *Store) pathToDir(path []string) string {
	parts := append([]string{s.basePath}, path...)
	return filepath.Join(parts...)
}

// Get reads and unmarshals the value at path into v.
func (s *Store) Get(ctx context.Context, path []string, v any) error {
	data, err := os.ReadFile(s.pathToFile(path))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("persistence: read file: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("persistence: unmarshal: %w", err)
	}
	return nil
}

// Put atomically writes v to path under an exclusive file lock.
func (s *Store) Put(ctx context.Context, path []string, v any) error {
	filePath := s.pathToFile(path)

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("persistence: create directory: %w", err)
	}

	lock := s.getLock(filePath)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("persistence: acquire lock: %w", err)
	}
	defer lock.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("persistence: marshal: %w", err)
	}

	return atomicWrite(filePath, data)
}

// Delete removes the value at path. Deleting an absent value is not an
// error.
func (s *Store) Delete(ctx context.Context, path []string) error {
	filePath := s.pathToFile(path)

	lock := s.getLock(filePath)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("persistence: acquire lock: %w", err)
	}
	defer lock.Unlock()

	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("persistence: delete file: %w", err)
	}
	return nil
}

// List returns the keys present at path (files without their .json suffix,
// plus subdirectories).
func (s *Store) List(ctx context.Context, path []string) ([]string, error) {
	entries, err := os.ReadDir(s.pathToDir(path))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("persistence: read directory: %w", err)
	}

	var items []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			items = append(items, name)
		} else if strings.HasSuffix(name, ".json") {
			items = append(items, strings.TrimSuffix(name, ".json"))
		}
	}
	return items, nil
}

// Scan calls fn with the raw contents of every record at path. A read
// failure on one entry is skipped rather than aborting the scan.
func (s *Store) Scan(ctx context.Context, path []string, fn func(key string, data json.RawMessage) error) error {
	dirPath := s.pathToDir(path)

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("persistence: read directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dirPath, name))
		if err != nil {
			continue
		}

		if err := fn(strings.TrimSuffix(name, ".json"), json.RawMessage(data)); err != nil {
			return err
		}
	}
	return nil
}

// Exists reports whether a value is stored at path.
func (s *Store) Exists(ctx context.Context, path []string) bool {
	_, err := os.Stat(s.pathToFile(path))
	return err == nil
}

func (s *Store) getLock(filePath string) *FileLock {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[filePath]
	if !ok {
		lock = NewFileLock(filePath)
		s.locks[filePath] = lock
	}
	return lock
}

// atomicWrite writes data to a nonce-suffixed temp file in the same
// directory as path and renames it into place, so a crash mid-write never
// leaves a partially written target visible.
func atomicWrite(path string, data []byte) error {
	tmpPath := path + ".tmp." + ulid.Make().String()
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("persistence: write temp file: %w", err)
	}
	if f, err := os.OpenFile(tmpPath, os.O_RDWR, 0644); err == nil {
		_ = f.Sync()
		f.Close()
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("persistence: rename temp file: %w", err)
	}
	return nil
}
