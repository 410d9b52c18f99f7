package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	dirPermission  = 0755
	filePermission = 0600
)

// FileBackend persists all keys in a single JSON object on disk.
// Every write rewrites the file through a temp file and rename.
type FileBackend struct {
	mu    sync.Mutex
	path  string
	items map[string]string
}

// NewFileBackend opens (or creates) the JSON store at path.
func NewFileBackend(path string) (*FileBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirPermission); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	b := &FileBackend{
		path:  path,
		items: make(map[string]string),
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		log.Debug().Str("path", path).Msg("Storage file does not exist yet")
	case err != nil:
		return nil, fmt.Errorf("failed to read storage file: %w", err)
	case len(data) > 0:
		if err := json.Unmarshal(data, &b.items); err != nil {
			return nil, fmt.Errorf("failed to parse storage file %s: %w", path, err)
		}
	}

	return b, nil
}

// Get implements Backend.
func (b *FileBackend) Get(_ context.Context, key string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.items == nil {
		return "", false, ErrClosed
	}
	value, ok := b.items[key]
	return value, ok, nil
}

// Set implements Backend.
func (b *FileBackend) Set(_ context.Context, key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.items == nil {
		return ErrClosed
	}

	previous, existed := b.items[key]
	b.items[key] = value
	if err := b.flush(); err != nil {
		// Keep memory consistent with what is on disk
		if existed {
			b.items[key] = previous
		} else {
			delete(b.items, key)
		}
		return err
	}
	return nil
}

// Remove implements Backend.
func (b *FileBackend) Remove(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.items == nil {
		return ErrClosed
	}

	previous, existed := b.items[key]
	if !existed {
		return nil
	}
	delete(b.items, key)
	if err := b.flush(); err != nil {
		b.items[key] = previous
		return err
	}
	return nil
}

// Keys implements Backend.
func (b *FileBackend) Keys(_ context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.items == nil {
		return nil, ErrClosed
	}
	keys := make([]string, 0, len(b.items))
	for key := range b.items {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close implements Backend. Later calls fail with ErrClosed.
func (b *FileBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = nil
	return nil
}

// flush writes the current map to disk. Caller holds b.mu.
func (b *FileBackend) flush() error {
	data, err := json.MarshalIndent(b.items, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal storage: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(b.path), ".storage-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write storage: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close storage: %w", err)
	}
	if err := os.Chmod(tmpName, filePermission); err != nil {
		log.Debug().Err(err).Msg("Failed to restrict storage file permissions")
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace storage file: %w", err)
	}
	return nil
}
