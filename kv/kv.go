// Package kv provides the key-value backends used by the kv nodes.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("kv: key not found")

// KVStore is a byte-oriented key-value backend. Implementations must be
// safe for concurrent use.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

func notFound(key string) error {
	return fmt.Errorf("%w: %q", ErrNotFound, key)
}

// InMemoryKVStore keeps everything in a map. Values are copied on the way
// in and out.
type InMemoryKVStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
	// onChange runs under the write lock after every mutation.
	onChange func(map[string][]byte) error
}

var _ KVStore = (*InMemoryKVStore)(nil)

func NewInMemoryKVStore() *InMemoryKVStore {
	return &InMemoryKVStore{entries: make(map[string][]byte)}
}

func (m *InMemoryKVStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[key]
	if !ok {
		return nil, notFound(key)
	}
	return append([]byte(nil), v...), nil
}

func (m *InMemoryKVStore) Put(_ context.Context, key string, value []byte) error {
	return m.mutate(func(entries map[string][]byte) {
		entries[key] = append([]byte(nil), value...)
	})
}

func (m *InMemoryKVStore) Delete(_ context.Context, key string) error {
	return m.mutate(func(entries map[string][]byte) {
		delete(entries, key)
	})
}

func (m *InMemoryKVStore) Close() error { return nil }

func (m *InMemoryKVStore) mutate(fn func(map[string][]byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.entries)
	if m.onChange == nil {
		return nil
	}
	return m.onChange(m.entries)
}

// FileBasedKVStore is an in-memory store mirrored to a JSON file. The file
// is replaced atomically after every change.
type FileBasedKVStore struct {
	*InMemoryKVStore
	path string
}

var _ KVStore = (*FileBasedKVStore)(nil)

// NewFileBasedKVStore opens path, loading any existing contents. A missing
// file is created on the first write.
func NewFileBasedKVStore(path string) (*FileBasedKVStore, error) {
	mem := NewInMemoryKVStore()
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("load %s: %w", path, err)
	case len(raw) > 0:
		if err := json.Unmarshal(raw, &mem.entries); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}
	fs := &FileBasedKVStore{InMemoryKVStore: mem, path: path}
	mem.onChange = fs.write
	return fs, nil
}

// Path returns the backing file.
func (f *FileBasedKVStore) Path() string { return f.path }

func (f *FileBasedKVStore) write(entries map[string][]byte) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*")
	if err != nil {
		return fmt.Errorf("persist %s: %w", f.path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("persist %s: %w", f.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("persist %s: %w", f.path, err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("persist %s: %w", f.path, err)
	}
	return nil
}

// Close flushes the current contents once more.
func (f *FileBasedKVStore) Close() error {
	return f.mutate(func(map[string][]byte) {})
}
