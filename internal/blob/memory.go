package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"fedplane/internal/apperr"
)

// MemoryStore is an in-process Store for tests and single-node development.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (m *MemoryStore) Write(ctx context.Context, p string, r io.Reader) error {
	cleaned, err := CleanPath(p)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read blob content: %w", err)
	}
	m.mu.Lock()
	m.blobs[cleaned] = data
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Read(ctx context.Context, p string) (io.ReadCloser, error) {
	cleaned, err := CleanPath(p)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	data, ok := m.blobs[cleaned]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", cleaned, apperr.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MemoryStore) Exists(ctx context.Context, p string) (bool, error) {
	cleaned, err := CleanPath(p)
	if err != nil {
		return false, err
	}
	m.mu.RLock()
	_, ok := m.blobs[cleaned]
	m.mu.RUnlock()
	return ok, nil
}

func (m *MemoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for p := range m.blobs {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) Delete(ctx context.Context, p string) error {
	cleaned, err := CleanPath(p)
	if err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.blobs, cleaned)
	m.mu.Unlock()
	return nil
}
