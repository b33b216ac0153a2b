package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrInjected is returned by MemoryStore operations armed to fail.
var ErrInjected = errors.New("injected store failure")

// MemoryStore is an in-memory KeyValueStore and BlobStore. It is used in
// tests and can be armed to fail writes and deletes.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
	blobs  map[string][]byte

	failSet    bool
	failDelete bool
	sets       int
}

var (
	_ KeyValueStore = (*MemoryStore)(nil)
	_ BlobStore     = (*MemoryStore)(nil)
)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]string),
		blobs:  make(map[string][]byte),
	}
}

// FailSet makes every subsequent Set and SetBlob return ErrInjected.
func (m *MemoryStore) FailSet(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSet = fail
}

// FailDelete makes every subsequent Delete and DeleteBlob return ErrInjected.
func (m *MemoryStore) FailDelete(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failDelete = fail
}

// Sets returns how many successful Set and SetBlob calls have been made.
func (m *MemoryStore) Sets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets
}

// Len returns the number of stored text values and blobs.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.values) + len(m.blobs)
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return "", fmt.Errorf("getting %s: %w", key, ErrNotFound)
	}
	return v, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet {
		return fmt.Errorf("setting %s: %w", key, ErrInjected)
	}
	m.values[key] = value
	m.sets++
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDelete {
		return fmt.Errorf("deleting %s: %w", key, ErrInjected)
	}
	delete(m.values, key)
	return nil
}

func (m *MemoryStore) GetBlob(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[key]
	if !ok {
		return nil, fmt.Errorf("getting blob %s: %w", key, ErrNotFound)
	}
	return append([]byte(nil), b...), nil
}

func (m *MemoryStore) SetBlob(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet {
		return fmt.Errorf("setting blob %s: %w", key, ErrInjected)
	}
	m.blobs[key] = append([]byte(nil), data...)
	m.sets++
	return nil
}

func (m *MemoryStore) DeleteBlob(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDelete {
		return fmt.Errorf("deleting blob %s: %w", key, ErrInjected)
	}
	delete(m.blobs, key)
	return nil
}
