package kvstore

import (
	"context"
	"sync"
)

// MemoryStore keeps namespaces in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]map[string]string
	closed bool
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string]string)}
}

// Namespace returns a handle to the named namespace
func (s *MemoryStore) Namespace(name string) Namespace {
	return &memoryNamespace{store: s, name: name}
}

// Close marks the store closed; later operations fail with ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type memoryNamespace struct {
	store *MemoryStore
	name  string
}

func (n *memoryNamespace) Load(ctx context.Context) (map[string]string, error) {
	n.store.mu.RLock()
	defer n.store.mu.RUnlock()

	if n.store.closed {
		return nil, ErrClosed
	}
	return copyMap(n.store.data[n.name]), nil
}

func (n *memoryNamespace) Replace(ctx context.Context, values map[string]string) error {
	n.store.mu.Lock()
	defer n.store.mu.Unlock()

	if n.store.closed {
		return ErrClosed
	}
	n.store.data[n.name] = copyMap(values)
	return nil
}

func (n *memoryNamespace) Clear(ctx context.Context) error {
	n.store.mu.Lock()
	defer n.store.mu.Unlock()

	if n.store.closed {
		return ErrClosed
	}
	delete(n.store.data, n.name)
	return nil
}
