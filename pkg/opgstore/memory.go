package opgstore

import (
	"context"
	"errors"
	"sync"
)

// MemoryStore keeps objects in process memory. Used in tests and local
// development when no storage backend is configured.
type MemoryStore struct {
	mu          sync.RWMutex
	objects     map[string][]byte
	failDeletes bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (m *MemoryStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	m.objects[key] = buf
	return "memory://" + key, nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDeletes {
		return errors.New("simulated storage failure")
	}
	delete(m.objects, key)
	return nil
}

// FailDeletes makes every subsequent Delete return an error.
func (m *MemoryStore) FailDeletes(fail bool) {
	m.mu.Lock()
	m.failDeletes = fail
	m.mu.Unlock()
}

func (m *MemoryStore) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	return data, ok
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
