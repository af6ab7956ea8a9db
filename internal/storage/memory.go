package storage

import (
	"bytes"
	"context"
	"io"
	"sync"
)

// MemoryObjectStore keeps objects in a map. It backs tests and local
// development the way MemoryStore does for the database.
type MemoryObjectStore struct {
	mu      sync.RWMutex
	objects map[string]memObject
	baseURL string
}

type memObject struct {
	data        []byte
	contentType string
}

func NewMemoryObjectStore(baseURL string) *MemoryObjectStore {
	if baseURL == "" {
		baseURL = "memory://bucket"
	}
	return &MemoryObjectStore{
		objects: make(map[string]memObject),
		baseURL: baseURL,
	}
}

func (m *MemoryObjectStore) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.objects[key] = memObject{data: data, contentType: contentType}
	m.mu.Unlock()
	return m.baseURL + "/" + key, nil
}

func (m *MemoryObjectStore) Get(_ context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ObjectInfo{}, ErrNotFound
	}
	info := ObjectInfo{ContentType: obj.contentType, Size: int64(len(obj.data))}
	return io.NopCloser(bytes.NewReader(obj.data)), info, nil
}

func (m *MemoryObjectStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

// Len reports how many objects are stored.
func (m *MemoryObjectStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
