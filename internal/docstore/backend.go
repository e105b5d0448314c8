package docstore

import (
	"context"
	"sort"
	"sync"
)

// Backend persists documents. Implementations do not notify; Local does.
type Backend interface {
	Get(ctx context.Context, path string) (map[string]any, bool, error)
	Put(ctx context.Context, path string, fields map[string]any, merge bool) error
	Delete(ctx context.Context, path string) (bool, error)
	List(ctx context.Context, parent string) ([]Snapshot, error)
}

// MemoryBackend keeps documents in process memory.
type MemoryBackend struct {
	mu   sync.RWMutex
	docs map[string]map[string]any
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{docs: map[string]map[string]any{}}
}

func (m *MemoryBackend) Get(_ context.Context, path string) (map[string]any, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[path]
	if !ok {
		return nil, false, nil
	}
	return cloneFields(doc), true, nil
}

func (m *MemoryBackend) Put(_ context.Context, path string, fields map[string]any, merge bool) error {
	fields = cloneFields(fields)
	if fields == nil {
		fields = map[string]any{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.docs[path]; ok && merge {
		m.docs[path] = mergeFields(existing, fields)
		return nil
	}
	m.docs[path] = fields
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.docs[path]
	delete(m.docs, path)
	return ok, nil
}

func (m *MemoryBackend) List(_ context.Context, parent string) ([]Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Snapshot
	for path, doc := range m.docs {
		if Parent(path) != parent {
			continue
		}
		out = append(out, Snapshot{Path: path, Exists: true, Data: cloneFields(doc)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}
