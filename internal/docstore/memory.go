package docstore

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryRepo is an in-memory repository used by tests and by ephemeral
// replicas that do not need to survive a restart.
type MemoryRepo struct {
	mu    sync.RWMutex
	store map[string]*Document
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{store: make(map[string]*Document)}
}

func (m *MemoryRepo) Load(ctx context.Context, id string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.store[id]; ok {
		return d.Clone(), nil
	}
	return nil, ErrNotFound
}

func (m *MemoryRepo) Put(ctx context.Context, doc *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[doc.ID] = doc.Clone()
	return nil
}

func (m *MemoryRepo) Scan(ctx context.Context, prefix string) ([]*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Document, 0, len(m.store))
	for id, d := range m.store {
		if strings.HasPrefix(id, prefix) {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryRepo) Close() error { return nil }
