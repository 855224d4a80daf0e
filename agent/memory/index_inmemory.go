package memory

import (
	"context"
	"sync"
)

type entry struct {
	rec    Record
	vector []float32
}

// InMemoryIndex keeps vectors in insertion order for the life of the process.
type InMemoryIndex struct {
	mu      sync.RWMutex
	entries []entry
}

func NewInMemoryIndex() *InMemoryIndex {
	return &InMemoryIndex{}
}

func (m *InMemoryIndex) Insert(_ context.Context, rec Record, vector []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry{rec: rec, vector: append([]float32(nil), vector...)})
	return nil
}

func (m *InMemoryIndex) Search(_ context.Context, vector []float32, k int) ([]Hit, error) {
	m.mu.RLock()
	hits := make([]Hit, 0, len(m.entries))
	for _, e := range m.entries {
		hits = append(hits, Hit{Record: e.rec, Score: CosineSimilarity(vector, e.vector)})
	}
	m.mu.RUnlock()
	return topK(hits, k), nil
}

func (m *InMemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *InMemoryIndex) Close() error {
	return nil
}
