package session

import (
	"context"
	"sync"
)

// MemoryRecord keeps records for the life of the process only.
type MemoryRecord struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryRecord() *MemoryRecord {
	return &MemoryRecord{values: make(map[string]string)}
}

func (r *MemoryRecord) Get(_ context.Context, key string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (r *MemoryRecord) Set(_ context.Context, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key] = value
	return nil
}

func (r *MemoryRecord) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.values, key)
	return nil
}
