package views

import (
	"context"
	"sync"
)

// InMemoryStore 是一个基于内存的浏览计数实现，重启即丢。
type InMemoryStore struct {
	mu     sync.RWMutex
	counts map[int64]int64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{counts: make(map[int64]int64)}
}

func (s *InMemoryStore) Increment(_ context.Context, sceneID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[sceneID]++
	return nil
}

func (s *InMemoryStore) Count(_ context.Context, sceneID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counts[sceneID], nil
}
