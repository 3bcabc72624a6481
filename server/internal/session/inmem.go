package session

import (
	"context"
	"errors"
	"sort"
	"sync"

	"panotour/server/internal/model"
)

var ErrNotFound = errors.New("session not found")

// InMemoryStore 是一个基于内存的 Session 存储实现。
// Get 与 Save 都做拷贝，调用方拿到的快照可以在锁外自由修改。
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]*model.SessionState
}

func NewInMemoryStore() *InMemoryStore {
	// 重启即丢数据；多实例部署时需要换成共享存储。
	return &InMemoryStore{data: make(map[string]*model.SessionState)}
}

// Get 根据 SessionID 获取 SessionState。
func (s *InMemoryStore) Get(_ context.Context, id string) (*model.SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(state), nil
}

// Save 保存或更新 SessionState。
func (s *InMemoryStore) Save(_ context.Context, state *model.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[state.SessionID] = clone(state)
	return nil
}

// List 按创建时间返回全部会话快照。
func (s *InMemoryStore) List(_ context.Context) ([]model.SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.SessionState, 0, len(s.data))
	for _, state := range s.data {
		out = append(out, *clone(state))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func clone(state *model.SessionState) *model.SessionState {
	c := *state
	c.ViewedScenes = append([]string(nil), state.ViewedScenes...)
	return &c
}
