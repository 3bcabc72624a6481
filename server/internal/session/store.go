package session

import (
	"context"

	"panotour/server/internal/model"
)

// Store 保存导览会话快照。快照可由 timeline 回放重建，store 只是缓存。
type Store interface {
	Get(ctx context.Context, id string) (*model.SessionState, error)
	Save(ctx context.Context, s *model.SessionState) error
	List(ctx context.Context) ([]model.SessionState, error)
}
