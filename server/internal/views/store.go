// Package views 记录场景浏览次数（外部的计数副作用）。
package views

import "context"

// Store 以数字场景 id 为键累加浏览次数。
type Store interface {
	Increment(ctx context.Context, sceneID int64) error
	Count(ctx context.Context, sceneID int64) (int64, error)
}
