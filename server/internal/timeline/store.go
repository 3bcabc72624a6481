// Package timeline 保存导览会话的事件时间线（append-first 的事实记录）。
package timeline

import (
	"context"

	"panotour/server/internal/model"
)

type Store interface {
	// Append 写入一条事件，返回本次写入的 seq。
	// 同一 session 的 seq 单调递增；相同 EventID 的重复写入返回同一 seq。
	Append(ctx context.Context, sessionID string, evt *model.Event) (int64, error)
	// List 返回该 session 的全量事件。
	List(ctx context.Context, sessionID string) ([]model.Event, error)
	// ListAfter 返回 seq 大于 afterSeq 的事件，用于增量拉取。
	ListAfter(ctx context.Context, sessionID string, afterSeq int64) ([]model.Event, error)
}
