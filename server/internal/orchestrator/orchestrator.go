package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"panotour/server/internal/model"
	"panotour/server/internal/session"
	"panotour/server/internal/timeline"
)

// Orchestrator 把导览引擎产生的事件落到时间线，并归约成会话快照。
//
// 职责与契约：
// - append-first：任何事件先写 Timeline，再做 reduce，保证可回放与幂等。
// - 快照只是缓存：丢失时可以由 Replay 从时间线重建。
type Orchestrator struct {
	store    session.Store
	timeline timeline.Store
	now      func() time.Time
	logger   *zap.Logger
}

func New(store session.Store, timeline timeline.Store, now func() time.Time, logger *zap.Logger) *Orchestrator {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:    store,
		timeline: timeline,
		now:      now,
		logger:   logger.Named("orchestrator"),
	}
}

// CreateSession 创建会话快照。id 为空时生成一个 uuid。
func (o *Orchestrator) CreateSession(ctx context.Context, id, startScene string) (*model.SessionState, error) {
	if id == "" {
		id = uuid.NewString()
	}
	now := o.now()
	state := &model.SessionState{
		SessionID:    id,
		StartScene:   startScene,
		ViewedScenes: []string{},
		CreatedAt:    now,
		LastEventAt:  now,
	}
	if err := o.store.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("save session %s: %w", id, err)
	}
	return state, nil
}

// OnEngineEvent 记录一条引擎事件并返回更新后的快照。
//
// 副作用说明：
// - 追加事实事件到 Timeline（append-first）。
// - 归约并更新 Session 快照。
func (o *Orchestrator) OnEngineEvent(ctx context.Context, sessionID string, evt model.Event) (*model.SessionState, error) {
	state, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := o.now()
	normalized := normalizeEvent(sessionID, evt, now)
	// 先写事实，再归约快照，避免“发生了但没记”。
	seq, err := o.timeline.Append(ctx, sessionID, &normalized)
	if err != nil {
		return nil, fmt.Errorf("append %s: %w", normalized.Type, err)
	}
	normalized.Seq = seq

	Reduce(state, normalized, now)
	if err := o.store.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("save session %s: %w", sessionID, err)
	}
	o.logger.Debug("event recorded",
		zap.String("session", sessionID),
		zap.String("type", normalized.Type),
		zap.Int64("seq", seq),
		zap.String("scene", normalized.Scene))
	return state, nil
}

// Observer 返回可直接挂到 tour.Deps.Observer 的回调，错误只记日志。
func (o *Orchestrator) Observer(sessionID string) func(model.Event) {
	return func(evt model.Event) {
		if _, err := o.OnEngineEvent(context.Background(), sessionID, evt); err != nil {
			o.logger.Warn("record engine event failed",
				zap.String("session", sessionID), zap.String("type", evt.Type), zap.Error(err))
		}
	}
}

// CloseSession 追加 session_closed 事件。
func (o *Orchestrator) CloseSession(ctx context.Context, sessionID string) error {
	_, err := o.OnEngineEvent(ctx, sessionID, model.Event{Type: model.EventSessionClosed})
	return err
}

// Replay 从时间线重建会话快照。
// 快照丢失时用时间线补齐：起始场景取 session_started，创建时间取第一条事件，重建结果写回快照存储。
// 快照与时间线都没有记录时返回 session.ErrNotFound。
func (o *Orchestrator) Replay(ctx context.Context, sessionID string) (*model.SessionState, error) {
	events, err := o.timeline.List(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list timeline %s: %w", sessionID, err)
	}
	state, err := o.store.Get(ctx, sessionID)
	missing := errors.Is(err, session.ErrNotFound)
	if err != nil && !missing {
		return nil, err
	}
	if missing {
		if len(events) == 0 {
			return nil, err
		}
		state = &model.SessionState{SessionID: sessionID, CreatedAt: events[0].ServerTS}
		for _, evt := range events {
			if evt.Type == model.EventSessionStarted {
				state.StartScene = evt.Scene
				break
			}
		}
	}

	rebuilt := &model.SessionState{
		SessionID:    state.SessionID,
		StartScene:   state.StartScene,
		ViewedScenes: []string{},
		CreatedAt:    state.CreatedAt,
		LastEventAt:  state.CreatedAt,
	}
	for _, evt := range events {
		Reduce(rebuilt, evt, evt.ServerTS)
	}
	if missing {
		if err := o.store.Save(ctx, rebuilt); err != nil {
			return nil, fmt.Errorf("save session %s: %w", sessionID, err)
		}
		o.logger.Info("session snapshot restored from timeline",
			zap.String("session", sessionID), zap.Int("events", len(events)))
	}
	return rebuilt, nil
}

func normalizeEvent(sessionID string, evt model.Event, now time.Time) model.Event {
	if evt.EventID == "" {
		evt.EventID = uuid.NewString()
	}
	if evt.ServerTS.IsZero() {
		evt.ServerTS = now
	}
	evt.SessionID = sessionID
	return evt
}
