package tour

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"panotour/server/internal/model"
)

const viewIncrementTimeout = 5 * time.Second

// Navigate 请求切换到 sceneID。已有切换在进行、场景不存在或就是当前场景时为空操作，返回 false。
func (e *Engine) Navigate(sceneID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.beginTransitionLocked(sceneID)
}

// NavigateDirection 用方向解析器选出目标并切换。
func (e *Engine) NavigateDirection(dir Direction) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.hasScene {
		return false
	}
	target, ok := Resolve(e.current, e.vp.orientation.Yaw, dir)
	if !ok {
		return false
	}
	return e.beginTransitionLocked(target)
}

// OnURLChanged 处理浏览器前进/后退带来的场景参数变化；引擎自己写入的回声会被忽略。
func (e *Engine) OnURLChanged(sceneID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.url.writing || sceneID == "" || sceneID == e.url.last {
		return false
	}
	e.url.last = sceneID
	return e.beginTransitionLocked(sceneID)
}

// beginTransitionLocked 是唯一的检查并设置点：在任何异步工作开始之前同步占用 in-flight 状态。
func (e *Engine) beginTransitionLocked(target string) bool {
	scene, ok := e.transitionTargetLocked(target)
	if !ok {
		return false
	}

	from := e.current.ID
	e.state = State{Phase: PhaseTransitioning, Target: target, Current: from}
	e.stopTickLocked()
	e.stopAnimationLocked()
	e.vp.clearKeys()
	if e.settle != nil {
		e.settle.Stop()
		e.settle = nil
	}

	preloaded := e.deps.Ready != nil && e.deps.Ready.IsReady(scene.Panorama)
	panorama := e.panoramaURL(scene)
	e.emitLocked(model.Event{Type: model.EventTransitionStarted, Scene: target, From: from})
	e.publishLocked()

	e.wg.Add(1)
	go e.runSwap(scene, from, panorama, preloaded)
	return true
}

// transitionTargetLocked 判断能否切到 target：引擎空闲、目标不是当前场景且存在于场景图中。
func (e *Engine) transitionTargetLocked(target string) (model.Scene, bool) {
	if e.closed || !e.hasScene {
		return model.Scene{}, false
	}
	if e.state.Phase != PhaseIdle {
		e.logger.Debug("navigation ignored, transition in flight",
			zap.String("target", target), zap.Stringer("phase", e.state.Phase), zap.String("pending", e.state.Target))
		return model.Scene{}, false
	}
	if target == e.current.ID {
		return model.Scene{}, false
	}
	scene, ok := e.tour.Scene(target)
	if !ok {
		e.logger.Warn("navigation to unknown scene ignored", zap.String("target", target))
		return model.Scene{}, false
	}
	return scene, true
}

// runSwap 在锁外等待渲染端完成切换；无论成功、失败还是 panic，都会在 defer 中回到 Idle。
func (e *Engine) runSwap(scene model.Scene, from, panorama string, preloaded bool) {
	defer e.wg.Done()

	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panorama swap panicked: %v", r)
		}
		e.finishTransition(scene, from, preloaded, err)
	}()

	err = e.deps.Viewer.SetPanorama(e.ctx, panorama, PanoramaOptions{
		Transition: true,
		ShowLoader: !preloaded,
	})
}

func (e *Engine) finishTransition(scene model.Scene, from string, preloaded bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err != nil {
		// 放弃本次切换：画面仍停留在旧全景，下一次导航不受影响。
		e.logger.Warn("panorama swap failed", zap.String("target", scene.ID), zap.Error(err))
		e.state = State{Phase: PhaseIdle, Current: e.current.ID}
		e.emitLocked(model.Event{Type: model.EventTransitionFailed, Scene: scene.ID, From: from, Error: err.Error()})
		e.publishLocked()
		return
	}

	e.current = scene
	e.state = State{Phase: PhaseIdle, Current: scene.ID}
	e.emitLocked(model.Event{Type: model.EventSceneEntered, Scene: scene.ID, From: from})

	if e.closed {
		return
	}
	// 浏览计数不走去抖：进入即计数，即使很快离开也算一次。
	e.countViewLocked(scene)
	if preloaded || e.opts.SettleDelay == 0 {
		e.settleLocked(scene)
	} else {
		e.settle = e.clock.AfterFunc(e.opts.SettleDelay, func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if e.closed || e.current.ID != scene.ID {
				return
			}
			e.settle = nil
			e.settleLocked(scene)
		})
	}
	e.publishLocked()
}

// settleLocked 是切换完成后的去抖副作用：刷新热点、同步地址参数。
func (e *Engine) settleLocked(scene model.Scene) {
	e.renderMarkersLocked(scene)
	e.syncURLLocked(scene.ID)
}

// countViewLocked 每个场景每个会话最多计数一次；计数失败只记日志，不影响界面。
func (e *Engine) countViewLocked(scene model.Scene) {
	if _, seen := e.viewed[scene.ID]; seen {
		return
	}
	e.viewed[scene.ID] = struct{}{}
	e.emitLocked(model.Event{Type: model.EventViewCounted, Scene: scene.ID})

	if e.deps.Views == nil {
		return
	}
	id, err := strconv.ParseInt(scene.ID, 10, 64)
	if err != nil {
		e.logger.Debug("scene id is not numeric, view not counted", zap.String("scene", scene.ID))
		return
	}

	views := e.deps.Views
	logger := e.logger
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), viewIncrementTimeout)
		defer cancel()
		if err := views.Increment(ctx, id); err != nil {
			logger.Warn("view increment failed", zap.Int64("scene", id), zap.Error(err))
		}
	}()
}

// syncURLLocked 以 replace 方式写回场景参数；与上次写入相同或正在写入时跳过。
func (e *Engine) syncURLLocked(sceneID string) {
	if e.deps.URL == nil || e.url.writing || e.url.last == sceneID {
		return
	}
	e.url.writing = true
	err := e.deps.URL.ReplaceScene(sceneID)
	e.url.writing = false
	if err != nil {
		e.logger.Warn("url sync failed", zap.String("scene", sceneID), zap.Error(err))
		return
	}
	e.url.last = sceneID
}
