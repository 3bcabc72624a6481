package tour

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"panotour/server/internal/clock"
	"panotour/server/internal/geom"
)

// Key 是参与按住动画的方向键。
type Key int

const (
	KeyUp Key = iota + 1
	KeyDown
	KeyLeft
	KeyRight
)

func (k Key) String() string {
	switch k {
	case KeyUp:
		return "ArrowUp"
	case KeyDown:
		return "ArrowDown"
	case KeyLeft:
		return "ArrowLeft"
	case KeyRight:
		return "ArrowRight"
	default:
		return "unknown"
	}
}

// ParseKey 接受浏览器 KeyboardEvent.key 的方向键名以及 w/s/a/d。
func ParseKey(s string) (Key, bool) {
	switch strings.ToLower(s) {
	case "arrowup", "up", "w":
		return KeyUp, true
	case "arrowdown", "down", "s":
		return KeyDown, true
	case "arrowleft", "left", "a":
		return KeyLeft, true
	case "arrowright", "right", "d":
		return KeyRight, true
	default:
		return 0, false
	}
}

// viewport 持有相机状态。字段只在 Engine.mu 内访问。
// 同一时刻只有 tick 或缓动旋转之一驱动 yaw，启动一个会取消另一个。
type viewport struct {
	orientation geom.Orientation
	zoom        float64
	held        map[Key]bool

	tick    clock.Timer
	tickGen uint64

	anim    clock.Timer
	animGen uint64
}

func newViewport(zoom float64) viewport {
	return viewport{zoom: zoom, held: make(map[Key]bool)}
}

func (v *viewport) clearKeys() {
	for k := range v.held {
		delete(v.held, k)
	}
}

// Orientation 返回当前朝向。
func (e *Engine) Orientation() geom.Orientation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.vp.orientation
}

// Zoom 返回当前缩放级别。
func (e *Engine) Zoom() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.vp.zoom
}

// KeyDown 登记按下的方向键；按键集合从空变为非空时启动固定节拍。
func (e *Engine) KeyDown(k Key) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || !e.hasScene || e.state.Phase != PhaseIdle {
		return
	}
	if e.vp.held[k] {
		return
	}
	wasEmpty := len(e.vp.held) == 0
	e.vp.held[k] = true
	if wasEmpty {
		e.stopAnimationLocked()
		e.scheduleTickLocked()
	}
}

// KeyUp 释放方向键；集合变空时停止节拍。
func (e *Engine) KeyUp(k Key) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.vp.held[k] {
		return
	}
	delete(e.vp.held, k)
	if len(e.vp.held) == 0 {
		e.stopTickLocked()
	}
}

// OnPositionUpdated 接收渲染端的位置回调（拖拽查看由渲染库自己处理）。
func (e *Engine) OnPositionUpdated(o geom.Orientation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vp.orientation = geom.Orientation{Yaw: geom.NormalizeYaw(o.Yaw), Pitch: o.Pitch}
}

// OnZoomUpdated 接收渲染端的缩放回调。
func (e *Engine) OnZoomUpdated(level float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vp.zoom = geom.Clamp(level, e.opts.MinZoom, e.opts.MaxZoom)
}

func (e *Engine) scheduleTickLocked() {
	if e.vp.tick != nil {
		e.vp.tick.Stop()
	}
	e.vp.tickGen++
	gen := e.vp.tickGen
	e.vp.tick = e.clock.AfterFunc(e.opts.TickInterval, func() { e.onTick(gen) })
}

func (e *Engine) stopTickLocked() {
	if e.vp.tick != nil {
		e.vp.tick.Stop()
		e.vp.tick = nil
	}
	e.vp.tickGen++
}

func (e *Engine) onTick(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || gen != e.vp.tickGen || len(e.vp.held) == 0 {
		return
	}
	e.vp.tick = nil
	e.tickLocked()
	if gen == e.vp.tickGen && len(e.vp.held) > 0 {
		e.scheduleTickLocked()
	}
}

// tickLocked 执行一个节拍：上/下键缩放，到达极限时改为沿前/后方向切换场景；
// 左/右键只转动相机，从不触发场景切换。
func (e *Engine) tickLocked() {
	held := e.vp.held
	switch {
	case held[KeyUp] && !held[KeyDown]:
		if e.zoomTowardLocked(e.opts.MaxZoom, Forward) {
			return
		}
	case held[KeyDown] && !held[KeyUp]:
		if e.zoomTowardLocked(e.opts.MinZoom, Backward) {
			return
		}
	}

	var delta float64
	if held[KeyLeft] {
		delta -= e.opts.YawStep
	}
	if held[KeyRight] {
		delta += e.opts.YawStep
	}
	if delta != 0 {
		e.vp.orientation.Yaw = geom.NormalizeYaw(e.vp.orientation.Yaw + delta)
		e.deps.Viewer.Rotate(e.vp.orientation)
	}
}

// zoomTowardLocked 向 limit 缩放一步；已在极限时解析 dir 并切换场景。
// 返回 true 表示发起了切换（此时按键已清空、节拍已停止）。
func (e *Engine) zoomTowardLocked(limit float64, dir Direction) bool {
	z := e.vp.zoom
	if z != limit {
		if limit > z {
			z = min(z+e.opts.ZoomStep, limit)
		} else {
			z = max(z-e.opts.ZoomStep, limit)
		}
		e.vp.zoom = z
		e.deps.Viewer.Zoom(z)
		return false
	}

	target, ok := Resolve(e.current, e.vp.orientation.Yaw, dir)
	if !ok {
		return false
	}
	// 先复位缩放并清空按键，防止连续触发切换。
	e.vp.zoom = e.opts.DefaultZoom
	e.deps.Viewer.Zoom(e.vp.zoom)
	e.vp.clearKeys()
	e.stopTickLocked()
	if !e.beginTransitionLocked(target) {
		e.logger.Debug("zoom navigation not started", zap.String("target", target))
	}
	return true
}

// RotateBy 以缓入缓出动画把 yaw 转动 delta；新的调用会取消上一段动画。
// 场景切换进行中时整体忽略。
func (e *Engine) RotateBy(delta float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || !e.hasScene || e.state.Phase != PhaseIdle {
		return
	}
	e.stopAnimationLocked()
	e.stopTickLocked()
	e.vp.clearKeys()

	start := e.vp.orientation.Yaw
	startedAt := e.clock.Now()
	e.vp.animGen++
	gen := e.vp.animGen
	e.scheduleFrameLocked(gen, start, delta, startedAt)
}

func (e *Engine) scheduleFrameLocked(gen uint64, start, delta float64, startedAt time.Time) {
	e.vp.anim = e.clock.AfterFunc(e.opts.FrameInterval, func() {
		e.onFrame(gen, start, delta, startedAt)
	})
}

func (e *Engine) stopAnimationLocked() {
	if e.vp.anim != nil {
		e.vp.anim.Stop()
		e.vp.anim = nil
	}
	e.vp.animGen++
}

func (e *Engine) onFrame(gen uint64, start, delta float64, startedAt time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || gen != e.vp.animGen {
		return
	}
	e.vp.anim = nil
	if e.state.Phase != PhaseIdle {
		e.vp.animGen++
		return
	}

	progress := float64(e.clock.Now().Sub(startedAt)) / float64(e.opts.RotateDuration)
	if progress > 1 {
		progress = 1
	}
	e.vp.orientation.Yaw = geom.NormalizeYaw(start + delta*geom.EaseInOutQuad(progress))
	e.deps.Viewer.Rotate(e.vp.orientation)

	if progress < 1 {
		e.scheduleFrameLocked(gen, start, delta, startedAt)
	}
}
