// Package tour 实现全景导览的场景导航引擎：方向解析、视口控制、
// 场景切换状态机与热点交互。
//
// 并发模型：Engine 用一把互斥锁作为唯一的状态权威，所有输入（按键、点击、
// 定时器、切换完成回调）都在持锁状态下串行执行。全景切换在独立 goroutine
// 中等待渲染端完成，完成后再回到锁内收尾。
package tour

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"panotour/server/internal/clock"
	"panotour/server/internal/geom"
	"panotour/server/internal/model"
)

var (
	// ErrNoScene 表示场景图为空，引擎不会发起任何切换。
	ErrNoScene = errors.New("no scene available")
	// ErrAlreadyStarted 表示重复调用 Start。
	ErrAlreadyStarted = errors.New("engine already started")
)

// Phase 是场景切换状态机的阶段。
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseInitialLoad
	PhaseTransitioning
)

func (p Phase) String() string {
	switch p {
	case PhaseInitialLoad:
		return "initial_load"
	case PhaseTransitioning:
		return "transitioning"
	default:
		return "idle"
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// State 是对外发布的状态快照。
type State struct {
	Phase   Phase  `json:"phase"`
	Target  string `json:"target,omitempty"`
	Current string `json:"current,omitempty"`
	NoScene bool   `json:"no_scene,omitempty"`
}

// Idle 表示有场景且没有进行中的切换。
func (s State) Idle() bool {
	return s.Phase == PhaseIdle && s.Current != "" && !s.NoScene
}

// Options 是引擎的可调参数。
type Options struct {
	MinZoom     float64
	MaxZoom     float64
	DefaultZoom float64
	ZoomStep    float64
	// YawStep 是按住左右键时每个 tick 的转动量（弧度）。
	YawStep float64
	// TickInterval 是按键保持期间的固定节拍（约 60Hz）。
	TickInterval   time.Duration
	RotateDuration time.Duration
	FrameInterval  time.Duration
	// SettleDelay 是未预加载场景切换后刷新热点前的去抖延迟。
	SettleDelay time.Duration
	// PanoramaBaseURL 非空时全景地址为 <base>/<scene id>。
	PanoramaBaseURL string
}

// DefaultOptions 返回默认参数。
func DefaultOptions() Options {
	return Options{
		MinZoom:        40,
		MaxZoom:        80,
		DefaultZoom:    60,
		ZoomStep:       1,
		YawStep:        0.02,
		TickInterval:   16 * time.Millisecond,
		RotateDuration: 600 * time.Millisecond,
		FrameInterval:  16 * time.Millisecond,
		SettleDelay:    100 * time.Millisecond,
	}
}

// Deps 是引擎的外部协作者。Viewer 与 Markers 必填，其余可为空。
type Deps struct {
	Viewer  Viewer
	Markers MarkerPlugin
	Modals  ModalHost
	Custom  CustomDispatcher
	URL     URLSync
	Views   ViewCounter
	Ready   ReadySet
	Clock   clock.Clock
	Logger  *zap.Logger
	// Observer 接收引擎事件，在引擎锁内同步调用，不得回调 Engine。
	Observer func(model.Event)
}

// Engine 是单个导览会话的场景导航引擎。
type Engine struct {
	deps   Deps
	opts   Options
	clock  clock.Clock
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	started  bool
	closed   bool
	tour     *model.TourData
	current  model.Scene
	hasScene bool
	state    State

	vp     viewport
	viewed map[string]struct{}
	url    urlState
	settle clock.Timer

	subs    map[int]chan State
	nextSub int
}

type urlState struct {
	last    string
	writing bool
}

// New 创建引擎，调用 Start 之前不会触达任何外部协作者。
func New(deps Deps, opts Options) *Engine {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	def := DefaultOptions()
	if opts.MaxZoom <= opts.MinZoom {
		opts.MinZoom, opts.MaxZoom = def.MinZoom, def.MaxZoom
	}
	if opts.DefaultZoom < opts.MinZoom || opts.DefaultZoom > opts.MaxZoom {
		opts.DefaultZoom = geom.Clamp(def.DefaultZoom, opts.MinZoom, opts.MaxZoom)
	}
	if opts.ZoomStep <= 0 {
		opts.ZoomStep = def.ZoomStep
	}
	if opts.YawStep <= 0 {
		opts.YawStep = def.YawStep
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = def.TickInterval
	}
	if opts.RotateDuration <= 0 {
		opts.RotateDuration = def.RotateDuration
	}
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = def.FrameInterval
	}
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		deps:   deps,
		opts:   opts,
		clock:  deps.Clock,
		logger: deps.Logger.Named("engine"),
		ctx:    ctx,
		cancel: cancel,
		vp:     newViewport(opts.DefaultZoom),
		viewed: make(map[string]struct{}),
		subs:   make(map[int]chan State),
	}
}

// Start 以 InitialLoad 阶段展示起始场景：不播放过渡动画，只执行
// 热点渲染与浏览计数。requested 不存在时回退到第一个场景。
func (e *Engine) Start(ctx context.Context, tour *model.TourData, requested string) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.started = true
	e.tour = tour
	e.url.last = requested

	scene, ok := tour.StartScene(requested)
	if !ok {
		e.state = State{Phase: PhaseIdle, NoScene: true}
		e.logger.Warn("no scene available")
		if e.deps.Modals != nil {
			e.deps.Modals.NoScene()
		}
		e.emitLocked(model.Event{Type: model.EventNoScene})
		e.publishLocked()
		e.mu.Unlock()
		return ErrNoScene
	}
	if requested != "" && requested != scene.ID {
		e.logger.Info("requested scene not found, falling back to first scene",
			zap.String("requested", requested), zap.String("scene", scene.ID))
	}

	e.current = scene
	e.hasScene = true
	e.state = State{Phase: PhaseInitialLoad, Current: scene.ID}
	e.publishLocked()
	panorama := e.panoramaURL(scene)
	e.mu.Unlock()

	openErr := e.deps.Viewer.Open(ctx, panorama)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = State{Phase: PhaseIdle, Current: scene.ID}
	if openErr != nil {
		e.logger.Warn("initial panorama failed to open", zap.String("scene", scene.ID), zap.Error(openErr))
	}
	if !e.closed {
		e.deps.Viewer.Zoom(e.vp.zoom)
		e.renderMarkersLocked(scene)
		e.countViewLocked(scene)
	}
	e.emitLocked(model.Event{Type: model.EventSessionStarted, Scene: scene.ID})
	e.publishLocked()
	if openErr != nil {
		return fmt.Errorf("open panorama for scene %s: %w", scene.ID, openErr)
	}
	return nil
}

// State 返回当前状态快照。
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Idle 表示有场景且没有进行中的切换。
func (e *Engine) Idle() bool {
	return e.State().Idle()
}

// CurrentScene 返回当前场景。
func (e *Engine) CurrentScene() (model.Scene, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current, e.hasScene
}

// Viewed 返回本会话已计入浏览的场景数量。
func (e *Engine) Viewed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.viewed)
}

// Subscribe 返回状态变化通道；通道满时丢弃最旧的快照，只保证最新状态送达。
func (e *Engine) Subscribe() (<-chan State, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan State, 8)
	if e.closed {
		close(ch)
		return ch, func() {}
	}
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	ch <- e.state

	return ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if c, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(c)
		}
	}
}

// Close 停止所有定时器并等待后台任务（切换、计数）结束。
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.stopTickLocked()
	e.stopAnimationLocked()
	if e.settle != nil {
		e.settle.Stop()
		e.settle = nil
	}
	for id, ch := range e.subs {
		close(ch)
		delete(e.subs, id)
	}
	e.cancel()
	e.mu.Unlock()

	e.wg.Wait()
}

func (e *Engine) publishLocked() {
	if e.closed {
		return
	}
	s := e.state
	for _, ch := range e.subs {
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- s
		}
	}
}

func (e *Engine) emitLocked(evt model.Event) {
	if e.deps.Observer == nil {
		return
	}
	evt.ServerTS = e.clock.Now()
	e.deps.Observer(evt)
}

func (e *Engine) panoramaURL(scene model.Scene) string {
	if e.opts.PanoramaBaseURL == "" {
		return scene.Panorama
	}
	return strings.TrimRight(e.opts.PanoramaBaseURL, "/") + "/" + url.PathEscape(scene.ID)
}
