// Package guide 实现新手引导：按顺序展示若干提示步骤，只在导览引擎空闲时推进。
package guide

import (
	"sync"

	"go.uber.org/zap"

	"panotour/server/internal/config"
)

// Step 是一个引导步骤。Anchor 是前端用来定位提示框的元素名。
type Step struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Text   string `json:"text"`
	Anchor string `json:"anchor,omitempty"`
}

// IdleReporter 报告导览是否空闲（有场景且没有进行中的切换）。
type IdleReporter interface {
	Idle() bool
}

// Host 负责把引导步骤展示给用户。
type Host interface {
	ShowGuideStep(step Step, index, total int)
	GuideDone(skipped bool)
}

// StepsFromConfig 把配置中的步骤转换为 Step。
func StepsFromConfig(cfg config.GuideConfig) []Step {
	if !cfg.Enabled {
		return nil
	}
	steps := make([]Step, 0, len(cfg.Steps))
	for _, s := range cfg.Steps {
		steps = append(steps, Step{ID: s.ID, Title: s.Title, Text: s.Text, Anchor: s.Anchor})
	}
	return steps
}

// Sequencer 是单个会话的引导状态。
type Sequencer struct {
	mu      sync.Mutex
	steps   []Step
	idle    IdleReporter
	host    Host
	logger  *zap.Logger
	index   int
	started bool
	done    bool
}

func New(steps []Step, idle IdleReporter, host Host, logger *zap.Logger) *Sequencer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sequencer{
		steps:  append([]Step(nil), steps...),
		idle:   idle,
		host:   host,
		logger: logger.Named("guide"),
	}
}

// Start 展示第一步。没有步骤时直接结束；导览未空闲时返回 false，调用方可稍后重试。
func (s *Sequencer) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.done {
		return false
	}
	if len(s.steps) == 0 {
		s.started = true
		s.finishLocked(false)
		return true
	}
	if !s.idleLocked() {
		return false
	}
	s.started = true
	s.index = 0
	s.showLocked()
	return true
}

// Next 前进一步，越过最后一步即完成。
func (s *Sequencer) Next() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.activeLocked() {
		return false
	}
	if s.index+1 >= len(s.steps) {
		s.finishLocked(false)
		return true
	}
	s.index++
	s.showLocked()
	return true
}

// Prev 后退一步，已在第一步时无操作。
func (s *Sequencer) Prev() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.activeLocked() || s.index == 0 {
		return false
	}
	s.index--
	s.showLocked()
	return true
}

// Skip 立即结束引导，不要求导览空闲。
func (s *Sequencer) Skip() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return false
	}
	s.started = true
	s.finishLocked(true)
	return true
}

// Current 返回当前步骤；未开始或已结束时 ok 为 false。
func (s *Sequencer) Current() (step Step, index int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.done {
		return Step{}, 0, false
	}
	return s.steps[s.index], s.index, true
}

func (s *Sequencer) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Sequencer) activeLocked() bool {
	if !s.started || s.done {
		return false
	}
	if !s.idleLocked() {
		s.logger.Debug("guide step ignored, tour busy", zap.Int("index", s.index))
		return false
	}
	return true
}

func (s *Sequencer) idleLocked() bool {
	return s.idle == nil || s.idle.Idle()
}

func (s *Sequencer) showLocked() {
	if s.host != nil {
		s.host.ShowGuideStep(s.steps[s.index], s.index, len(s.steps))
	}
}

func (s *Sequencer) finishLocked(skipped bool) {
	s.done = true
	if s.host != nil {
		s.host.GuideDone(skipped)
	}
}
