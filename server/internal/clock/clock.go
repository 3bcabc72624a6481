// Package clock 抽象时间源与定时器，便于在测试中手动推进时间。
package clock

import (
	"sort"
	"sync"
	"time"
)

// Timer 是一次性定时器的句柄。
type Timer interface {
	// Stop 取消尚未触发的回调，返回 true 表示成功阻止了触发。
	Stop() bool
}

// Clock 提供当前时间与延迟回调。
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Real 基于 time 包实现 Clock。
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Manual 是手动推进的 Clock，只在 Advance 调用方的 goroutine 上执行回调。
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	nextID int64
	timers []*manualTimer
}

type manualTimer struct {
	c     *Manual
	id    int64
	when  time.Time
	f     func()
	fired bool
}

// NewManual 创建起始于 start 的手动时钟。
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d < 0 {
		d = 0
	}
	m.nextID++
	t := &manualTimer{c: m, id: m.nextID, when: m.now.Add(d), f: f}
	m.timers = append(m.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.fired {
		return false
	}
	for i, other := range t.c.timers {
		if other == t {
			t.c.timers = append(t.c.timers[:i], t.c.timers[i+1:]...)
			return true
		}
	}
	return false
}

// Advance 把时间推进 d，并按到期顺序执行期间到期的回调（包括回调中新登记且同样到期的）。
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		sort.SliceStable(m.timers, func(i, j int) bool {
			if m.timers[i].when.Equal(m.timers[j].when) {
				return m.timers[i].id < m.timers[j].id
			}
			return m.timers[i].when.Before(m.timers[j].when)
		})
		if len(m.timers) == 0 || m.timers[0].when.After(target) {
			m.now = target
			m.mu.Unlock()
			return
		}
		next := m.timers[0]
		m.timers = m.timers[1:]
		next.fired = true
		if next.when.After(m.now) {
			m.now = next.when
		}
		m.mu.Unlock()

		next.f()
	}
}

// Pending 返回尚未触发的定时器数量。
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}
