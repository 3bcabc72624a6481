package tour

import (
	"context"
	"math"
	"testing"
	"time"

	"panotour/server/internal/geom"
	"panotour/server/internal/model"
)

const tick = 16 * time.Millisecond

func TestParseKey(t *testing.T) {
	cases := map[string]Key{
		"ArrowUp": KeyUp, "w": KeyUp, "W": KeyUp,
		"ArrowDown": KeyDown, "s": KeyDown,
		"ArrowLeft": KeyLeft, "a": KeyLeft,
		"ArrowRight": KeyRight, "d": KeyRight,
	}
	for in, want := range cases {
		got, ok := ParseKey(in)
		if !ok || got != want {
			t.Fatalf("ParseKey(%q) = %v,%v want %v", in, got, ok, want)
		}
	}
	if _, ok := ParseKey("Enter"); ok {
		t.Fatalf("expected Enter to be rejected")
	}
}

// TestArrowUpAtMaxZoomNavigatesForward 场景：S1 前方有指向 S2 的链接，按住上键缩放到最大后切到 S2，并复位缩放到 60。
func TestArrowUpAtMaxZoomNavigatesForward(t *testing.T) {
	tour := &model.TourData{Scenes: []model.Scene{
		{ID: "1", Panorama: "s1.jpg", Links: []model.Link{{Target: "2", Position: geom.Orientation{Yaw: 0}}}},
		{ID: "2", Panorama: "s2.jpg", Links: []model.Link{{Target: "1", Position: geom.Orientation{Yaw: math.Pi}}}},
	}}
	h := newHarness(t, immediateOptions(), true)
	if err := h.engine.Start(context.Background(), tour, "1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	h.engine.KeyDown(KeyUp)
	h.clock.Advance(20 * tick)
	if z := h.engine.Zoom(); z != 80 {
		t.Fatalf("expected zoom to reach 80 after 20 ticks, got %v", z)
	}
	if h.viewer.swapCount() != 0 {
		t.Fatalf("must not navigate before reaching the zoom limit")
	}

	h.clock.Advance(tick)
	h.waitEvent(t, model.EventSceneEntered)

	scene, _ := h.engine.CurrentScene()
	if scene.ID != "2" {
		t.Fatalf("expected transition to scene 2, got %s", scene.ID)
	}
	if z := h.engine.Zoom(); z != 60 {
		t.Fatalf("expected zoom reset to 60, got %v", z)
	}
	if z := h.viewer.lastZoom(); z != 60 {
		t.Fatalf("expected viewer zoom reset to 60, got %v", z)
	}
	h.engine.mu.Lock()
	held := len(h.engine.vp.held)
	h.engine.mu.Unlock()
	if held != 0 {
		t.Fatalf("expected held keys cleared, got %d", held)
	}

	// 按键已清空，继续推进时间不会再次触发切换。
	h.clock.Advance(100 * tick)
	if h.viewer.swapCount() != 1 {
		t.Fatalf("expected a single transition, got %d", h.viewer.swapCount())
	}
}

func TestArrowDownStopsAtFloorWithoutLinks(t *testing.T) {
	tour := &model.TourData{Scenes: []model.Scene{{ID: "1", Panorama: "s1.jpg"}}}
	h := newHarness(t, immediateOptions(), true)
	if err := h.engine.Start(context.Background(), tour, "1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	h.engine.KeyDown(KeyDown)
	h.clock.Advance(50 * tick)
	if z := h.engine.Zoom(); z != 40 {
		t.Fatalf("expected zoom floor 40, got %v", z)
	}
	if h.viewer.swapCount() != 0 {
		t.Fatalf("resolve miss must be a no-op")
	}
	h.engine.KeyUp(KeyDown)
	if h.clock.Pending() != 0 {
		t.Fatalf("expected tick stopped after key up, got %d timers", h.clock.Pending())
	}
}

func TestLeftRightOnlyRotate(t *testing.T) {
	h := newHarness(t, immediateOptions(), true)
	if err := h.engine.Start(context.Background(), threeScenes(), "2"); err != nil {
		t.Fatalf("start: %v", err)
	}

	h.engine.KeyDown(KeyRight)
	h.clock.Advance(10 * tick)
	if yaw := h.engine.Orientation().Yaw; math.Abs(yaw-0.2) > 1e-9 {
		t.Fatalf("expected yaw 0.2 after 10 ticks, got %v", yaw)
	}
	h.engine.KeyDown(KeyLeft)
	h.clock.Advance(10 * tick)
	if yaw := h.engine.Orientation().Yaw; math.Abs(yaw-0.2) > 1e-9 {
		t.Fatalf("left and right together must cancel, got %v", yaw)
	}
	h.engine.KeyUp(KeyRight)
	h.clock.Advance(200 * tick)
	if h.viewer.swapCount() != 0 {
		t.Fatalf("left/right must never navigate, got %d swaps", h.viewer.swapCount())
	}
	if z := h.engine.Zoom(); z != 60 {
		t.Fatalf("left/right must not zoom, got %v", z)
	}
	yaw := h.engine.Orientation().Yaw
	if yaw <= -math.Pi || yaw > math.Pi {
		t.Fatalf("yaw %v escaped (-pi, pi]", yaw)
	}
	h.engine.KeyUp(KeyLeft)
	if h.clock.Pending() != 0 {
		t.Fatalf("expected tick stopped, got %d timers", h.clock.Pending())
	}
}

// TestRotateByRestartsFromCurrentYaw 场景：−90° 旋转进行中再发起 +45°，最终 yaw 由第二次调用决定。
func TestRotateByRestartsFromCurrentYaw(t *testing.T) {
	h := newHarness(t, immediateOptions(), true)
	if err := h.engine.Start(context.Background(), threeScenes(), "1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	h.engine.RotateBy(geom.Deg2Rad(-90))
	h.clock.Advance(10 * tick)
	start2 := h.engine.Orientation().Yaw
	if start2 >= 0 || start2 <= geom.Deg2Rad(-90) {
		t.Fatalf("expected first rotation to be mid-way, got %v", start2)
	}

	before := h.viewer.rotationCount()
	h.engine.RotateBy(geom.Deg2Rad(45))
	h.clock.Advance(2 * time.Second)

	want := geom.NormalizeYaw(start2 + geom.Deg2Rad(45))
	if got := h.engine.Orientation().Yaw; got != want {
		t.Fatalf("expected final yaw %v, got %v", want, got)
	}
	// 600ms / 16ms 向上取整为 38 帧，多出的帧只可能来自第一段动画。
	if frames := h.viewer.rotationCount() - before; frames != 38 {
		t.Fatalf("expected 38 frames from the second animation, got %d", frames)
	}
	if h.clock.Pending() != 0 {
		t.Fatalf("expected no frames pending, got %d", h.clock.Pending())
	}
}

func TestKeyHoldCancelsRotation(t *testing.T) {
	h := newHarness(t, immediateOptions(), true)
	if err := h.engine.Start(context.Background(), threeScenes(), "1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.engine.RotateBy(math.Pi)
	h.clock.Advance(5 * tick)
	h.engine.KeyDown(KeyLeft)
	yaw := h.engine.Orientation().Yaw
	h.clock.Advance(tick)
	if got := h.engine.Orientation().Yaw; math.Abs(got-(yaw-0.02)) > 1e-9 {
		t.Fatalf("expected only the tick to move yaw, got %v from %v", got, yaw)
	}
	h.engine.KeyUp(KeyLeft)
	if h.clock.Pending() != 0 {
		t.Fatalf("expected rotation cancelled, got %d timers", h.clock.Pending())
	}
}

func TestInputSuppressedDuringTransition(t *testing.T) {
	h := newHarness(t, immediateOptions(), true)
	if err := h.engine.Start(context.Background(), threeScenes(), "1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	gate := h.viewer.block()
	h.engine.Navigate("2")
	h.waitSwap(t)

	h.engine.RotateBy(math.Pi / 2)
	h.engine.KeyDown(KeyUp)
	if h.clock.Pending() != 0 {
		t.Fatalf("rotation and key hold must be suppressed while transitioning, got %d timers", h.clock.Pending())
	}
	close(gate)
	h.waitEvent(t, model.EventSceneEntered)
}

func TestRendererCallbacksUpdateViewport(t *testing.T) {
	h := newHarness(t, immediateOptions(), true)
	if err := h.engine.Start(context.Background(), threeScenes(), "2"); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.engine.OnPositionUpdated(geom.Orientation{Yaw: 3 * math.Pi / 2, Pitch: 0.3})
	if o := h.engine.Orientation(); math.Abs(o.Yaw+math.Pi/2) > 1e-9 || o.Pitch != 0.3 {
		t.Fatalf("unexpected orientation %+v", o)
	}
	h.engine.OnZoomUpdated(200)
	if z := h.engine.Zoom(); z != 80 {
		t.Fatalf("expected zoom clamped to 80, got %v", z)
	}

	// yaw 为 −π/2 时，后方正对 π/2 处指向场景 3 的链接。
	if !h.engine.NavigateDirection(Backward) {
		t.Fatalf("expected backward navigation from scene 2")
	}
	h.waitEvent(t, model.EventSceneEntered)
	if scene, _ := h.engine.CurrentScene(); scene.ID != "3" {
		t.Fatalf("expected scene 3, got %s", scene.ID)
	}
}
