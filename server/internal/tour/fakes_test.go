package tour

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"panotour/server/internal/clock"
	"panotour/server/internal/geom"
	"panotour/server/internal/model"
	"panotour/server/internal/views"
)

type fakeViewer struct {
	mu        sync.Mutex
	opened    []string
	swaps     []string
	swapOpts  []PanoramaOptions
	rotations []geom.Orientation
	zooms     []float64

	gate    chan struct{}
	entered chan string
	err     error
	panics  bool
}

func newFakeViewer() *fakeViewer {
	return &fakeViewer{entered: make(chan string, 16)}
}

func (v *fakeViewer) Open(_ context.Context, url string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.opened = append(v.opened, url)
	return nil
}

func (v *fakeViewer) SetPanorama(ctx context.Context, url string, opts PanoramaOptions) error {
	v.mu.Lock()
	v.swaps = append(v.swaps, url)
	v.swapOpts = append(v.swapOpts, opts)
	gate, err, panics := v.gate, v.err, v.panics
	v.mu.Unlock()

	select {
	case v.entered <- url:
	default:
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if panics {
		panic("renderer crashed")
	}
	return err
}

func (v *fakeViewer) Rotate(o geom.Orientation) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rotations = append(v.rotations, o)
}

func (v *fakeViewer) Zoom(level float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.zooms = append(v.zooms, level)
}

func (v *fakeViewer) block() chan struct{} {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.gate = make(chan struct{})
	return v.gate
}

func (v *fakeViewer) fail(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.err = err
}

func (v *fakeViewer) setPanics(p bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.panics = p
}

func (v *fakeViewer) swapCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.swaps)
}

func (v *fakeViewer) lastZoom() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.zooms) == 0 {
		return math.NaN()
	}
	return v.zooms[len(v.zooms)-1]
}

func (v *fakeViewer) rotationCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.rotations)
}

type fakeMarkers struct {
	mu     sync.Mutex
	clears int
	added  []MarkerSpec
}

func (m *fakeMarkers) AddMarker(spec MarkerSpec) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.added = append(m.added, spec)
}

func (m *fakeMarkers) ClearMarkers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clears++
	m.added = nil
}

func (m *fakeMarkers) snapshot() (int, []MarkerSpec) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clears, append([]MarkerSpec(nil), m.added...)
}

type alertCall struct {
	Title string
	Text  string
}

type fakeModals struct {
	mu      sync.Mutex
	modals  []string
	alerts  []alertCall
	noScene int
}

func (m *fakeModals) OpenModal(kind, actionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modals = append(m.modals, kind+"/"+actionID)
}

func (m *fakeModals) Alert(title, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, alertCall{Title: title, Text: text})
}

func (m *fakeModals) NoScene() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.noScene++
}

type fakeCustom struct {
	mu         sync.Mutex
	handlers   map[string]bool
	dispatched []string
}

func (c *fakeCustom) Dispatch(handler string, spot model.InfoSpot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.handlers[handler] {
		return false
	}
	c.dispatched = append(c.dispatched, handler+":"+spot.ID)
	return true
}

type fakeURL struct {
	mu     sync.Mutex
	writes []string
}

func (u *fakeURL) ReplaceScene(id string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.writes = append(u.writes, id)
	return nil
}

func (u *fakeURL) snapshot() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.writes...)
}

type readyAll bool

func (r readyAll) IsReady(string) bool { return bool(r) }

type eventRecorder struct {
	mu     sync.Mutex
	events []model.Event
	ch     chan model.Event
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{ch: make(chan model.Event, 256)}
}

func (r *eventRecorder) observe(evt model.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
	select {
	case r.ch <- evt:
	default:
	}
}

func (r *eventRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	engine  *Engine
	clock   *clock.Manual
	viewer  *fakeViewer
	markers *fakeMarkers
	modals  *fakeModals
	custom  *fakeCustom
	url     *fakeURL
	views   *views.InMemoryStore
	events  *eventRecorder
}

func newHarness(t *testing.T, opts Options, ready bool) *harness {
	t.Helper()
	h := &harness{
		clock:   clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		viewer:  newFakeViewer(),
		markers: &fakeMarkers{},
		modals:  &fakeModals{},
		custom:  &fakeCustom{handlers: map[string]bool{"open_shop": true}},
		url:     &fakeURL{},
		views:   views.NewInMemoryStore(),
		events:  newEventRecorder(),
	}
	h.engine = New(Deps{
		Viewer:   h.viewer,
		Markers:  h.markers,
		Modals:   h.modals,
		Custom:   h.custom,
		URL:      h.url,
		Views:    h.views,
		Ready:    readyAll(ready),
		Clock:    h.clock,
		Observer: h.events.observe,
	}, opts)
	t.Cleanup(h.engine.Close)
	return h
}

// waitEvent 等待指定类型的事件，然后取一次 State，确保持锁的收尾逻辑已经结束。
func (h *harness) waitEvent(t *testing.T, typ string) model.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-h.events.ch:
			if evt.Type == typ {
				h.engine.State()
				return evt
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s, saw %v", typ, h.events.types())
		}
	}
}

func (h *harness) waitSwap(t *testing.T) string {
	t.Helper()
	select {
	case url := <-h.viewer.entered:
		return url
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for panorama swap")
		return ""
	}
}

func (h *harness) viewCount(t *testing.T, id int64) int64 {
	t.Helper()
	n, err := h.views.Count(context.Background(), id)
	if err != nil {
		t.Fatalf("count views: %v", err)
	}
	return n
}

// threeScenes: 1 -> 2 (前方), 2 -> 1 (后方), 2 -> 3 (右侧)
func threeScenes() *model.TourData {
	tour := &model.TourData{Scenes: []model.Scene{
		{
			ID: "1", Name: "Lobby", Panorama: "p1.jpg",
			Links: []model.Link{{Target: "2", Name: "Hall", Position: geom.Orientation{Yaw: 0}}},
			InfoSpots: []model.InfoSpot{
				{ID: "desk", Title: "Desk", Text: "Front desk", Action: model.AlertAction{}},
				{ID: "bogus", Title: "Desk", Text: "Front desk", Action: model.UnknownAction{Raw: "bogus"}},
				{ID: "shop", Title: "Shop", Text: "Gift shop", Action: model.CustomAction{Handler: "open_shop"}},
				{ID: "video", Title: "Video", Text: "Tour film", Action: model.CustomAction{Handler: "play_video"}},
				{ID: "sofa", Title: "Sofa", Text: "Chesterfield", Action: model.ModalAction{Kind: "product", ActionID: "sku-42"}},
			},
		},
		{
			ID: "2", Name: "Hall", Panorama: "p2.jpg",
			Links: []model.Link{
				{Target: "1", Name: "Lobby", Position: geom.Orientation{Yaw: math.Pi}},
				{Target: "3", Name: "Garden", Position: geom.Orientation{Yaw: math.Pi / 2}},
			},
		},
		{
			ID: "3", Name: "Garden", Panorama: "p3.jpg",
			Links: []model.Link{{Target: "2", Name: "Hall", Position: geom.Orientation{Yaw: -math.Pi / 2}}},
		},
	}}
	tour.Normalize()
	return tour
}

func immediateOptions() Options {
	opts := DefaultOptions()
	opts.SettleDelay = 0
	return opts
}
