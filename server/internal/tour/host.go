package tour

import (
	"context"

	"panotour/server/internal/geom"
	"panotour/server/internal/model"
)

// PanoramaOptions 控制一次全景切换的表现。
type PanoramaOptions struct {
	// Transition 为 true 时播放交叉淡入。
	Transition bool `json:"transition"`
	// ShowLoader 为 true 时允许渲染端显示自己的加载指示（图片未预加载）。
	ShowLoader bool `json:"show_loader"`
}

// Viewer 是全景渲染库的窄接口。
// SetPanorama 阻塞到切换完成或失败；位置与缩放变化通过
// Engine.OnPositionUpdated / Engine.OnZoomUpdated 回送。
type Viewer interface {
	Open(ctx context.Context, panoramaURL string) error
	SetPanorama(ctx context.Context, panoramaURL string, opts PanoramaOptions) error
	Rotate(o geom.Orientation)
	Zoom(level float64)
}

// MarkerKind 区分导航热点与信息热点。
type MarkerKind string

const (
	MarkerLink MarkerKind = "link"
	MarkerInfo MarkerKind = "info"
)

// MarkerData 是挂在热点上的数据，点击时原样回传给 Engine.SelectMarker。
type MarkerData struct {
	Kind   MarkerKind      `json:"kind"`
	Target string          `json:"target,omitempty"`
	Spot   *model.InfoSpot `json:"spot,omitempty"`
}

// MarkerSpec 描述一个待添加的热点。
type MarkerSpec struct {
	ID       string           `json:"id"`
	Position geom.Orientation `json:"position"`
	Tooltip  string           `json:"tooltip"`
	Data     MarkerData       `json:"data"`
}

// MarkerPlugin 是热点插件的窄接口。
type MarkerPlugin interface {
	AddMarker(spec MarkerSpec)
	ClearMarkers()
}

// ModalHost 是外部弹窗宿主；引擎不渲染弹窗内容。
type ModalHost interface {
	OpenModal(kind, actionID string)
	Alert(title, text string)
	// NoScene 提示"没有可用场景"。
	NoScene()
}

// CustomDispatcher 把 custom 动作交给按名称注册的处理器，未知名称返回 false。
type CustomDispatcher interface {
	Dispatch(handler string, spot model.InfoSpot) bool
}

// URLSync 以 history.replace 的方式写回共享地址中的场景参数。
type URLSync interface {
	ReplaceScene(sceneID string) error
}

// ViewCounter 是浏览计数副作用，views.Store 满足该接口。
type ViewCounter interface {
	Increment(ctx context.Context, sceneID int64) error
}

// ReadySet 查询全景图是否已预加载。
type ReadySet interface {
	IsReady(key string) bool
}
