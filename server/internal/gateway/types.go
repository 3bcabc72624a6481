package gateway

import (
	"time"

	"panotour/server/internal/geom"
	"panotour/server/internal/guide"
	"panotour/server/internal/model"
	"panotour/server/internal/tour"
)

// MessageType 定义了网关处理的消息类型
type MessageType string

const (
	// 客户端输入
	MsgKeyDown         MessageType = "key_down"         // 方向键按下
	MsgKeyUp           MessageType = "key_up"           // 方向键松开
	MsgRotateBy        MessageType = "rotate_by"        // 按钮旋转（弧度）
	MsgNavigate        MessageType = "navigate"         // 直接跳转场景
	MsgMove            MessageType = "move"             // 按方向移动
	MsgPositionUpdated MessageType = "position_updated" // 渲染端位置回调
	MsgZoomUpdated     MessageType = "zoom_updated"     // 渲染端缩放回调
	MsgSelectMarker    MessageType = "select_marker"    // 热点点击
	MsgURLChanged      MessageType = "url_changed"      // 浏览器前进/后退
	MsgGuideNext       MessageType = "guide_next"
	MsgGuidePrev       MessageType = "guide_prev"
	MsgGuideSkip       MessageType = "guide_skip"

	// 全景切换确认（读循环直接处理，不进队列）
	MsgPanoramaLoaded MessageType = "panorama_loaded"
	MsgPanoramaFailed MessageType = "panorama_failed"

	// 服务端输出
	MsgInitPanorama MessageType = "init_panorama"
	MsgSetPanorama  MessageType = "set_panorama"
	MsgRotate       MessageType = "rotate"
	MsgZoom         MessageType = "zoom"
	MsgAddMarker    MessageType = "add_marker"
	MsgClearMarkers MessageType = "clear_markers"
	MsgOpenModal    MessageType = "open_modal"
	MsgAlert        MessageType = "alert"
	MsgCustomAction MessageType = "custom_action"
	MsgNoScene      MessageType = "no_scene"
	MsgURLReplace   MessageType = "url_replace"
	MsgState        MessageType = "state"
	MsgGuideStep    MessageType = "guide_step"
	MsgGuideDone    MessageType = "guide_done"
	MsgError        MessageType = "error"
)

// ClientMessage 客户端发送给网关的消息（WebSocket文本帧）
type ClientMessage struct {
	Type      MessageType `json:"type"`
	EventID   string      `json:"event_id,omitempty"`
	RequestID string      `json:"request_id,omitempty"` // 对应 set_panorama 的确认
	Key       string      `json:"key,omitempty"`
	// Delta 是 rotate_by 的转动量（弧度）。
	Delta     float64           `json:"delta,omitempty"`
	Scene     string            `json:"scene,omitempty"`
	Direction string            `json:"direction,omitempty"`
	Position  *geom.Orientation `json:"position,omitempty"`
	Zoom      float64           `json:"zoom,omitempty"`
	Marker    *tour.MarkerData  `json:"marker,omitempty"`
	Error     string            `json:"error,omitempty"`
	ClientTS  time.Time         `json:"client_ts,omitempty"`
}

// ServerMessage 网关发送给客户端的消息
type ServerMessage struct {
	Type      MessageType `json:"type"`
	Seq       int64       `json:"seq,omitempty"`
	RequestID string      `json:"request_id,omitempty"`

	URL      string                `json:"url,omitempty"`
	Options  *tour.PanoramaOptions `json:"options,omitempty"`
	Position *geom.Orientation     `json:"position,omitempty"`
	Zoom     *float64              `json:"zoom,omitempty"`
	Marker   *tour.MarkerSpec      `json:"marker,omitempty"`

	ModalKind string          `json:"modal_kind,omitempty"`
	ActionID  string          `json:"action_id,omitempty"`
	Title     string          `json:"title,omitempty"`
	Text      string          `json:"text,omitempty"`
	Handler   string          `json:"handler,omitempty"`
	Spot      *model.InfoSpot `json:"spot,omitempty"`

	Scene string      `json:"scene,omitempty"`
	State *tour.State `json:"state,omitempty"`

	Guide      *guide.Step `json:"guide,omitempty"`
	GuideIndex int         `json:"guide_index,omitempty"`
	GuideTotal int         `json:"guide_total,omitempty"`
	Skipped    bool        `json:"skipped,omitempty"`

	ServerTS time.Time `json:"server_ts"`
	Error    string    `json:"error,omitempty"`
}
