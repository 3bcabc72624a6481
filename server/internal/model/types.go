package model

import (
	"time"

	"panotour/server/internal/geom"
)

// Scene 是一个全景场景节点，加载后不可变。
type Scene struct {
	ID        string     `json:"id" yaml:"id"`
	Name      string     `json:"name" yaml:"name"`
	Panorama  string     `json:"panorama" yaml:"panorama"`
	Links     []Link     `json:"links" yaml:"links"`
	InfoSpots []InfoSpot `json:"info_spots" yaml:"info_spots"`
	// ShopID 关联的店铺，可为空。
	ShopID string `json:"shop_id,omitempty" yaml:"shop_id,omitempty"`
}

// Link 是从当前场景指向另一场景的有向边。
// Position 是热点在当前场景球面上的锚点；A→B 并不意味着存在 B→A。
type Link struct {
	Target   string           `json:"target" yaml:"target"`
	Name     string           `json:"name" yaml:"name"`
	Position geom.Orientation `json:"position" yaml:"position"`
}

// InfoSpot 是不触发导航的信息热点，每个热点恰好绑定一个 Action。
type InfoSpot struct {
	ID       string           `json:"id" yaml:"id"`
	Title    string           `json:"title" yaml:"title"`
	Text     string           `json:"text" yaml:"text"`
	Position geom.Orientation `json:"position" yaml:"position"`
	Action   Action           `json:"-" yaml:"-"`
}

// TourData 是一次加载得到的完整场景图快照，只会被整体替换。
type TourData struct {
	Scenes []Scene `json:"scenes" yaml:"scenes"`
}

// Empty 表示没有任何可用场景。
func (t *TourData) Empty() bool {
	return t == nil || len(t.Scenes) == 0
}

// Scene 按 id 查找场景。
func (t *TourData) Scene(id string) (Scene, bool) {
	if t == nil {
		return Scene{}, false
	}
	for _, s := range t.Scenes {
		if s.ID == id {
			return s, true
		}
	}
	return Scene{}, false
}

// StartScene 返回请求的起始场景；id 不存在时确定性地回退到第一个场景。
func (t *TourData) StartScene(requested string) (Scene, bool) {
	if t.Empty() {
		return Scene{}, false
	}
	if requested != "" {
		if s, ok := t.Scene(requested); ok {
			return s, true
		}
	}
	return t.Scenes[0], true
}

// Normalize 把所有热点 yaw 折叠到 (−π, π]，并为缺失的动作补默认值。
func (t *TourData) Normalize() {
	if t == nil {
		return
	}
	for i := range t.Scenes {
		s := &t.Scenes[i]
		for j := range s.Links {
			s.Links[j].Position.Yaw = geom.NormalizeYaw(s.Links[j].Position.Yaw)
		}
		for j := range s.InfoSpots {
			s.InfoSpots[j].Position.Yaw = geom.NormalizeYaw(s.InfoSpots[j].Position.Yaw)
			if s.InfoSpots[j].Action == nil {
				s.InfoSpots[j].Action = AlertAction{}
			}
		}
	}
}

// Event 表示时间线中的一个事件。
type Event struct {
	// Seq 由后端分配的单调序号，用于回放与幂等。
	Seq int64 `json:"seq,omitempty"`
	// SessionID 由编排器补齐。
	SessionID string `json:"session_id,omitempty"`
	// EventID 用于去重与重试幂等。
	EventID string `json:"event_id,omitempty"`

	// Type 表示事件类型（session_started/scene_entered/transition_failed/...）。
	Type string `json:"type"`
	// Scene 是事件相关的场景（进入的场景、失败的目标等）。
	Scene string `json:"scene,omitempty"`
	// From 是切换前的场景。
	From      string `json:"from,omitempty"`
	Direction string `json:"direction,omitempty"`
	// MarkerKind 是被点击热点的类型（link/info）以及动作类型。
	MarkerKind string `json:"marker_kind,omitempty"`
	ActionType string `json:"action_type,omitempty"`
	Error      string `json:"error,omitempty"`

	ServerTS time.Time `json:"server_ts,omitempty"`
}

// 引擎事件类型
const (
	EventSessionStarted    = "session_started"
	EventNoScene           = "no_scene"
	EventTransitionStarted = "transition_started"
	EventSceneEntered      = "scene_entered"
	EventTransitionFailed  = "transition_failed"
	EventMarkerSelected    = "marker_selected"
	EventViewCounted       = "view_counted"
	EventSessionClosed     = "session_closed"
)

// SessionState 保存一次导览会话的快照，由时间线事件归约得到。
type SessionState struct {
	SessionID string `json:"session_id"`
	// StartScene 是创建会话时请求的起始场景，可为空。
	StartScene   string `json:"start_scene,omitempty"`
	CurrentScene string `json:"current_scene,omitempty"`
	// ViewedScenes 按首次进入顺序记录，只增不减。
	ViewedScenes      []string  `json:"viewed_scenes"`
	Transitions       int       `json:"transitions"`
	FailedTransitions int       `json:"failed_transitions"`
	MarkerSelections  int       `json:"marker_selections"`
	NoScene           bool      `json:"no_scene,omitempty"`
	Closed            bool      `json:"closed,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	LastEventAt       time.Time `json:"last_event_at"`
}

// HasViewed 判断场景是否已计入浏览。
func (s *SessionState) HasViewed(sceneID string) bool {
	for _, id := range s.ViewedScenes {
		if id == sceneID {
			return true
		}
	}
	return false
}

// CreateSessionResponse 是创建会话的响应结构体。
type CreateSessionResponse struct {
	SessionID string       `json:"session_id"`
	State     SessionState `json:"state"`
	StreamURL string       `json:"stream_url"`
}
