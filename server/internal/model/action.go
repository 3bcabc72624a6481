package model

import (
	"encoding/json"

	"gopkg.in/yaml.v3"

	"panotour/server/internal/geom"
)

// ActionType 是信息热点动作的判别字段。
type ActionType string

const (
	ActionModal  ActionType = "modal"
	ActionAlert  ActionType = "alert"
	ActionCustom ActionType = "custom"
)

// Action 是封闭的和类型：ModalAction | AlertAction | CustomAction | UnknownAction。
// 消费方用 type switch 穷举，并保留 default 分支。
type Action interface {
	Type() ActionType
	isAction()
}

// ModalAction 交给外部弹窗宿主，按 Kind 渲染，ActionID 用于拉取弹窗内容。
type ModalAction struct {
	Kind     string
	ActionID string
}

// AlertAction 以阻塞提示展示热点的标题与正文。
type AlertAction struct{}

// CustomAction 分发给按名称注册的外部处理器。
type CustomAction struct {
	Handler string
}

// UnknownAction 保存无法识别的动作类型，分发时按 alert 处理。
type UnknownAction struct {
	Raw string
}

func (ModalAction) Type() ActionType { return ActionModal }
func (AlertAction) Type() ActionType { return ActionAlert }
func (CustomAction) Type() ActionType { return ActionCustom }
func (a UnknownAction) Type() ActionType { return ActionType(a.Raw) }

func (ModalAction) isAction() {}
func (AlertAction) isAction() {}
func (CustomAction) isAction() {}
func (UnknownAction) isAction() {}

// ActionSpec 是动作在 JSON/YAML 中的线上形态。
type ActionSpec struct {
	Type      string `json:"type" yaml:"type"`
	ModalType string `json:"modal_type,omitempty" yaml:"modal_type,omitempty"`
	ActionID  string `json:"action_id,omitempty" yaml:"action_id,omitempty"`
	Handler   string `json:"handler,omitempty" yaml:"handler,omitempty"`
}

// Action 把线上形态转换为和类型；空 type 视为 alert。
func (s ActionSpec) Action() Action {
	switch ActionType(s.Type) {
	case ActionModal:
		return ModalAction{Kind: s.ModalType, ActionID: s.ActionID}
	case ActionAlert, "":
		return AlertAction{}
	case ActionCustom:
		return CustomAction{Handler: s.Handler}
	default:
		return UnknownAction{Raw: s.Type}
	}
}

// SpecOf 把和类型还原为线上形态。
func SpecOf(a Action) ActionSpec {
	switch v := a.(type) {
	case ModalAction:
		return ActionSpec{Type: string(ActionModal), ModalType: v.Kind, ActionID: v.ActionID}
	case CustomAction:
		return ActionSpec{Type: string(ActionCustom), Handler: v.Handler}
	case UnknownAction:
		return ActionSpec{Type: v.Raw}
	default:
		return ActionSpec{Type: string(ActionAlert)}
	}
}

type infoSpotWire struct {
	ID       string           `json:"id" yaml:"id"`
	Title    string           `json:"title" yaml:"title"`
	Text     string           `json:"text" yaml:"text"`
	Position geom.Orientation `json:"position" yaml:"position"`
	Action   ActionSpec       `json:"action" yaml:"action"`
}

func (s InfoSpot) wire() infoSpotWire {
	return infoSpotWire{ID: s.ID, Title: s.Title, Text: s.Text, Position: s.Position, Action: SpecOf(s.Action)}
}

func (s *InfoSpot) fromWire(w infoSpotWire) {
	*s = InfoSpot{ID: w.ID, Title: w.Title, Text: w.Text, Position: w.Position, Action: w.Action.Action()}
}

func (s InfoSpot) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.wire())
}

func (s *InfoSpot) UnmarshalJSON(data []byte) error {
	var w infoSpotWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.fromWire(w)
	return nil
}

func (s InfoSpot) MarshalYAML() (interface{}, error) {
	return s.wire(), nil
}

func (s *InfoSpot) UnmarshalYAML(value *yaml.Node) error {
	var w infoSpotWire
	if err := value.Decode(&w); err != nil {
		return err
	}
	s.fromWire(w)
	return nil
}
