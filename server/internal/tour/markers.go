package tour

import (
	"fmt"

	"go.uber.org/zap"

	"panotour/server/internal/model"
)

// renderMarkersLocked 清空热点后，按顺序为每条 Link 和每个 InfoSpot 添加一个热点。
func (e *Engine) renderMarkersLocked(scene model.Scene) {
	if e.deps.Markers == nil {
		return
	}
	e.deps.Markers.ClearMarkers()
	for i, link := range scene.Links {
		e.deps.Markers.AddMarker(MarkerSpec{
			ID:       fmt.Sprintf("link-%d-%s", i, link.Target),
			Position: link.Position,
			Tooltip:  link.Name,
			Data:     MarkerData{Kind: MarkerLink, Target: link.Target},
		})
	}
	for i := range scene.InfoSpots {
		spot := scene.InfoSpots[i]
		e.deps.Markers.AddMarker(MarkerSpec{
			ID:       fmt.Sprintf("info-%d-%s", i, spot.ID),
			Position: spot.Position,
			Tooltip:  spot.Title,
			Data:     MarkerData{Kind: MarkerInfo, Spot: &spot},
		})
	}
}

// SelectMarker 处理热点点击。切换进行中的点击一律忽略，判断基于锁内的同步状态。
// 返回 true 表示点击被处理。
func (e *Engine) SelectMarker(data MarkerData) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || !e.hasScene || e.state.Phase != PhaseIdle {
		return false
	}

	switch data.Kind {
	case MarkerLink:
		// 只有真正发起切换的点击才记入时间线
		if _, ok := e.transitionTargetLocked(data.Target); !ok {
			return false
		}
		e.emitLocked(model.Event{Type: model.EventMarkerSelected, Scene: data.Target, From: e.current.ID, MarkerKind: string(MarkerLink)})
		return e.beginTransitionLocked(data.Target)
	case MarkerInfo:
		if data.Spot == nil {
			return false
		}
		spot := *data.Spot
		if spot.Action == nil {
			spot.Action = model.AlertAction{}
		}
		e.emitLocked(model.Event{
			Type:       model.EventMarkerSelected,
			Scene:      e.current.ID,
			MarkerKind: string(MarkerInfo),
			ActionType: string(spot.Action.Type()),
		})
		e.dispatchActionLocked(spot)
		return true
	default:
		e.logger.Debug("unknown marker kind ignored", zap.String("kind", string(data.Kind)))
		return false
	}
}

// dispatchActionLocked 按动作类型分发；无法识别的类型与未注册的 custom 处理器都退回 alert。
func (e *Engine) dispatchActionLocked(spot model.InfoSpot) {
	switch a := spot.Action.(type) {
	case model.ModalAction:
		if e.deps.Modals != nil {
			e.deps.Modals.OpenModal(a.Kind, a.ActionID)
		}
		return
	case model.AlertAction:
	case model.CustomAction:
		if e.deps.Custom != nil && e.deps.Custom.Dispatch(a.Handler, spot) {
			return
		}
		e.logger.Warn("custom handler not registered, falling back to alert",
			zap.String("spot", spot.ID), zap.String("handler", a.Handler))
	default:
		e.logger.Warn("unknown action type, falling back to alert",
			zap.String("spot", spot.ID), zap.String("type", string(spot.Action.Type())))
	}
	e.alertLocked(spot)
}

func (e *Engine) alertLocked(spot model.InfoSpot) {
	if e.deps.Modals != nil {
		e.deps.Modals.Alert(spot.Title, spot.Text)
	}
}
