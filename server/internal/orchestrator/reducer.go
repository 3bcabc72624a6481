package orchestrator

import (
	"time"

	"panotour/server/internal/model"
)

// Reduce 只做“事实归约”，不触发外部调用。
func Reduce(state *model.SessionState, evt model.Event, now time.Time) *model.SessionState {
	if state == nil {
		return nil
	}

	switch evt.Type {
	case model.EventSessionStarted:
		state.CurrentScene = evt.Scene
	case model.EventNoScene:
		state.NoScene = true
	case model.EventSceneEntered:
		state.CurrentScene = evt.Scene
		state.Transitions++
	case model.EventTransitionFailed:
		state.FailedTransitions++
	case model.EventMarkerSelected:
		state.MarkerSelections++
	case model.EventViewCounted:
		if evt.Scene != "" && !state.HasViewed(evt.Scene) {
			state.ViewedScenes = append(state.ViewedScenes, evt.Scene)
		}
	case model.EventSessionClosed:
		state.Closed = true
	}

	if now.After(state.LastEventAt) {
		state.LastEventAt = now
	}
	return state
}
