package orchestrator

import (
	"testing"
	"time"

	"panotour/server/internal/model"
)

// TestReduceViewedScenesIsMonotonicSet 浏览集合只增不减且不重复。
func TestReduceViewedScenesIsMonotonicSet(t *testing.T) {
	state := &model.SessionState{SessionID: "s1"}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, scene := range []string{"1", "2", "1", ""} {
		Reduce(state, model.Event{Type: model.EventViewCounted, Scene: scene}, now)
	}
	if len(state.ViewedScenes) != 2 || state.ViewedScenes[0] != "1" || state.ViewedScenes[1] != "2" {
		t.Fatalf("unexpected viewed scenes: %v", state.ViewedScenes)
	}
}

func TestReduceKeepsLatestEventTime(t *testing.T) {
	later := time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)
	state := &model.SessionState{SessionID: "s1", LastEventAt: later}

	Reduce(state, model.Event{Type: model.EventTransitionStarted}, later.Add(-time.Minute))
	if !state.LastEventAt.Equal(later) {
		t.Fatalf("LastEventAt moved backwards: %v", state.LastEventAt)
	}
	if state.Transitions != 0 {
		t.Fatalf("transition_started must not count as a transition")
	}
	if Reduce(nil, model.Event{}, later) != nil {
		t.Fatalf("nil state must stay nil")
	}
}
