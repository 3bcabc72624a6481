package domain

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"panotour/server/internal/model"
)

const tourJSON = `{"scenes":[
	{"id":"1","name":"Hall","panorama":"hall.jpg","links":[{"target":"2","name":"Room","position":{"yaw":7.0,"pitch":0}}]},
	{"id":"2","name":"Room","panorama":"room.jpg","links":[{"target":"1","name":"Hall","position":{"yaw":3.14159,"pitch":0}}],
	 "info_spots":[{"id":"x","title":"X","text":"t","action":{"type":"custom","handler":"open_shop"}}]}
]}`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// TestLoadFileNormalizesYaw 验证加载后链接 yaw 被折叠到 (−π, π]。
func TestLoadFileNormalizesYaw(t *testing.T) {
	tour, err := LoadFile(writeFile(t, "tour.json", tourJSON))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(tour.Scenes) != 2 {
		t.Fatalf("expected 2 scenes, got %d", len(tour.Scenes))
	}
	yaw := tour.Scenes[0].Links[0].Position.Yaw
	if math.Abs(yaw-(7.0-2*math.Pi)) > 1e-9 {
		t.Fatalf("expected normalized yaw, got %v", yaw)
	}
	if _, ok := tour.Scenes[1].InfoSpots[0].Action.(model.CustomAction); !ok {
		t.Fatalf("expected custom action, got %T", tour.Scenes[1].InfoSpots[0].Action)
	}
}

func TestLoadFileYAML(t *testing.T) {
	body := "scenes:\n  - id: \"1\"\n    name: Hall\n    panorama: hall.jpg\n"
	tour, err := LoadFile(writeFile(t, "tour.yaml", body))
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if s, ok := tour.Scene("1"); !ok || s.Panorama != "hall.jpg" {
		t.Fatalf("unexpected scene: %+v", s)
	}
}

func TestFileSourceMissingFileIsDataUnavailable(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "missing.json"), zap.NewNop())
	_, err := src.Load(context.Background())
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
}

// TestFileSourceWatchReplacesSnapshot 验证文件变化后快照被整体替换。
func TestFileSourceWatchReplacesSnapshot(t *testing.T) {
	path := writeFile(t, "tour.json", `{"scenes":[{"id":"1","panorama":"a.jpg"}]}`)
	src := NewFileSource(path, zap.NewNop())
	defer src.Close()

	first, err := src.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	reloaded := make(chan *model.TourData, 4)
	if err := src.Watch(func(tour *model.TourData) { reloaded <- tour }); err != nil {
		t.Fatalf("watch: %v", err)
	}
	if err := os.WriteFile(path, []byte(`{"scenes":[{"id":"1","panorama":"a.jpg"},{"id":"2","panorama":"b.jpg"}]}`), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case tour := <-reloaded:
			if len(tour.Scenes) != 2 {
				continue
			}
			if len(first.Scenes) != 1 {
				t.Fatalf("previous snapshot mutated")
			}
			current, _ := src.Load(context.Background())
			if len(current.Scenes) != 2 {
				t.Fatalf("expected cached snapshot replaced")
			}
			return
		case <-deadline:
			t.Fatalf("timed out waiting for reload")
		}
	}
}

func TestHTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(tourJSON))
	}))
	defer srv.Close()

	tour, err := (&HTTPSource{URL: srv.URL + "/tour"}).Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(tour.Scenes) != 2 {
		t.Fatalf("expected 2 scenes, got %d", len(tour.Scenes))
	}

	_, err = (&HTTPSource{URL: srv.URL + "/broken"}).Load(context.Background())
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
}

func TestHTTPSourceRejectsOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(tourJSON))
	}))
	defer srv.Close()

	src := NewSource(srv.URL, time.Second, int64(len(tourJSON)), zap.NewNop())
	if _, err := src.Load(context.Background()); err != nil {
		t.Fatalf("body at the cap must load: %v", err)
	}

	small := &HTTPSource{URL: srv.URL, MaxBytes: int64(len(tourJSON)) - 1}
	_, err := small.Load(context.Background())
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable for oversized body, got %v", err)
	}
	if !strings.Contains(err.Error(), "exceeds") {
		t.Fatalf("expected size error, got %v", err)
	}
}

func TestValidateReportsProblems(t *testing.T) {
	tour := &model.TourData{Scenes: []model.Scene{
		{ID: "1", Panorama: "a.jpg", Links: []model.Link{{Target: "9", Name: "ghost"}}},
		{ID: "1", Panorama: ""},
		{ID: "lobby", Panorama: "c.jpg", InfoSpots: []model.InfoSpot{{ID: "s", Action: model.UnknownAction{Raw: "bogus"}}}},
	}}
	findings := Validate(tour)
	if !HasErrors(findings) {
		t.Fatalf("expected errors, got %v", findings)
	}
	var dangling, duplicate, unknown, nonNumeric bool
	for _, f := range findings {
		switch {
		case f.Scene == "1" && f.Message == `link "ghost" points to unknown scene "9"`:
			dangling = true
		case f.Scene == "1" && f.Message == "duplicate scene id":
			duplicate = true
		case f.Scene == "lobby" && f.Severity == SeverityWarning && f.Message == `info spot "s": unknown action type "bogus", falls back to alert`:
			unknown = true
		case f.Scene == "lobby" && f.Message == "non-numeric id, views will not be counted":
			nonNumeric = true
		}
	}
	if !dangling || !duplicate || !unknown || !nonNumeric {
		t.Fatalf("missing findings: %v", findings)
	}
}

func TestValidateEmptyTour(t *testing.T) {
	findings := Validate(&model.TourData{})
	if len(findings) != 1 || findings[0].Severity != SeverityError {
		t.Fatalf("unexpected findings: %v", findings)
	}
}
