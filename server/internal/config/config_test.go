package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// TestLoadAppliesDefaults 验证未填写的字段会被补齐为默认值。
func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "tour:\n  source: tour.yaml\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Viewport.MinZoom != 40 || cfg.Viewport.MaxZoom != 80 || cfg.Viewport.DefaultZoom != 60 {
		t.Fatalf("unexpected zoom defaults: %+v", cfg.Viewport)
	}
	if cfg.Transition.SettleDelay != 100*time.Millisecond {
		t.Fatalf("unexpected settle delay: %v", cfg.Transition.SettleDelay)
	}
	if cfg.Storage.Driver != "memory" {
		t.Fatalf("expected memory storage, got %q", cfg.Storage.Driver)
	}
	if !cfg.Preload.Enabled {
		t.Fatalf("expected preload enabled by default")
	}
	if cfg.Server.Addr() != ":8080" {
		t.Fatalf("unexpected addr %q", cfg.Server.Addr())
	}
	if cfg.Tour.MaxBytes != 8<<20 {
		t.Fatalf("unexpected tour body cap %d", cfg.Tour.MaxBytes)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "tour:\n  source: tour.yaml\n")
	t.Setenv("PANOTOUR_TOUR_SOURCE", "other.json")
	t.Setenv("PANOTOUR_DB_PATH", "/tmp/views.db")
	t.Setenv("PANOTOUR_ADDR", "127.0.0.1:9090")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Tour.Source != "other.json" {
		t.Fatalf("expected env source, got %q", cfg.Tour.Source)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.DBPath != "/tmp/views.db" {
		t.Fatalf("expected sqlite override, got %+v", cfg.Storage)
	}
	if cfg.Server.Addr() != "127.0.0.1:9090" {
		t.Fatalf("expected addr override, got %q", cfg.Server.Addr())
	}
}

func TestValidateRejectsBadZoomRange(t *testing.T) {
	path := writeConfig(t, "tour:\n  source: tour.yaml\nviewport:\n  min_zoom: 80\n  max_zoom: 40\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for inverted zoom range")
	}
}

func TestValidateRequiresSource(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9000\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error without tour source")
	}
}
