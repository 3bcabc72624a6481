package preload

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"panotour/server/internal/model"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

type mapFetcher struct {
	data  map[string][]byte
	calls atomic.Int64
}

func (f *mapFetcher) Fetch(_ context.Context, ref string) ([]byte, error) {
	f.calls.Add(1)
	data, ok := f.data[ref]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

// TestPreloadSettlesAllAndTracksReady 验证失败的图片不会影响整体屏障，成功的进入就绪集合。
func TestPreloadSettlesAllAndTracksReady(t *testing.T) {
	fetcher := &mapFetcher{data: map[string][]byte{
		"a.png":    pngBytes(t, 8, 4),
		"b.png":    pngBytes(t, 4, 2),
		"junk.png": []byte("not an image"),
	}}
	p := New(fetcher, Options{Concurrency: 2}, zap.NewNop())

	scenes := []model.Scene{
		{ID: "1", Panorama: "a.png"},
		{ID: "2", Panorama: "b.png"},
		{ID: "3", Panorama: "missing.png"},
		{ID: "4", Panorama: "junk.png"},
		{ID: "5", Panorama: "a.png"},
	}
	res := p.Preload(context.Background(), scenes)

	if res.Loaded != 2 || res.Failed != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !p.IsReady("a.png") || !p.IsReady("b.png") {
		t.Fatalf("expected a.png and b.png ready, got %v", p.Ready())
	}
	if p.IsReady("missing.png") || p.IsReady("junk.png") {
		t.Fatalf("failed images must not be ready")
	}
	if got := fetcher.calls.Load(); got != 4 {
		t.Fatalf("expected duplicate panorama fetched once (4 calls), got %d", got)
	}

	img, err := p.Get(context.Background(), "a.png")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if img.Width != 8 || img.Height != 4 || img.ContentType != "image/png" {
		t.Fatalf("unexpected image: %+v", img)
	}
}

func TestGetLoadsOnDemand(t *testing.T) {
	fetcher := &mapFetcher{data: map[string][]byte{"late.png": pngBytes(t, 2, 2)}}
	p := New(fetcher, Options{}, nil)

	if p.IsReady("late.png") {
		t.Fatalf("should not be ready before load")
	}
	if _, err := p.Get(context.Background(), "late.png"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if !p.IsReady("late.png") {
		t.Fatalf("expected on-demand load to populate cache")
	}
}

func TestDirFetcherStaysInsideRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "pano.png"), pngBytes(t, 1, 1), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := DirFetcher{Root: root}
	if _, err := f.Fetch(context.Background(), "pano.png"); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if _, err := f.Fetch(context.Background(), "../../etc/passwd"); err == nil {
		t.Fatalf("expected traversal to stay inside root and fail")
	}
}

func TestSchemeFetcherRoutesHTTP(t *testing.T) {
	data := pngBytes(t, 3, 3)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	f := SchemeFetcher{Local: DirFetcher{Root: t.TempDir()}, Remote: HTTPFetcher{MaxBytes: 1 << 20}}
	got, err := f.Fetch(context.Background(), srv.URL+"/pano.png")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("unexpected body")
	}

	small := HTTPFetcher{MaxBytes: 4}
	if _, err := small.Fetch(context.Background(), srv.URL+"/pano.png"); err == nil {
		t.Fatalf("expected size limit error")
	}
}
