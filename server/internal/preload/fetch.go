package preload

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Fetcher 按全景引用读取原始字节。
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// DirFetcher 从本地目录读取，引用被限制在 Root 之内。
type DirFetcher struct {
	Root string
}

func (f DirFetcher) Fetch(_ context.Context, ref string) ([]byte, error) {
	path := filepath.Join(f.Root, filepath.Clean("/"+ref))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read panorama %s: %w", ref, err)
	}
	return data, nil
}

// HTTPFetcher 通过 HTTP GET 读取，MaxBytes 限制单张图片大小。
type HTTPFetcher struct {
	Client   *http.Client
	MaxBytes int64
}

func (f HTTPFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get panorama %s: %w", ref, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get panorama %s: status %d", ref, resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if f.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, f.MaxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read panorama %s: %w", ref, err)
	}
	if f.MaxBytes > 0 && int64(len(data)) > f.MaxBytes {
		return nil, fmt.Errorf("panorama %s exceeds %d bytes", ref, f.MaxBytes)
	}
	return data, nil
}

// SchemeFetcher 对 http(s) 引用使用 Remote，其余使用 Local。
type SchemeFetcher struct {
	Local  Fetcher
	Remote Fetcher
}

func (f SchemeFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		if f.Remote == nil {
			return nil, fmt.Errorf("no remote fetcher for %s", ref)
		}
		return f.Remote.Fetch(ctx, ref)
	}
	if f.Local == nil {
		return nil, fmt.Errorf("no local fetcher for %s", ref)
	}
	return f.Local.Fetch(ctx, ref)
}
