// Package domain 负责场景图数据的加载与校验。
package domain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"panotour/server/internal/model"
)

// ErrDataUnavailable 表示外部数据源不可用，调用方应退化为空场景状态。
var ErrDataUnavailable = errors.New("tour data unavailable")

// Source 是场景图数据源，每次 Load 返回一份不可变快照。
type Source interface {
	Load(ctx context.Context) (*model.TourData, error)
}

// NewSource 按地址选择实现：http(s) 走 HTTPSource，其余视为本地文件。
func NewSource(location string, timeout time.Duration, maxBytes int64, logger *zap.Logger) Source {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return &HTTPSource{URL: location, Client: &http.Client{Timeout: timeout}, MaxBytes: maxBytes}
	}
	return NewFileSource(location, logger)
}

// Decode 按格式解析场景图并做归一化。format 取 "json" 或 "yaml"。
func Decode(data []byte, format string) (*model.TourData, error) {
	var tour model.TourData
	switch format {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &tour); err != nil {
			return nil, fmt.Errorf("parse tour yaml: %w", err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&tour); err != nil {
			return nil, fmt.Errorf("parse tour json: %w", err)
		}
	}
	tour.Normalize()
	return &tour, nil
}

// LoadFile 读取并解析本地场景图文件。
func LoadFile(path string) (*model.TourData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tour: %w", err)
	}
	return Decode(data, formatOf(path))
}

func formatOf(path string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "yaml" || ext == "yml" {
		return "yaml"
	}
	return "json"
}

// FileSource 从本地文件加载场景图并缓存快照。
// 开启 Watch 后文件变化会整体替换缓存；已经拿到快照的会话不受影响。
type FileSource struct {
	path   string
	logger *zap.Logger

	mu       sync.RWMutex
	snapshot *model.TourData

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

func NewFileSource(path string, logger *zap.Logger) *FileSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSource{path: path, logger: logger.Named("tour-source")}
}

// Load 返回缓存的快照，首次调用时从磁盘读取。
func (s *FileSource) Load(_ context.Context) (*model.TourData, error) {
	s.mu.RLock()
	snap := s.snapshot
	s.mu.RUnlock()
	if snap != nil {
		return snap, nil
	}
	return s.Reload()
}

// Reload 强制从磁盘重新读取并替换快照。
func (s *FileSource) Reload() (*model.TourData, error) {
	tour, err := LoadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}
	s.mu.Lock()
	s.snapshot = tour
	s.mu.Unlock()
	s.logger.Info("tour loaded", zap.String("path", s.path), zap.Int("scenes", len(tour.Scenes)))
	return tour, nil
}

// Watch 监听文件所在目录；编辑器常用"写临时文件再改名"，所以按文件名过滤目录事件。
func (s *FileSource) Watch(onReload func(*model.TourData)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", s.path, err)
	}
	s.watcher = w
	s.done = make(chan struct{})

	target := filepath.Clean(s.path)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.done:
				return
			case evt, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(evt.Name) != target {
					continue
				}
				if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Rename) {
					continue
				}
				tour, err := s.Reload()
				if err != nil {
					s.logger.Warn("tour reload failed, keeping previous snapshot", zap.Error(err))
					continue
				}
				if onReload != nil {
					onReload(tour)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn("tour watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

// Close 停止文件监听。
func (s *FileSource) Close() error {
	if s.watcher == nil {
		return nil
	}
	close(s.done)
	err := s.watcher.Close()
	s.wg.Wait()
	s.watcher = nil
	return err
}

// HTTPSource 通过 REST 接口读取 {"scenes": [...]}。MaxBytes > 0 时超出上限的响应按数据不可用处理。
type HTTPSource struct {
	URL      string
	Client   *http.Client
	MaxBytes int64
}

func (s *HTTPSource) Load(ctx context.Context) (*model.TourData, error) {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrDataUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrDataUnavailable, resp.StatusCode)
	}
	var body io.Reader = resp.Body
	if s.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, s.MaxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrDataUnavailable, err)
	}
	if s.MaxBytes > 0 && int64(len(data)) > s.MaxBytes {
		return nil, fmt.Errorf("%w: tour body exceeds %d bytes", ErrDataUnavailable, s.MaxBytes)
	}
	tour, err := Decode(data, formatFromContentType(resp.Header.Get("Content-Type")))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}
	return tour, nil
}

func formatFromContentType(ct string) string {
	if strings.Contains(ct, "yaml") {
		return "yaml"
	}
	return "json"
}

// StaticSource 返回固定快照，主要用于测试与嵌入式场景。
type StaticSource struct {
	Tour *model.TourData
	Err  error
}

func (s StaticSource) Load(context.Context) (*model.TourData, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Tour, nil
}
