// Package preload 预热全景图缓存，并维护"已就绪"集合。
// 预加载只是优化：未就绪的场景切换时由浏览器显示加载指示并按需加载。
package preload

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"

	"panotour/server/internal/model"
)

// Image 是一张已校验的全景图。
type Image struct {
	Data        []byte
	Format      string
	ContentType string
	Width       int
	Height      int
}

// Result 汇总一次预加载。
type Result struct {
	Loaded int
	Failed int
}

// Preloader 并发拉取全景图，全部结束（成功或失败）后返回。
type Preloader struct {
	fetcher     Fetcher
	logger      *zap.Logger
	concurrency int
	timeout     time.Duration

	mu     sync.RWMutex
	images map[string]*Image
}

type Options struct {
	Concurrency int
	Timeout     time.Duration
}

func New(fetcher Fetcher, opts Options, logger *zap.Logger) *Preloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Preloader{
		fetcher:     fetcher,
		logger:      logger.Named("preload"),
		concurrency: opts.Concurrency,
		timeout:     opts.Timeout,
		images:      make(map[string]*Image),
	}
}

// Preload 是 all-settled 屏障：单张失败只记日志，不影响其他图片，也不返回错误。
func (p *Preloader) Preload(ctx context.Context, scenes []model.Scene) Result {
	keys := uniquePanoramas(scenes)

	var mu sync.Mutex
	var res Result

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(p.concurrency)
	for _, key := range keys {
		if p.IsReady(key) {
			mu.Lock()
			res.Loaded++
			mu.Unlock()
			continue
		}
		eg.Go(func() error {
			_, err := p.load(egCtx, key)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				p.logger.Warn("panorama preload failed", zap.String("panorama", key), zap.Error(err))
				return nil
			}
			res.Loaded++
			return nil
		})
	}
	_ = eg.Wait()

	p.logger.Info("preload settled", zap.Int("loaded", res.Loaded), zap.Int("failed", res.Failed))
	return res
}

// IsReady 判断全景图是否已在缓存中。
func (p *Preloader) IsReady(key string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.images[key]
	return ok
}

// Ready 返回已就绪的全景引用（排序后）。
func (p *Preloader) Ready() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.images))
	for k := range p.images {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Get 返回缓存的图片，未缓存时按需拉取并写入缓存。
func (p *Preloader) Get(ctx context.Context, key string) (*Image, error) {
	p.mu.RLock()
	img, ok := p.images[key]
	p.mu.RUnlock()
	if ok {
		return img, nil
	}
	return p.load(ctx, key)
}

func (p *Preloader) load(ctx context.Context, key string) (*Image, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	data, err := p.fetcher.Fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode panorama %s: %w", key, err)
	}
	img := &Image{
		Data:        data,
		Format:      format,
		ContentType: "image/" + format,
		Width:       cfg.Width,
		Height:      cfg.Height,
	}

	// 双重检查：并发加载同一张图时保留先写入的那份。
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.images[key]; ok {
		return existing, nil
	}
	p.images[key] = img
	return img, nil
}

func uniquePanoramas(scenes []model.Scene) []string {
	seen := make(map[string]struct{}, len(scenes))
	var keys []string
	for _, s := range scenes {
		if s.Panorama == "" {
			continue
		}
		if _, ok := seen[s.Panorama]; ok {
			continue
		}
		seen[s.Panorama] = struct{}{}
		keys = append(keys, s.Panorama)
	}
	return keys
}
