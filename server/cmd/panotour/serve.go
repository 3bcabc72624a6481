package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"panotour/server/internal/api"
	"panotour/server/internal/config"
	"panotour/server/internal/domain"
	"panotour/server/internal/logging"
	"panotour/server/internal/model"
	"panotour/server/internal/preload"
	"panotour/server/internal/timeline"
	"panotour/server/internal/views"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP + websocket tour server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "server/configs/panotour.yaml", "config file path")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var preloader *preload.Preloader
	if cfg.Preload.Enabled {
		preloader = preload.New(preload.SchemeFetcher{
			Local:  preload.DirFetcher{Root: cfg.Preload.AssetsDir},
			Remote: preload.HTTPFetcher{Client: &http.Client{Timeout: cfg.Preload.Timeout}, MaxBytes: cfg.Preload.MaxBytes},
		}, preload.Options{Concurrency: cfg.Preload.Concurrency, Timeout: cfg.Preload.Timeout}, logger)
	}
	warm := func(data *model.TourData) {
		if preloader == nil || data.Empty() {
			return
		}
		go preloader.Preload(ctx, data.Scenes)
	}

	source := domain.NewSource(cfg.Tour.Source, cfg.Tour.FetchTimeout, cfg.Tour.MaxBytes, logger)
	if fs, ok := source.(*domain.FileSource); ok && cfg.Tour.Watch {
		if err := fs.Watch(warm); err != nil {
			logger.Warn("tour hot reload disabled", zap.Error(err))
		}
		defer fs.Close()
	}
	if data, err := source.Load(ctx); err != nil {
		// 数据源不可用不阻止启动，会话会退化为空场景状态
		logger.Warn("initial tour load failed", zap.Error(err))
	} else {
		warm(data)
	}

	deps := api.Deps{Config: cfg, Source: source, Preloader: preloader, Logger: logger}
	switch cfg.Storage.Driver {
	case "sqlite":
		vs, err := views.OpenSQLite(cfg.Storage.DBPath)
		if err != nil {
			return err
		}
		defer vs.Close()
		// 时间线与浏览计数共用一个数据库文件
		tl, err := timeline.NewSQLiteStore(vs.DB())
		if err != nil {
			return err
		}
		deps.Views, deps.Timeline = vs, tl
	default:
		deps.Views = views.NewInMemoryStore()
		deps.Timeline = timeline.NewInMemoryStore()
	}

	server, err := api.NewServer(deps)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	// 不设置 WriteTimeout：websocket 连接是长连接，写超时由网关逐条控制
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           server.Routes(),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("panotour server listening", zap.String("addr", httpServer.Addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// 先断开 websocket 会话，Shutdown 不会等待被劫持的连接
	server.Shutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
