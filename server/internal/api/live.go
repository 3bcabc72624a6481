package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"panotour/server/internal/config"
	"panotour/server/internal/gateway"
	"panotour/server/internal/guide"
	"panotour/server/internal/tour"
)

// newLiveSession 组装一条连接上的协作者：网关作为引擎的宿主，
// 引擎事件经编排器落到时间线，客户端输入经队列串行交给引擎。
func (s *Server) newLiveSession(sessionID string, conn *websocket.Conn) *liveSession {
	cfg := s.config
	gw := gateway.NewClientGateway(sessionID, conn, gateway.Config{
		PingInterval:   cfg.Gateway.PingInterval,
		WriteTimeout:   cfg.Server.WriteTimeout,
		SwapTimeout:    cfg.Transition.SwapTimeout,
		CustomHandlers: cfg.Gateway.CustomHandlers,
	}, s.logger)

	deps := tour.Deps{
		Viewer:   gw,
		Markers:  gw,
		Modals:   gw,
		Custom:   gw,
		URL:      gw,
		Logger:   s.logger.With(zap.String("session", sessionID)),
		Observer: s.orchestrator.Observer(sessionID),
	}
	// 接口字段不能接收 nil 指针
	if s.views != nil {
		deps.Views = s.views
	}
	if s.preloader != nil {
		deps.Ready = s.preloader
	}
	engine := tour.New(deps, EngineOptions(cfg))

	var seq *guide.Sequencer
	if steps := guide.StepsFromConfig(cfg.Guide); len(steps) > 0 {
		seq = guide.New(steps, engine, gw, s.logger)
	}

	queue := gateway.NewEventQueue(sessionID, gateway.NewTourHandler(engine, seq), gateway.QueueOptions{
		Capacity: cfg.Gateway.QueueCapacity,
	}, s.logger)
	gw.SetQueue(queue)

	return &liveSession{engine: engine, gateway: gw, queue: queue, guide: seq}
}

// EngineOptions 把配置映射为引擎参数。
func EngineOptions(cfg *config.Config) tour.Options {
	v := cfg.Viewport
	return tour.Options{
		MinZoom:         v.MinZoom,
		MaxZoom:         v.MaxZoom,
		DefaultZoom:     v.DefaultZoom,
		ZoomStep:        v.ZoomStep,
		YawStep:         v.YawStep,
		TickInterval:    v.TickInterval,
		RotateDuration:  v.RotateDuration,
		FrameInterval:   v.FrameInterval,
		SettleDelay:     cfg.Transition.SettleDelay,
		PanoramaBaseURL: cfg.Tour.PanoramaBaseURL,
	}
}

func (s *Server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.config.Server.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && s.originAllowed(c.Request) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
