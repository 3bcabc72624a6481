package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"panotour/server/internal/config"
	"panotour/server/internal/domain"
	"panotour/server/internal/gateway"
	"panotour/server/internal/guide"
	"panotour/server/internal/model"
	"panotour/server/internal/orchestrator"
	"panotour/server/internal/preload"
	"panotour/server/internal/session"
	"panotour/server/internal/timeline"
	"panotour/server/internal/tour"
	"panotour/server/internal/views"
)

// Deps 是 Server 的依赖。Preloader 与 Views 可为空。
type Deps struct {
	Config    *config.Config
	Source    domain.Source
	Preloader *preload.Preloader
	Views     views.Store
	Sessions  session.Store
	Timeline  timeline.Store
	Logger    *zap.Logger
}

type Server struct {
	config       *config.Config
	source       domain.Source
	preloader    *preload.Preloader
	views        views.Store
	store        session.Store
	timeline     timeline.Store
	orchestrator *orchestrator.Orchestrator
	logger       *zap.Logger

	// live 管理所有在线的导览会话 (sessionID -> liveSession)
	live   map[string]*liveSession
	liveMu sync.RWMutex

	upgrader websocket.Upgrader
}

// liveSession 是一条在线连接上的引擎、网关与输入队列。
type liveSession struct {
	engine  *tour.Engine
	gateway *gateway.ClientGateway
	queue   *gateway.EventQueue
	guide   *guide.Sequencer
}

func NewServer(deps Deps) (*Server, error) {
	if deps.Config == nil {
		return nil, errors.New("config is required")
	}
	if deps.Source == nil {
		return nil, errors.New("tour source is required")
	}
	if deps.Sessions == nil {
		deps.Sessions = session.NewInMemoryStore()
	}
	if deps.Timeline == nil {
		deps.Timeline = timeline.NewInMemoryStore()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config:       deps.Config,
		source:       deps.Source,
		preloader:    deps.Preloader,
		views:        deps.Views,
		store:        deps.Sessions,
		timeline:     deps.Timeline,
		orchestrator: orchestrator.New(deps.Sessions, deps.Timeline, time.Now, logger),
		logger:       logger.Named("api"),
		live:         make(map[string]*liveSession),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.originAllowed}
	return s, nil
}

func (s *Server) Routes() http.Handler {
	// Gin 统一承载中间件与路由，便于扩展日志/鉴权/限流等能力。
	engine := gin.New()
	engine.Use(gin.Logger(), gin.Recovery(), s.corsMiddleware())
	engine.GET("/healthz", s.handleHealthz)
	engine.GET("/api/tour", s.handleTour)
	engine.GET("/api/tour/validate", s.handleTourValidate)
	engine.GET("/api/scenes/:id/views", s.handleSceneViews)
	engine.GET("/api/panoramas", s.handlePanoramaCache)
	engine.GET("/api/panoramas/:scene", s.handlePanorama)
	engine.GET("/api/sessions", s.handleListSessions)
	engine.POST("/api/sessions", s.handleCreateSession)
	engine.GET("/api/sessions/:id", s.handleGetSession)
	engine.GET("/api/sessions/:id/timeline", s.handleSessionTimeline)
	engine.GET("/api/sessions/:id/stream", s.handleSessionStream)
	return engine
}

// Shutdown 关闭所有在线会话并等待其退出。
func (s *Server) Shutdown() {
	s.liveMu.RLock()
	sessions := make([]*liveSession, 0, len(s.live))
	for _, ls := range s.live {
		sessions = append(sessions, ls)
	}
	s.liveMu.RUnlock()

	for _, ls := range sessions {
		_ = ls.gateway.Close()
	}
	for _, ls := range sessions {
		ls.gateway.Wait()
	}
}

// handleHealthz 返回服务健康状态。
func (s *Server) handleHealthz(c *gin.Context) {
	s.liveMu.RLock()
	n := len(s.live)
	s.liveMu.RUnlock()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "live_sessions": n})
}

// handleTour 返回当前场景图快照。
func (s *Server) handleTour(c *gin.Context) {
	data, ok := s.loadTour(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, data)
}

func (s *Server) handleTourValidate(c *gin.Context) {
	data, ok := s.loadTour(c)
	if !ok {
		return
	}
	findings := domain.Validate(data)
	if findings == nil {
		findings = []domain.Finding{}
	}
	c.JSON(http.StatusOK, gin.H{"ok": !domain.HasErrors(findings), "findings": findings})
}

func (s *Server) loadTour(c *gin.Context) (*model.TourData, bool) {
	data, err := s.source.Load(c.Request.Context())
	if err != nil {
		s.logger.Warn("load tour failed", zap.Error(err))
		if errors.Is(err, domain.ErrDataUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "tour data unavailable"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "load tour failed"})
		}
		return nil, false
	}
	return data, true
}

// handleSceneViews 返回场景的浏览计数，只接受数字 id。
func (s *Server) handleSceneViews(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scene id must be numeric"})
		return
	}
	if s.views == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "view counting disabled"})
		return
	}
	n, err := s.views.Count(c.Request.Context(), id)
	if err != nil {
		s.logger.Warn("count views failed", zap.Int64("scene", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count views failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"scene": id, "views": n})
}

// handlePanorama 返回场景全景图，优先走预加载缓存。
func (s *Server) handlePanorama(c *gin.Context) {
	if s.preloader == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "panorama cache disabled"})
		return
	}
	data, ok := s.loadTour(c)
	if !ok {
		return
	}
	scene, found := data.Scene(c.Param("scene"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "scene not found"})
		return
	}
	img, err := s.preloader.Get(c.Request.Context(), scene.Panorama)
	if err != nil {
		s.logger.Warn("panorama fetch failed", zap.String("scene", scene.ID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "panorama unavailable"})
		return
	}
	c.Header("Cache-Control", "public, max-age=3600")
	c.Data(http.StatusOK, img.ContentType, img.Data)
}

// handlePanoramaCache 列出已进入缓存的全景引用。
func (s *Server) handlePanoramaCache(c *gin.Context) {
	if s.preloader == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "panorama cache disabled"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": s.preloader.Ready()})
}

type createSessionRequest struct {
	StartScene string `json:"start_scene"`
}

// handleCreateSession 创建会话，body 可为空。
func (s *Server) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}

	state, err := s.orchestrator.CreateSession(c.Request.Context(), "", req.StartScene)
	if err != nil {
		s.logger.Error("create session failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save session failed"})
		return
	}

	c.JSON(http.StatusOK, model.CreateSessionResponse{
		SessionID: state.SessionID,
		State:     *state,
		StreamURL: "/api/sessions/" + state.SessionID + "/stream",
	})
}

// handleListSessions 按创建时间列出会话快照，并标出在线会话。
func (s *Server) handleListSessions(c *gin.Context) {
	states, err := s.store.List(c.Request.Context())
	if err != nil {
		s.logger.Error("list sessions failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list sessions failed"})
		return
	}
	items := make([]gin.H, 0, len(states))
	for i := range states {
		items = append(items, gin.H{"state": states[i], "live": s.liveSession(states[i].SessionID) != nil})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": items})
}

// handleGetSession 返回会话快照；在线会话附带引擎状态、队列统计与引导进度。
func (s *Server) handleGetSession(c *gin.Context) {
	state, ok := s.getSession(c)
	if !ok {
		return
	}
	resp := gin.H{"state": state, "live": false}
	if ls := s.liveSession(state.SessionID); ls != nil {
		resp["live"] = true
		resp["engine"] = ls.engine.State()
		resp["queue"] = ls.queue.Stats()
		if ls.guide != nil {
			g := gin.H{"done": ls.guide.Done()}
			if step, index, ok := ls.guide.Current(); ok {
				g["step"] = step
				g["index"] = index
			}
			resp["guide"] = g
		}
	}
	c.JSON(http.StatusOK, resp)
}

// handleSessionTimeline 返回会话时间线，?after=<seq> 只返回之后的事件。
func (s *Server) handleSessionTimeline(c *gin.Context) {
	state, ok := s.getSession(c)
	if !ok {
		return
	}
	var after int64
	if v := c.Query("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "after must be a non-negative integer"})
			return
		}
		after = n
	}
	events, err := s.timeline.ListAfter(c.Request.Context(), state.SessionID, after)
	if err != nil {
		s.logger.Error("list timeline failed", zap.String("session", state.SessionID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list timeline failed"})
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"session_id": state.SessionID, "events": events})
}

// getSession 读取会话快照，快照缺失时尝试从时间线重建。
func (s *Server) getSession(c *gin.Context) (*model.SessionState, bool) {
	id := c.Param("id")
	state, err := s.store.Get(c.Request.Context(), id)
	if errors.Is(err, session.ErrNotFound) {
		state, err = s.orchestrator.Replay(c.Request.Context(), id)
	}
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return nil, false
		}
		s.logger.Error("load session failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load session failed"})
		return nil, false
	}
	return state, true
}

func (s *Server) liveSession(id string) *liveSession {
	s.liveMu.RLock()
	defer s.liveMu.RUnlock()
	return s.live[id]
}

// handleSessionStream 升级为 WebSocket，创建引擎与网关并阻塞到连接关闭。
// ?scene= 是浏览器地址栏中的场景参数，缺省时用创建会话时的起始场景。
func (s *Server) handleSessionStream(c *gin.Context) {
	state, ok := s.getSession(c)
	if !ok {
		return
	}
	sessionID := state.SessionID
	if s.liveSession(sessionID) != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "session already streaming"})
		return
	}
	if state.Closed {
		c.JSON(http.StatusGone, gin.H{"error": "session closed"})
		return
	}

	requested := c.Query("scene")
	if requested == "" {
		requested = state.StartScene
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.String("session", sessionID), zap.Error(err))
		return
	}

	logger := s.logger.With(zap.String("session", sessionID))
	ls := s.newLiveSession(sessionID, conn)

	s.liveMu.Lock()
	if _, exists := s.live[sessionID]; exists {
		s.liveMu.Unlock()
		ls.engine.Close()
		ls.queue.Close()
		_ = ls.gateway.Close()
		return
	}
	s.live[sessionID] = ls
	total := len(s.live)
	s.liveMu.Unlock()
	logger.Info("tour session connected", zap.Int("live", total), zap.String("scene", requested))

	defer func() {
		s.liveMu.Lock()
		delete(s.live, sessionID)
		s.liveMu.Unlock()

		_ = ls.gateway.Close()
		ls.engine.Close()
		ls.queue.Close()
		ls.gateway.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.orchestrator.CloseSession(ctx, sessionID); err != nil {
			logger.Warn("record session close failed", zap.Error(err))
		}
		logger.Info("tour session closed")
	}()

	// 状态变化推给浏览器
	updates, unsubscribe := ls.engine.Subscribe()
	defer unsubscribe()
	go func() {
		for st := range updates {
			if err := ls.gateway.SendState(st); err != nil {
				return
			}
		}
	}()

	ls.gateway.Start()

	data, err := s.source.Load(c.Request.Context())
	if err != nil {
		// 数据源不可用时退化为空场景状态
		logger.Warn("tour data unavailable, starting empty", zap.Error(err))
		data = &model.TourData{}
	}
	if err := ls.engine.Start(c.Request.Context(), data, requested); err != nil {
		logger.Warn("engine start", zap.Error(err))
	}
	if seq := ls.guide; seq != nil {
		seq.Start()
	}

	<-ls.gateway.Done()
}
