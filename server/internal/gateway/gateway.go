package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"panotour/server/internal/geom"
	"panotour/server/internal/guide"
	"panotour/server/internal/model"
	"panotour/server/internal/tour"
)

// ErrClosed 表示连接已关闭。
var ErrClosed = errors.New("gateway closed")

// Config 网关配置
type Config struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
	// SwapTimeout 是等待浏览器确认全景切换的上限。
	SwapTimeout time.Duration
	// CustomHandlers 是浏览器端注册的 custom 动作处理器名称。
	CustomHandlers []string
}

// ClientGateway 把一条浏览器 WebSocket 连接包装成导览引擎的宿主。
// 职责：
// 1. 实现 tour.Viewer / MarkerPlugin / ModalHost / URLSync / CustomDispatcher 与 guide.Host，
//    把引擎调用翻译成带序号的 ServerMessage
// 2. 读循环：set_panorama 的确认直接唤醒等待方，其余输入交给 EventQueue 串行处理
// 3. 心跳与关闭
type ClientGateway struct {
	sessionID string

	conn     *websocket.Conn
	connLock sync.Mutex
	closed   bool

	queue *EventQueue

	closeOnce sync.Once
	closeChan chan struct{}
	wg        sync.WaitGroup

	seqCounter int64
	seqLock    sync.Mutex

	pendingLock sync.Mutex
	pending     map[string]chan error

	handlers map[string]bool
	config   Config
	logger   *zap.Logger
}

// NewClientGateway 创建网关，Start 之前不会读写连接。
func NewClientGateway(sessionID string, conn *websocket.Conn, config Config, logger *zap.Logger) *ClientGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.PingInterval <= 0 {
		config.PingInterval = 30 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.SwapTimeout <= 0 {
		config.SwapTimeout = 30 * time.Second
	}
	handlers := make(map[string]bool, len(config.CustomHandlers))
	for _, h := range config.CustomHandlers {
		handlers[h] = true
	}

	return &ClientGateway{
		sessionID: sessionID,
		conn:      conn,
		closeChan: make(chan struct{}),
		pending:   make(map[string]chan error),
		handlers:  handlers,
		config:    config,
		logger:    logger.Named("gateway").With(zap.String("session", sessionID)),
	}
}

// SetQueue 设置输入队列，必须在 Start 之前调用。
func (g *ClientGateway) SetQueue(q *EventQueue) {
	g.queue = q
}

// Start 启动读循环与心跳。
func (g *ClientGateway) Start() {
	g.wg.Add(2)
	go g.readLoop()
	go g.pingLoop()
	g.logger.Info("gateway started")
}

// Done 在连接关闭后关闭。
func (g *ClientGateway) Done() <-chan struct{} {
	return g.closeChan
}

// Wait 等待读循环与心跳退出。
func (g *ClientGateway) Wait() {
	g.wg.Wait()
}

func (g *ClientGateway) readLoop() {
	defer g.wg.Done()
	defer g.Close()

	for {
		messageType, data, err := g.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				select {
				case <-g.closeChan:
				default:
					g.logger.Warn("client read error", zap.Error(err))
				}
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if err := g.handleClientMessage(data); err != nil {
			g.logger.Warn("handle client message", zap.Error(err))
			// 只回报错误，不断开连接
			g.SendError(err.Error())
		}
	}
}

func (g *ClientGateway) handleClientMessage(data []byte) error {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("unmarshal client message: %w", err)
	}
	if msg.ClientTS.IsZero() {
		msg.ClientTS = time.Now()
	}

	switch msg.Type {
	case MsgPanoramaLoaded:
		g.resolvePending(msg.RequestID, nil)
		return nil
	case MsgPanoramaFailed:
		reason := msg.Error
		if reason == "" {
			reason = "panorama failed to load"
		}
		g.resolvePending(msg.RequestID, errors.New(reason))
		return nil
	case "":
		return errors.New("message type is required")
	}

	if g.queue == nil {
		g.logger.Debug("no queue set, dropping message", zap.String("type", string(msg.Type)))
		return nil
	}
	if err := g.queue.Enqueue(&msg); err != nil {
		return fmt.Errorf("enqueue %s: %w", msg.Type, err)
	}
	return nil
}

func (g *ClientGateway) resolvePending(requestID string, result error) {
	g.pendingLock.Lock()
	ch, ok := g.pending[requestID]
	delete(g.pending, requestID)
	g.pendingLock.Unlock()
	if !ok {
		g.logger.Debug("ack for unknown panorama request", zap.String("request_id", requestID))
		return
	}
	ch <- result
}

// Open 实现 tour.Viewer：浏览器用初始全景构造渲染器，不播放过渡。
func (g *ClientGateway) Open(_ context.Context, panoramaURL string) error {
	return g.send(&ServerMessage{Type: MsgInitPanorama, URL: panoramaURL})
}

// SetPanorama 实现 tour.Viewer：发送切换指令并等待浏览器确认。
func (g *ClientGateway) SetPanorama(ctx context.Context, panoramaURL string, opts tour.PanoramaOptions) error {
	requestID := uuid.NewString()
	ch := make(chan error, 1)

	g.pendingLock.Lock()
	g.pending[requestID] = ch
	g.pendingLock.Unlock()
	defer func() {
		g.pendingLock.Lock()
		delete(g.pending, requestID)
		g.pendingLock.Unlock()
	}()

	if err := g.send(&ServerMessage{Type: MsgSetPanorama, RequestID: requestID, URL: panoramaURL, Options: &opts}); err != nil {
		return err
	}

	timer := time.NewTimer(g.config.SwapTimeout)
	defer timer.Stop()
	select {
	case err := <-ch:
		return err
	case <-timer.C:
		return fmt.Errorf("panorama swap not acknowledged within %s", g.config.SwapTimeout)
	case <-ctx.Done():
		return ctx.Err()
	case <-g.closeChan:
		return ErrClosed
	}
}

func (g *ClientGateway) Rotate(o geom.Orientation) {
	g.sendQuiet(&ServerMessage{Type: MsgRotate, Position: &o})
}

func (g *ClientGateway) Zoom(level float64) {
	g.sendQuiet(&ServerMessage{Type: MsgZoom, Zoom: &level})
}

func (g *ClientGateway) AddMarker(spec tour.MarkerSpec) {
	g.sendQuiet(&ServerMessage{Type: MsgAddMarker, Marker: &spec})
}

func (g *ClientGateway) ClearMarkers() {
	g.sendQuiet(&ServerMessage{Type: MsgClearMarkers})
}

func (g *ClientGateway) OpenModal(kind, actionID string) {
	g.sendQuiet(&ServerMessage{Type: MsgOpenModal, ModalKind: kind, ActionID: actionID})
}

func (g *ClientGateway) Alert(title, text string) {
	g.sendQuiet(&ServerMessage{Type: MsgAlert, Title: title, Text: text})
}

func (g *ClientGateway) NoScene() {
	g.sendQuiet(&ServerMessage{Type: MsgNoScene})
}

// Dispatch 实现 tour.CustomDispatcher：只转发浏览器端注册过的处理器。
func (g *ClientGateway) Dispatch(handler string, spot model.InfoSpot) bool {
	if !g.handlers[handler] {
		return false
	}
	g.sendQuiet(&ServerMessage{Type: MsgCustomAction, Handler: handler, Spot: &spot})
	return true
}

// ReplaceScene 实现 tour.URLSync，浏览器端用 history.replaceState 写回。
func (g *ClientGateway) ReplaceScene(sceneID string) error {
	return g.send(&ServerMessage{Type: MsgURLReplace, Scene: sceneID})
}

func (g *ClientGateway) ShowGuideStep(step guide.Step, index, total int) {
	g.sendQuiet(&ServerMessage{Type: MsgGuideStep, Guide: &step, GuideIndex: index, GuideTotal: total})
}

func (g *ClientGateway) GuideDone(skipped bool) {
	g.sendQuiet(&ServerMessage{Type: MsgGuideDone, Skipped: skipped})
}

// SendState 推送引擎状态快照。
func (g *ClientGateway) SendState(s tour.State) error {
	return g.send(&ServerMessage{Type: MsgState, State: &s, Scene: s.Current})
}

// SendError 发送错误消息给客户端
func (g *ClientGateway) SendError(errMsg string) error {
	return g.send(&ServerMessage{Type: MsgError, Error: errMsg})
}

func (g *ClientGateway) sendQuiet(msg *ServerMessage) {
	if err := g.send(msg); err != nil && !errors.Is(err, ErrClosed) {
		g.logger.Warn("send to client failed", zap.String("type", string(msg.Type)), zap.Error(err))
	}
}

// send 分配序号后写入连接；写锁保证序号顺序与线上顺序一致。
func (g *ClientGateway) send(msg *ServerMessage) error {
	if msg.ServerTS.IsZero() {
		msg.ServerTS = time.Now()
	}

	g.connLock.Lock()
	defer g.connLock.Unlock()
	if g.closed {
		return ErrClosed
	}

	g.seqLock.Lock()
	g.seqCounter++
	msg.Seq = g.seqCounter
	g.seqLock.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal server message: %w", err)
	}
	g.conn.SetWriteDeadline(time.Now().Add(g.config.WriteTimeout))
	if err := g.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write to client: %w", err)
	}
	return nil
}

// pingLoop 定期发送ping保持连接
func (g *ClientGateway) pingLoop() {
	defer g.wg.Done()
	ticker := time.NewTicker(g.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.closeChan:
			return
		case <-ticker.C:
			g.connLock.Lock()
			if !g.closed {
				if err := g.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					g.logger.Debug("ping failed", zap.Error(err))
				}
			}
			g.connLock.Unlock()
		}
	}
}

// Close 关闭网关：唤醒所有等待确认的切换，并关闭连接。
func (g *ClientGateway) Close() error {
	var closeErr error
	g.closeOnce.Do(func() {
		close(g.closeChan)

		g.connLock.Lock()
		g.closed = true
		g.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		closeErr = g.conn.Close()
		g.connLock.Unlock()
		g.logger.Info("gateway closed")
	})
	return closeErr
}
