package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrQueueClosed = errors.New("event queue closed")
	ErrQueueFull   = errors.New("event queue full")
)

// EventHandler 处理一条客户端消息。返回 error 表示处理失败，队列记录后继续运行。
type EventHandler func(ctx context.Context, msg *ClientMessage) error

// EventQueue 为单个导览会话提供串行事件处理（Actor Model）
// 解决问题：
// 1. 客户端输入按到达顺序作用到引擎，key_down/key_up 不会乱序
// 2. 读循环不被慢处理阻塞，全景切换确认总能及时送达
type EventQueue struct {
	sessionID    string
	eventHandler EventHandler
	eventChan    chan *queuedEvent
	timeout      time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	logger       *zap.Logger

	// 统计信息
	mu              sync.Mutex
	totalEvents     int64
	processedEvents int64
	failedEvents    int64
	droppedEvents   int64
}

type queuedEvent struct {
	msg       *ClientMessage
	timestamp time.Time
}

// QueueOptions 队列参数，零值使用默认值。
type QueueOptions struct {
	// Capacity 超过此值的事件将被丢弃（背压控制）
	Capacity int
	// Timeout 单个事件的处理上限
	Timeout time.Duration
}

const (
	defaultQueueCapacity = 100
	defaultEventTimeout  = 10 * time.Second
	slowEventThreshold   = 2 * time.Second
)

// QueueStats 是队列的统计快照。
type QueueStats struct {
	SessionID       string `json:"session_id"`
	TotalEvents     int64  `json:"total_events"`
	ProcessedEvents int64  `json:"processed_events"`
	FailedEvents    int64  `json:"failed_events"`
	DroppedEvents   int64  `json:"dropped_events"`
	PendingEvents   int    `json:"pending_events"`
	QueueCapacity   int    `json:"queue_capacity"`
}

// NewEventQueue 创建事件队列并启动处理协程
func NewEventQueue(sessionID string, handler EventHandler, opts QueueOptions, logger *zap.Logger) *EventQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Capacity <= 0 {
		opts.Capacity = defaultQueueCapacity
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultEventTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	eq := &EventQueue{
		sessionID:    sessionID,
		eventHandler: handler,
		eventChan:    make(chan *queuedEvent, opts.Capacity),
		timeout:      opts.Timeout,
		ctx:          ctx,
		cancel:       cancel,
		logger:       logger.Named("queue").With(zap.String("session", sessionID)),
	}

	eq.wg.Add(1)
	go eq.processLoop()
	return eq
}

// Enqueue 将事件加入队列（异步，非阻塞）
func (eq *EventQueue) Enqueue(msg *ClientMessage) error {
	select {
	case <-eq.ctx.Done():
		return ErrQueueClosed
	default:
	}

	event := &queuedEvent{msg: msg, timestamp: time.Now()}
	select {
	case eq.eventChan <- event:
		eq.mu.Lock()
		eq.totalEvents++
		eq.mu.Unlock()
		return nil
	default:
		eq.mu.Lock()
		eq.droppedEvents++
		eq.mu.Unlock()
		eq.logger.Warn("queue full, dropping event", zap.String("type", string(msg.Type)))
		return ErrQueueFull
	}
}

// processLoop 串行处理事件（单协程）
func (eq *EventQueue) processLoop() {
	defer eq.wg.Done()
	for {
		select {
		case <-eq.ctx.Done():
			return
		case event := <-eq.eventChan:
			eq.processEvent(event)
		}
	}
}

func (eq *EventQueue) processEvent(event *queuedEvent) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(eq.ctx, eq.timeout)
	defer cancel()

	err := eq.eventHandler(ctx, event.msg)
	elapsed := time.Since(start)

	eq.mu.Lock()
	eq.processedEvents++
	if err != nil {
		eq.failedEvents++
	}
	eq.mu.Unlock()

	if err != nil {
		eq.logger.Warn("event processing failed",
			zap.String("type", string(event.msg.Type)), zap.Error(err), zap.Duration("elapsed", elapsed))
	} else {
		eq.logger.Debug("event processed",
			zap.String("type", string(event.msg.Type)),
			zap.Duration("queue_latency", start.Sub(event.timestamp)),
			zap.Duration("elapsed", elapsed))
	}
	if elapsed > slowEventThreshold {
		eq.logger.Warn("slow event processing", zap.String("type", string(event.msg.Type)), zap.Duration("elapsed", elapsed))
	}
}

// Close 停止处理协程；尚未处理的事件被丢弃。
func (eq *EventQueue) Close() error {
	eq.cancel()
	eq.wg.Wait()

	stats := eq.Stats()
	eq.logger.Info("event queue closed",
		zap.Int64("total", stats.TotalEvents),
		zap.Int64("processed", stats.ProcessedEvents),
		zap.Int64("dropped", stats.DroppedEvents),
		zap.Int("pending", stats.PendingEvents))
	return nil
}

// Stats 获取队列统计信息
func (eq *EventQueue) Stats() QueueStats {
	eq.mu.Lock()
	defer eq.mu.Unlock()
	return QueueStats{
		SessionID:       eq.sessionID,
		TotalEvents:     eq.totalEvents,
		ProcessedEvents: eq.processedEvents,
		FailedEvents:    eq.failedEvents,
		DroppedEvents:   eq.droppedEvents,
		PendingEvents:   len(eq.eventChan),
		QueueCapacity:   cap(eq.eventChan),
	}
}
