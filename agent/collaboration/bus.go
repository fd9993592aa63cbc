package collaboration

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/orchestra/agent/persistence"
)

var (
	// ErrBusStopped 总线已停止
	ErrBusStopped = errors.New("bus stopped")

	// ErrNilHandler 处理器为空
	ErrNilHandler = errors.New("handler is nil")
)

// DefaultBufferSize 默认队列容量
const DefaultBufferSize = 256

// Handler 消息处理器
type Handler func(Message)

// Archive 可选的消息归档（只写审计）
type Archive interface {
	SaveMessage(ctx context.Context, msg *persistence.Message) error
}

// Observer 接收总线运行事件（指标采集用）
type Observer interface {
	ObserveDispatch(msg Message, handlers int)
	ObserveHandlerPanic(msg Message)
	ObserveDropped(n int)
}

// BusConfig 总线配置
type BusConfig struct {
	// BufferSize 队列容量，满时 Publish 阻塞
	BufferSize int `json:"buffer_size" yaml:"buffer_size"`

	// ArchiveTimeout 单条归档写入超时
	ArchiveTimeout time.Duration `json:"archive_timeout" yaml:"archive_timeout"`
}

// DefaultBusConfig 返回默认配置
func DefaultBusConfig() BusConfig {
	return BusConfig{
		BufferSize:     DefaultBufferSize,
		ArchiveTimeout: 2 * time.Second,
	}
}

// BusOption 配置 Bus
type BusOption func(*Bus)

// WithArchive 设置消息归档
func WithArchive(a Archive) BusOption {
	return func(b *Bus) { b.archive = a }
}

// WithObserver 设置运行事件观察者
func WithObserver(o Observer) BusOption {
	return func(b *Bus) { b.observer = o }
}

type subscription struct {
	id      string
	key     string
	handler Handler
}

// Bus 进程内发布/订阅总线
type Bus struct {
	config   BusConfig
	logger   *zap.Logger
	archive  Archive
	observer Observer

	mu       sync.RWMutex
	handlers map[string]map[string]subscription // key -> id -> subscription
	subSeq   atomic.Int64

	queue  chan Message
	done   chan struct{} // 关闭后拒绝新消息，分发循环退出
	exited chan struct{}

	stateMu  sync.Mutex
	started  bool
	stopped  bool
	stopOnce sync.Once
}

// NewBus 创建总线，需调用 Start 启动分发
func NewBus(config BusConfig, logger *zap.Logger, opts ...BusOption) *Bus {
	defaults := DefaultBusConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.ArchiveTimeout <= 0 {
		config.ArchiveTimeout = defaults.ArchiveTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Bus{
		config:   config,
		logger:   logger.With(zap.String("component", "message_bus")),
		handlers: make(map[string]map[string]subscription),
		queue:    make(chan Message, config.BufferSize),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start 启动分发 goroutine，重复调用无副作用
func (b *Bus) Start() {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()

	if b.started || b.stopped {
		return
	}
	b.started = true
	go b.dispatchLoop()
	b.logger.Info("message bus started", zap.Int("buffer_size", b.config.BufferSize))
}

// Stop 等待正在处理的消息完成后退出；队列中剩余消息被丢弃
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		b.stateMu.Lock()
		b.stopped = true
		started := b.started
		b.stateMu.Unlock()

		close(b.done)
		if started {
			<-b.exited
		}

		if n := b.drain(); n > 0 {
			b.logger.Warn("dropped undelivered messages on stop", zap.Int("count", n))
			if b.observer != nil {
				b.observer.ObserveDropped(n)
			}
		}
		b.logger.Info("message bus stopped")
	})
}

// Publish 将消息加入有序队列。仅在队列满时阻塞，并响应 ctx 取消。
func (b *Bus) Publish(ctx context.Context, msg Message) error {
	select {
	case <-b.done:
		return ErrBusStopped
	default:
	}

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.Payload = maps.Clone(msg.Payload)

	select {
	case b.queue <- msg:
		return nil
	case <-b.done:
		return ErrBusStopped
	case <-ctx.Done():
		return fmt.Errorf("publish message %s: %w", msg.ID, ctx.Err())
	}
}

// Subscribe 注册处理器：接收 To 等于 key 的消息以及广播消息
func (b *Bus) Subscribe(key string, handler Handler) (string, error) {
	if handler == nil {
		return "", ErrNilHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[key] == nil {
		b.handlers[key] = make(map[string]subscription)
	}
	id := fmt.Sprintf("%s-%d", key, b.subSeq.Add(1))
	b.handlers[key][id] = subscription{id: id, key: key, handler: handler}
	return id, nil
}

// Unsubscribe 取消订阅
func (b *Bus) Unsubscribe(subscriptionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, subs := range b.handlers {
		if _, ok := subs[subscriptionID]; ok {
			delete(subs, subscriptionID)
			if len(subs) == 0 {
				delete(b.handlers, key)
			}
			return
		}
	}
}

// Running reports whether the bus has been started and not yet stopped.
func (b *Bus) Running() bool {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return b.started && !b.stopped
}

// Pending 队列中等待分发的消息数
func (b *Bus) Pending() int {
	return len(b.queue)
}

// dispatchLoop 单 goroutine 按发布顺序处理消息
func (b *Bus) dispatchLoop() {
	defer close(b.exited)

	for {
		// 停止后不再处理积压消息
		select {
		case <-b.done:
			return
		default:
		}

		select {
		case msg := <-b.queue:
			b.dispatch(msg)
		case <-b.done:
			return
		}
	}
}

// dispatch 先归档，再依次调用匹配的处理器
func (b *Bus) dispatch(msg Message) {
	if b.archive != nil {
		ctx, cancel := context.WithTimeout(context.Background(), b.config.ArchiveTimeout)
		if err := b.archive.SaveMessage(ctx, msg.ToRecord()); err != nil {
			b.logger.Warn("failed to archive message", zap.String("message_id", msg.ID), zap.Error(err))
		}
		cancel()
	}

	subs := b.matching(msg)
	if b.observer != nil {
		b.observer.ObserveDispatch(msg, len(subs))
	}
	if len(subs) == 0 {
		b.logger.Debug("no subscriber for message",
			zap.String("message_id", msg.ID),
			zap.String("to", msg.To),
		)
		return
	}

	for _, sub := range subs {
		b.invoke(sub, msg)
	}
}

// matching 返回匹配消息的订阅快照。
// 点对点消息只投递给该键的订阅者；广播消息投递给所有订阅者。
func (b *Bus) matching(msg Message) []subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var subs []subscription
	if msg.To != Broadcast {
		for _, s := range b.handlers[msg.To] {
			subs = append(subs, s)
		}
		return subs
	}

	for _, set := range b.handlers {
		for _, s := range set {
			subs = append(subs, s)
		}
	}
	return subs
}

func (b *Bus) invoke(sub subscription, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("message handler panicked",
				zap.String("subscription", sub.id),
				zap.String("message_id", msg.ID),
				zap.Any("recover", r),
			)
			if b.observer != nil {
				b.observer.ObserveHandlerPanic(msg)
			}
		}
	}()
	sub.handler(msg)
}

// drain 清空队列并返回丢弃数量
func (b *Bus) drain() int {
	n := 0
	for {
		select {
		case <-b.queue:
			n++
		default:
			return n
		}
	}
}
