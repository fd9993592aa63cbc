package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/orchestra/agent/collaboration"
	"github.com/BaSui01/orchestra/agent/persistence"
	"github.com/BaSui01/orchestra/api"
	"github.com/BaSui01/orchestra/types"
)

const (
	// streamBuffer 每个 WebSocket 连接的待发送消息上限，超出后丢弃
	streamBuffer = 64
	// streamWriteTimeout 单条消息写超时
	streamWriteTimeout = 5 * time.Second
)

// MessageHandler 总线消息发布与 WebSocket 推送
type MessageHandler struct {
	bus            *collaboration.Bus
	archive        persistence.MessageStore
	logger         *zap.Logger
	baseCtx        context.Context
	originPatterns []string
}

// NewMessageHandler 创建消息处理器。originPatterns 为允许的跨域 WebSocket 来源。
func NewMessageHandler(baseCtx context.Context, bus *collaboration.Bus, logger *zap.Logger, originPatterns []string) *MessageHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &MessageHandler{
		bus:            bus,
		logger:         logger.With(zap.String("component", "message_handler")),
		baseCtx:        baseCtx,
		originPatterns: originPatterns,
	}
}

// WithArchive 启用归档查询端点；store 为 nil 时端点返回 501
func (h *MessageHandler) WithArchive(store persistence.MessageStore) *MessageHandler {
	h.archive = store
	return h
}

// Register 挂载路由
func (h *MessageHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/messages", h.HandlePublish)
	mux.HandleFunc("GET /api/v1/messages", h.HandleList)
	mux.HandleFunc("GET /api/v1/messages/{id}", h.HandleGet)
	mux.HandleFunc("GET /ws/messages", h.HandleStream)
}

func (h *MessageHandler) requireArchive(w http.ResponseWriter) bool {
	if h.archive == nil {
		WriteErrorMessage(w, http.StatusNotImplemented, types.ErrNotConfigured, "message archive is disabled", h.logger)
		return false
	}
	return true
}

// HandleList 按接收者列出归档消息（?to= 必填，?limit= 默认 100），先到先出
func (h *MessageHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if !h.requireArchive(w) {
		return
	}
	to := r.URL.Query().Get("to")
	if to == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "to is required", h.logger)
		return
	}
	limit, ok := QueryLimit(w, r, h.logger)
	if !ok {
		return
	}

	msgs, err := h.archive.ListMessages(r.Context(), to, limit)
	if err != nil {
		WriteRuntimeError(w, err, h.logger)
		return
	}
	WriteSuccess(w, msgs)
}

// HandleGet 按 ID 返回归档消息
func (h *MessageHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	if !h.requireArchive(w) {
		return
	}
	id := r.PathValue("id")
	msg, err := h.archive.GetMessage(r.Context(), id)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			WriteErrorMessage(w, http.StatusNotFound, types.ErrMessageNotFound, "message not found: "+id, h.logger)
			return
		}
		WriteRuntimeError(w, err, h.logger)
		return
	}
	WriteSuccess(w, msg)
}

// HandlePublish 发布一条消息，入队成功即返回 202
func (h *MessageHandler) HandlePublish(w http.ResponseWriter, r *http.Request) {
	var req api.PublishMessageRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.To == "" || req.Type == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "to and type are required", h.logger)
		return
	}
	from := req.From
	if from == "" {
		from = "api"
	}

	msg := collaboration.NewMessage(from, req.To, collaboration.MessageType(req.Type), req.Payload)
	msg.Priority = req.Priority
	msg.CorrelationID = req.CorrelationID

	if err := h.bus.Publish(r.Context(), msg); err != nil {
		WriteRuntimeError(w, err, h.logger)
		return
	}
	WriteStatus(w, http.StatusAccepted, api.PublishMessageResponse{MessageID: msg.ID})
}

// HandleStream 将发往 ?key= 的消息（默认 "*"，即广播）以 JSON 文本帧推送给客户端。
// 总线分发是同步的，慢客户端的积压消息会被丢弃而不是阻塞总线。
func (h *MessageHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		key = "*"
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ch := make(chan collaboration.Message, streamBuffer)
	var dropped atomic.Int64
	subID, err := h.bus.Subscribe(key, func(msg collaboration.Message) {
		select {
		case ch <- msg:
		default:
			dropped.Add(1)
		}
	})
	if err != nil {
		conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer h.bus.Unsubscribe(subID)

	h.logger.Debug("message stream opened", zap.String("key", key), zap.String("remote_addr", r.RemoteAddr))
	defer func() {
		h.logger.Debug("message stream closed", zap.String("key", key), zap.Int64("dropped", dropped.Load()))
	}()

	// 客户端只读；CloseRead 在对端关闭时取消 ctx
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.baseCtx.Done():
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case msg := <-ch:
			data, err := json.Marshal(msg)
			if err != nil {
				h.logger.Warn("failed to encode message", zap.String("message_id", msg.ID), zap.Error(err))
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
			err = conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
