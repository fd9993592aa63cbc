package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/orchestra/api"
)

// statsTimeout 收集统计的总超时
const statsTimeout = 5 * time.Second

// StatsSource 提供运行时统计快照，orchestra.Runtime 实现该接口
type StatsSource interface {
	Stats(ctx context.Context) *api.RuntimeStats
}

// StatsHandler 运行时统计端点
type StatsHandler struct {
	source StatsSource
	logger *zap.Logger
}

// NewStatsHandler 创建统计处理器
func NewStatsHandler(source StatsSource, logger *zap.Logger) *StatsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatsHandler{source: source, logger: logger}
}

// Register 挂载路由
func (h *StatsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/stats", h.HandleStats)
}

// HandleStats 返回注册表、总线、引擎、消息归档与缓存的统计
func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), statsTimeout)
	defer cancel()

	stats := h.source.Stats(ctx)
	if stats.Archive != nil && stats.Archive.Error != "" {
		h.logger.Warn("message archive stats unavailable", zap.String("error", stats.Archive.Error))
	}
	if stats.Cache != nil && stats.Cache.Error != "" {
		h.logger.Warn("cache stats unavailable", zap.String("error", stats.Cache.Error))
	}
	WriteSuccess(w, stats)
}
