package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/tensorgate/relaypool/internal/database"
	"github.com/tensorgate/relaypool/internal/metrics"
	"github.com/tensorgate/relaypool/scheduler"
)

// StatsHandler 暴露调度与连接池的运行统计
type StatsHandler struct {
	service   *scheduler.Service
	pool      *database.PoolManager
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewStatsHandler 创建 StatsHandler。pool 与 collector 允许为 nil，
// 对应部分会从响应中省略。
func NewStatsHandler(service *scheduler.Service, pool *database.PoolManager, collector *metrics.Collector, logger *zap.Logger) *StatsHandler {
	return &StatsHandler{service: service, pool: pool, collector: collector, logger: logger}
}

// statsResponse 统计响应
type statsResponse struct {
	Scheduler scheduler.SelectionStats `json:"scheduler"`
	Database  *database.PoolStats      `json:"database,omitempty"`
}

// HandleStats 返回进程内调度计数与数据库连接池状态
// @Summary 调度统计
// @Description 返回自进程启动以来的选择计数（按策略细分）与连接池快照
// @Tags 调度
// @Produce json
// @Success 200 {object} Response{data=statsResponse} "统计信息"
// @Router /api/v1/scheduler/stats [get]
func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, scheduler.CodeInvalidRequest, "method not allowed", h.logger)
		return
	}

	resp := statsResponse{
		Scheduler: h.service.Stats(),
	}

	if h.pool != nil {
		st := h.pool.GetStats()
		resp.Database = &st

		// 顺带刷新连接池 gauge，统计接口本身就是采样点
		if h.collector != nil {
			h.collector.RecordDBConnections("primary", st.OpenConnections, st.Idle)
		}
	}

	WriteSuccess(w, resp)
}
