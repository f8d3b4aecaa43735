package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/tensorgate/relaypool/scheduler"
)

// SchedulerHandler 处理账户选择请求
type SchedulerHandler struct {
	service *scheduler.Service
	logger  *zap.Logger
}

// NewSchedulerHandler 创建 SchedulerHandler
func NewSchedulerHandler(service *scheduler.Service, logger *zap.Logger) *SchedulerHandler {
	return &SchedulerHandler{service: service, logger: logger}
}

// HandleSelect 为一次中继请求选择上游账户
// @Summary 选择上游账户
// @Description 按绑定类型、会话亲和与分组策略为本次请求挑选一个可用账户
// @Tags 调度
// @Accept json
// @Produce json
// @Param request body scheduler.RequestContext true "选择请求"
// @Success 200 {object} Response{data=scheduler.Selection} "选择结果"
// @Failure 400 {object} Response "请求无效"
// @Failure 404 {object} Response "分组不存在"
// @Failure 409 {object} Response "专属账户不可用"
// @Failure 422 {object} Response "平台或模型不匹配"
// @Failure 503 {object} Response "无可用账户或存储故障"
// @Router /api/v1/scheduler/select [post]
func (h *SchedulerHandler) HandleSelect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, scheduler.CodeInvalidRequest, "method not allowed", h.logger)
		return
	}

	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req scheduler.RequestContext
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	sel, err := h.service.Select(r.Context(), req)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	h.logger.Debug("account selected",
		zap.String("account_id", sel.AccountID),
		zap.String("platform", string(sel.Platform)),
		zap.String("strategy", string(sel.Strategy)),
		zap.Bool("sticky_hit", sel.StickyHit),
	)

	WriteSuccess(w, sel)
}
