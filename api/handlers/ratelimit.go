package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/tensorgate/relaypool/internal/ctxkeys"
	"github.com/tensorgate/relaypool/scheduler"
)

// RateLimitHandler 处理中继侧的限流回调
type RateLimitHandler struct {
	service *scheduler.Service
	logger  *zap.Logger
}

// NewRateLimitHandler 创建 RateLimitHandler
func NewRateLimitHandler(service *scheduler.Service, logger *zap.Logger) *RateLimitHandler {
	return &RateLimitHandler{service: service, logger: logger}
}

// extractAccountID 从请求中提取账户 ID（Go 1.22+ PathValue 优先，回退到路径解析）
func extractAccountID(r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if id == "" {
		// 回退：从路径手动解析 /api/v1/accounts/{id}/rate-limit
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) < 5 {
			return "", false
		}
		id = parts[3]
	}
	if id == "" {
		return "", false
	}
	return id, true
}

// markRequest 限流标记回调的可选请求体
type markRequest struct {
	SessionHash string `json:"session_hash,omitempty"`
}

// HandleMark 标记账户进入限流窗口
// @Summary 标记账户限流
// @Description 中继收到上游 429 后回调此端点，账户在冷却窗口内退出调度；
// @Description 携带 session_hash 时同时解除该会话的亲和映射
// @Tags 限流
// @Accept json
// @Produce json
// @Param id path string true "账户 ID"
// @Param request body markRequest false "限流上下文"
// @Success 200 {object} Response "标记成功"
// @Failure 400 {object} Response "账户 ID 缺失"
// @Failure 503 {object} Response "存储故障"
// @Router /api/v1/accounts/{id}/rate-limit [post]
func (h *RateLimitHandler) HandleMark(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, scheduler.CodeInvalidRequest, "method not allowed", h.logger)
		return
	}

	accountID, ok := extractAccountID(r)
	if !ok {
		WriteErrorMessage(w, http.StatusBadRequest, scheduler.CodeInvalidRequest, "account ID is required", h.logger)
		return
	}

	// 请求体可选：只有携带会话标识时才需要解析
	var req markRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
			return
		}
	}

	if err := h.service.MarkRateLimited(r.Context(), accountID, req.SessionHash); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	h.logger.Info("account marked rate limited",
		zap.String("account_id", accountID),
		zap.Bool("session_cleared", req.SessionHash != ""),
	)

	WriteSuccess(w, map[string]string{
		"account_id": accountID,
		"status":     "rate_limited",
	})
}

// HandleClear 手动解除账户限流
// @Summary 解除账户限流
// @Description 运维人员确认上游恢复后手动解除限流，账户立即回到调度池
// @Tags 限流
// @Produce json
// @Param id path string true "账户 ID"
// @Success 200 {object} Response "解除成功"
// @Failure 400 {object} Response "账户 ID 缺失"
// @Failure 503 {object} Response "存储故障"
// @Router /api/v1/accounts/{id}/rate-limit [delete]
func (h *RateLimitHandler) HandleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, scheduler.CodeInvalidRequest, "method not allowed", h.logger)
		return
	}

	accountID, ok := extractAccountID(r)
	if !ok {
		WriteErrorMessage(w, http.StatusBadRequest, scheduler.CodeInvalidRequest, "account ID is required", h.logger)
		return
	}

	if err := h.service.ClearRateLimited(r.Context(), accountID); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	// 审计日志记录操作者（由 JWT 认证中间件注入）
	operator, _ := ctxkeys.Operator(r.Context())
	h.logger.Info("account rate limit cleared",
		zap.String("account_id", accountID),
		zap.String("operator", operator),
	)

	WriteSuccess(w, map[string]string{
		"account_id": accountID,
		"status":     "cleared",
	})
}
