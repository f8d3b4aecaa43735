package handlers

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tensorgate/relaypool/scheduler"
)

// maxBodyBytes 限制请求体大小，防止恶意的超大 JSON
const maxBodyBytes = 1 << 20 // 1 MB

// =============================================================================
// 📦 响应信封
// =============================================================================

// Response 所有端点共用的响应信封
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo 错误明细，调度错误会带上账户与平台上下文
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	AccountID string `json:"account_id,omitempty"`
	Platform  string `json:"platform,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// =============================================================================
// 🎯 编码出口
// =============================================================================

// WriteJSON 序列化 data 并写出指定状态码
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// 响应头已发出，编码失败时无法再补救
		return
	}
}

// WriteSuccess 以 200 包裹成功数据
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// codeInternalError 非调度错误的兜底错误码
const codeInternalError = "INTERNAL_ERROR"

// WriteError 写入错误响应。调度错误按错误码映射 HTTP 状态，
// 其余错误一律按内部错误处理。
func WriteError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var schedErr *scheduler.Error
	if !errors.As(err, &schedErr) {
		if logger != nil {
			logger.Error("request failed",
				zap.String("code", codeInternalError),
				zap.Int("status", http.StatusInternalServerError),
				zap.Error(err),
			)
		}
		WriteJSON(w, http.StatusInternalServerError, Response{
			Success:   false,
			Error:     &ErrorInfo{Code: codeInternalError, Message: "internal error"},
			Timestamp: time.Now(),
		})
		return
	}

	status := mapErrorCodeToHTTPStatus(schedErr.Code)
	errorInfo := &ErrorInfo{
		Code:      string(schedErr.Code),
		Message:   schedErr.Message,
		AccountID: schedErr.AccountID,
		Platform:  string(schedErr.Platform),
		Retryable: isRetryable(schedErr.Code),
	}

	if logger != nil {
		logger.Error("request failed",
			zap.String("code", string(schedErr.Code)),
			zap.String("message", schedErr.Message),
			zap.Int("status", status),
			zap.Error(schedErr.Cause),
		)
	}

	WriteJSON(w, status, Response{
		Success:   false,
		Error:     errorInfo,
		Timestamp: time.Now(),
	})
}

// WriteErrorMessage 写入简单错误消息，状态码由调用方指定；传 0 则按错误码映射
func WriteErrorMessage(w http.ResponseWriter, status int, code scheduler.ErrorCode, message string, logger *zap.Logger) {
	if status == 0 {
		status = mapErrorCodeToHTTPStatus(code)
	}

	if logger != nil {
		logger.Error("request failed",
			zap.String("code", string(code)),
			zap.String("message", message),
			zap.Int("status", status),
		)
	}

	WriteJSON(w, status, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:      string(code),
			Message:   message,
			Retryable: isRetryable(code),
		},
		Timestamp: time.Now(),
	})
}

// =============================================================================
// 🔄 调度错误码与 HTTP 状态的对应
// =============================================================================

func mapErrorCodeToHTTPStatus(code scheduler.ErrorCode) int {
	switch code {
	// 请求方的问题
	case scheduler.CodeInvalidRequest:
		return http.StatusBadRequest
	case scheduler.CodeGroupNotFound:
		return http.StatusNotFound
	case scheduler.CodeDedicatedAccountUnavailable:
		return http.StatusConflict
	case scheduler.CodePlatformMismatch, scheduler.CodeModelNotSupported:
		return http.StatusUnprocessableEntity

	// 服务侧暂时不可用
	case scheduler.CodeNoAvailableAccounts, scheduler.CodeStoreUnavailable:
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// isRetryable 标记调用方稍后重试可能成功的错误。
// 池子耗尽会随限流窗口过期自愈，存储故障会随依赖恢复自愈。
func isRetryable(code scheduler.ErrorCode) bool {
	switch code {
	case scheduler.CodeNoAvailableAccounts, scheduler.CodeStoreUnavailable:
		return true
	default:
		return false
	}
}

// =============================================================================
// 🛡️ 请求体与头部校验
// =============================================================================

// DecodeJSONBody 解码 JSON 请求体（1 MB 限制 + 严格模式）
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) error {
	if r.Body == nil {
		err := scheduler.NewError(scheduler.CodeInvalidRequest, "request body is empty")
		WriteError(w, err, logger)
		return err
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields() // 未知字段按坏请求拒绝

	if err := decoder.Decode(dst); err != nil {
		apiErr := scheduler.NewError(scheduler.CodeInvalidRequest, "invalid JSON body").WithCause(err)
		WriteError(w, apiErr, logger)
		return apiErr
	}

	return nil
}

// ValidateContentType 验证 Content-Type 为 application/json（忽略 charset 参数）
func ValidateContentType(w http.ResponseWriter, r *http.Request, logger *zap.Logger) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		apiErr := scheduler.NewError(scheduler.CodeInvalidRequest, "Content-Type must be application/json")
		WriteError(w, apiErr, logger)
		return false
	}
	return true
}
