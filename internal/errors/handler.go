package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/reporthub/backend-go/internal/interfaces"
)

// ErrorHandler 错误处理器
type ErrorHandler struct {
	logger  interfaces.LoggerInterface
	monitor *ErrorMonitor
}

// NewErrorHandler 创建错误处理器
func NewErrorHandler(logger interfaces.LoggerInterface) *ErrorHandler {
	return &ErrorHandler{
		logger:  logger,
		monitor: NewErrorMonitor(),
	}
}

// SetMonitor 设置错误监控器
func (h *ErrorHandler) SetMonitor(monitor *ErrorMonitor) {
	h.monitor = monitor
}

// Handle 处理错误并转换为HTTP响应
func (h *ErrorHandler) Handle(w http.ResponseWriter, r *http.Request, err error) {
	start := time.Now()
	appErr := GetAppError(err)

	if h.monitor != nil {
		h.monitor.RecordError(r.Context(), appErr, r.URL.Path, time.Since(start))
	}

	h.logError(r.Context(), appErr, r)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.HTTPCode)

	response := map[string]interface{}{
		"success": false,
		"error": map[string]interface{}{
			"code":    string(appErr.Code),
			"message": appErr.Message,
			"type":    getErrorTypeString(appErr.Type),
		},
	}

	if appErr.RequestID != "" {
		response["request_id"] = appErr.RequestID
	}

	// 仅对验证/业务错误暴露详情，系统和外部错误不外泄内部信息
	if appErr.Details != nil && shouldIncludeDetails(appErr) {
		response["error"].(map[string]interface{})["details"] = appErr.Details
	}

	jsonResponse, jsonErr := json.Marshal(response)
	if jsonErr != nil {
		h.logger.Error("Failed to marshal error response", "error", jsonErr)
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, `{"success": false, "error": {"code": "INTERNAL_SERVER_ERROR", "message": "Failed to process error response"}}`)
		return
	}

	w.Write(jsonResponse)
}

// HandlePanic 处理panic并转换为错误响应
func (h *ErrorHandler) HandlePanic(w http.ResponseWriter, r *http.Request, recovered interface{}) {
	err := fmt.Errorf("panic recovered: %v", recovered)
	appErr := NewSystemError(ErrCodeInternalServer, "Internal server error").WithCause(err)

	h.logger.Error("Panic recovered", "error", err, "path", r.URL.Path)

	h.Handle(w, r, appErr)
}

// Middleware 创建错误处理中间件
func (h *ErrorHandler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				h.HandlePanic(w, r, recovered)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// logError 记录错误日志
func (h *ErrorHandler) logError(ctx context.Context, appErr *AppError, r *http.Request) {
	fields := map[string]interface{}{
		"error_code":  string(appErr.Code),
		"error_type":  getErrorTypeString(appErr.Type),
		"http_code":   appErr.HTTPCode,
		"method":      r.Method,
		"path":        r.URL.Path,
		"remote_addr": getClientIP(r),
	}

	if appErr.RequestID != "" {
		fields["request_id"] = appErr.RequestID
	}

	if appErr.Cause != nil {
		fields["cause"] = appErr.Cause.Error()
	}

	// 根据错误类型选择日志级别
	switch appErr.Type {
	case ErrorTypeSystem:
		h.logger.WithError(appErr).Error("System error occurred", fields)
	case ErrorTypeBusiness:
		h.logger.WithError(appErr).Warn("Business error occurred", fields)
	case ErrorTypeValidation:
		h.logger.WithError(appErr).Info("Validation error occurred", fields)
	case ErrorTypeExternal:
		h.logger.WithError(appErr).Warn("External service error occurred", fields)
	default:
		h.logger.WithError(appErr).Error("Unknown error type occurred", fields)
	}
}

// getErrorTypeString 获取错误类型字符串
func getErrorTypeString(errorType ErrorType) string {
	switch errorType {
	case ErrorTypeSystem:
		return "system"
	case ErrorTypeBusiness:
		return "business"
	case ErrorTypeValidation:
		return "validation"
	case ErrorTypeExternal:
		return "external"
	default:
		return "unknown"
	}
}

// shouldIncludeDetails 判断是否应该包含错误详情
func shouldIncludeDetails(appErr *AppError) bool {
	switch appErr.Type {
	case ErrorTypeValidation, ErrorTypeBusiness:
		return true
	default:
		return false
	}
}

// getClientIP 获取客户端IP地址
func getClientIP(r *http.Request) string {
	// X-Forwarded-For可能包含多个IP，取第一个
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	return strings.Split(r.RemoteAddr, ":")[0]
}
