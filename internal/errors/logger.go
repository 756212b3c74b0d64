package errors

import (
	"context"
	"runtime"
	"time"

	"github.com/reporthub/backend-go/internal/interfaces"
)

// ErrorLogger 错误日志器
type ErrorLogger struct {
	logger interfaces.LoggerInterface
}

// NewErrorLogger 创建错误日志器
func NewErrorLogger(logger interfaces.LoggerInterface) *ErrorLogger {
	return &ErrorLogger{
		logger: logger,
	}
}

// LogError 记录错误
func (el *ErrorLogger) LogError(ctx context.Context, err error, fields map[string]interface{}) {
	if err == nil {
		return
	}

	appErr := GetAppError(err)

	logFields := map[string]interface{}{
		"error_code":    string(appErr.Code),
		"error_type":    getErrorTypeString(appErr.Type),
		"error_message": appErr.Message,
		"timestamp":     time.Now().Format(time.RFC3339),
	}

	if appErr.RequestID != "" {
		logFields["request_id"] = appErr.RequestID
	}

	for k, v := range fields {
		logFields[k] = v
	}

	// 仅系统错误附带堆栈
	if appErr.Type == ErrorTypeSystem {
		logFields["stack_trace"] = el.getStackTrace()
	}

	if appErr.Cause != nil {
		logFields["cause"] = appErr.Cause.Error()
	}

	switch appErr.Type {
	case ErrorTypeSystem:
		el.logger.Error("System error", logFields)
	case ErrorTypeBusiness:
		el.logger.Warn("Business error", logFields)
	case ErrorTypeValidation:
		el.logger.Info("Validation error", logFields)
	case ErrorTypeExternal:
		el.logger.Warn("External service error", logFields)
	default:
		el.logger.Error("Unknown error type", logFields)
	}
}

// LogOrphanedPoint 记录孤儿向量点
// 向量点已写入索引但映射行未落库；点会留在索引里直到对账任务处理，
// 这里必须把point_id和report_id都留痕，否则孤儿无从追查
func (el *ErrorLogger) LogOrphanedPoint(ctx context.Context, pointID string, reportID uint, chunkIndex int, cause error) {
	logFields := map[string]interface{}{
		"point_id":    pointID,
		"report_id":   reportID,
		"chunk_index": chunkIndex,
		"timestamp":   time.Now().Format(time.RFC3339),
	}
	if cause != nil {
		logFields["cause"] = cause.Error()
	}

	el.logger.Error("ORPHANED VECTOR POINT: mapping row failed after successful index upsert", logFields)
}

// LogRecover 记录panic恢复
func (el *ErrorLogger) LogRecover(ctx context.Context, recovered interface{}, stackTrace string) {
	logFields := map[string]interface{}{
		"panic_value": recovered,
		"stack_trace": stackTrace,
		"timestamp":   time.Now().Format(time.RFC3339),
	}

	el.logger.Error("Panic recovered", logFields)
}

// LogExternalServiceError 记录外部服务错误
func (el *ErrorLogger) LogExternalServiceError(ctx context.Context, service, operation string, err error, details map[string]interface{}) {
	appErr := GetAppError(err)

	logFields := map[string]interface{}{
		"service":    service,
		"operation":  operation,
		"error_code": string(appErr.Code),
		"timestamp":  time.Now().Format(time.RFC3339),
	}

	for k, v := range details {
		logFields[k] = v
	}

	el.logger.Warn("External service error", logFields)
}

// getStackTrace 获取当前堆栈
func (el *ErrorLogger) getStackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}
