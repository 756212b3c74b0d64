package errors

import (
	"database/sql"
	"errors"
	"net"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/golang-migrate/migrate/v4"
	"gorm.io/gorm"
)

// ErrorTranslator 错误转换器
type ErrorTranslator struct{}

// NewErrorTranslator 创建错误转换器
func NewErrorTranslator() *ErrorTranslator {
	return &ErrorTranslator{}
}

// Translate 将各种类型的错误转换为AppError
func (t *ErrorTranslator) Translate(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	switch e := err.(type) {
	case validator.ValidationErrors:
		return t.translateValidationErrors(e)
	case *net.OpError:
		return t.translateNetworkError(e)
	default:
		errMsg := err.Error()

		if t.isDatabaseError(err) {
			return t.translateDatabaseError(err)
		}

		if strings.Contains(errMsg, "no such file") || strings.Contains(errMsg, "permission denied") {
			return NewSystemError(ErrCodeInternalServer, "File system error").WithCause(err)
		}

		if strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "timeout") {
			return NewSystemError(ErrCodeExternalService, "External service unavailable").WithCause(err)
		}

		return NewSystemError(ErrCodeInternalServer, "Internal server error").WithCause(err)
	}
}

// translateValidationErrors 转换验证错误
func (t *ErrorTranslator) translateValidationErrors(validationErrors validator.ValidationErrors) *AppError {
	var details []map[string]interface{}

	for _, fieldError := range validationErrors {
		detail := map[string]interface{}{
			"field":   fieldError.Field(),
			"tag":     fieldError.Tag(),
			"message": t.getValidationErrorMessage(fieldError),
		}
		details = append(details, detail)
	}

	return NewValidationError("Validation failed").
		WithDetails(map[string]interface{}{
			"errors": details,
		})
}

// translateNetworkError 转换网络错误
func (t *ErrorTranslator) translateNetworkError(netErr *net.OpError) *AppError {
	if netErr.Timeout() {
		return NewSystemError(ErrCodeTimeout, "Operation timed out").WithCause(netErr)
	}

	return NewSystemError(ErrCodeExternalService, "Network error").WithCause(netErr)
}

// translateDatabaseError 转换数据库错误
func (t *ErrorTranslator) translateDatabaseError(err error) *AppError {
	if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, sql.ErrNoRows) {
		return NewNotFoundError("record").WithCause(err)
	}

	errMsg := err.Error()

	// PostgreSQL特定错误
	if strings.Contains(errMsg, "duplicate key value") || strings.Contains(errMsg, "violates unique constraint") {
		return NewBusinessError(ErrCodeConflict, "Resource already exists").WithCause(err)
	}

	if strings.Contains(errMsg, "violates foreign key constraint") {
		return NewBusinessError(ErrCodeBadRequest, "Invalid reference").WithCause(err)
	}

	if strings.Contains(errMsg, "violates not-null constraint") {
		return NewBusinessError(ErrCodeBadRequest, "Required field is missing").WithCause(err)
	}

	if strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "no such host") {
		return NewSystemError(ErrCodeConnectionFailed, "Database connection failed").WithCause(err)
	}

	if migrateErr, ok := err.(migrate.ErrDirty); ok {
		return NewSystemError(ErrCodeDatabaseError, "Database migration in dirty state").WithCause(migrateErr)
	}

	return NewSystemError(ErrCodeDatabaseError, "Database operation failed").WithCause(err)
}

// isDatabaseError 检查是否为数据库错误
func (t *ErrorTranslator) isDatabaseError(err error) bool {
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, gorm.ErrRecordNotFound) {
		return true
	}

	errMsg := strings.ToLower(err.Error())

	databaseKeywords := []string{
		"pq:", "postgresql", "sql", "database", "relation", "column",
		"constraint", "foreign key", "primary key", "unique", "null",
		"duplicate",
	}

	for _, keyword := range databaseKeywords {
		if strings.Contains(errMsg, keyword) {
			return true
		}
	}

	return false
}

// IsDuplicateKey 检查是否为唯一约束冲突
// 映射表重复point_id与报告(employee_id, report_date)唯一索引都依赖该判断
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	errMsg := err.Error()
	return strings.Contains(errMsg, "duplicate key value") ||
		strings.Contains(errMsg, "violates unique constraint") ||
		strings.Contains(errMsg, "UNIQUE constraint failed")
}

// getValidationErrorMessage 获取验证错误消息
func (t *ErrorTranslator) getValidationErrorMessage(fieldError validator.FieldError) string {
	field := fieldError.Field()
	tag := fieldError.Tag()

	switch tag {
	case "required":
		return field + " is required"
	case "min":
		return field + " must be at least " + fieldError.Param()
	case "max":
		return field + " must be at most " + fieldError.Param()
	case "gte":
		return field + " must be greater than or equal to " + fieldError.Param()
	case "lte":
		return field + " must be less than or equal to " + fieldError.Param()
	case "oneof":
		return field + " must be one of: " + fieldError.Param()
	case "datetime":
		return field + " must match the format " + fieldError.Param()
	default:
		return field + " is invalid"
	}
}

// Wrap 包装错误为AppError
func (t *ErrorTranslator) Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}

	return NewSystemError(code, message).WithCause(err)
}

// WrapBusiness 包装业务错误
func (t *ErrorTranslator) WrapBusiness(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}

	return NewBusinessError(code, message).WithCause(err)
}
