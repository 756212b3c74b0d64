package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/beego/beego/v2/server/web/context"
	"github.com/go-playground/validator/v10"
)

// maxRequestSize 请求体大小上限
const maxRequestSize = int64(50 * 1024 * 1024) // 50MB

var validate = validator.New()

// createEmployeeBody POST /api/employees 请求体
type createEmployeeBody struct {
	Name     string `json:"name" validate:"required,max=255"`
	Wing     string `json:"wing" validate:"required,max=255"`
	Position string `json:"position" validate:"required,max=255"`
}

// createReportBody POST /api/reports 请求体
type createReportBody struct {
	EmployeeID uint   `json:"employee_id" validate:"required"`
	ReportDate string `json:"report_date" validate:"required,datetime=2006-01-02"`
	ReportText string `json:"report_text" validate:"required"`
}

// searchBody POST /api/retrieval/search 请求体
type searchBody struct {
	Query           string  `json:"query" validate:"required"`
	EmployeeID      uint    `json:"employee_id"`
	Limit           int     `json:"limit" validate:"omitempty,min=1,max=100"`
	ScoreThreshold  float64 `json:"score_threshold" validate:"omitempty,gte=0,lte=1"`
	BypassThreshold bool    `json:"bypass_threshold"`
}

// bodySchemas 按"METHOD 路径"登记需要校验的JSON请求体
var bodySchemas = map[string]func() interface{}{
	"POST /api/employees":        func() interface{} { return &createEmployeeBody{} },
	"POST /api/reports":          func() interface{} { return &createReportBody{} },
	"POST /api/retrieval/search": func() interface{} { return &searchBody{} },
}

// ValidationMiddleware 输入验证中间件
//
// 对登记过的JSON接口在进入控制器前做结构校验，
// 同时限制请求体大小并检查Content-Type。
// 报告正文是自由文本，不做内容黑名单过滤。
func ValidationMiddleware() func(*context.Context) {
	return func(ctx *context.Context) {
		if detectOversizedRequest(ctx) {
			writeValidationError(ctx, http.StatusRequestEntityTooLarge, "request size exceeds maximum allowed limit", nil)
			return
		}

		if !validateContentType(ctx) {
			writeValidationError(ctx, http.StatusUnsupportedMediaType, "unsupported Content-Type header", nil)
			return
		}

		factory, ok := bodySchemas[ctx.Request.Method+" "+ctx.Request.URL.Path]
		if !ok {
			return
		}

		body := factory()
		if err := json.Unmarshal(ctx.Input.RequestBody, body); err != nil {
			writeValidationError(ctx, http.StatusBadRequest, "request body is not valid JSON", nil)
			return
		}

		if err := validate.Struct(body); err != nil {
			writeValidationError(ctx, http.StatusBadRequest, "request validation failed", fieldErrors(err))
			return
		}
	}
}

// detectOversizedRequest 检测过大的请求
func detectOversizedRequest(ctx *context.Context) bool {
	if ctx.Request.ContentLength > maxRequestSize {
		return true
	}

	// Content-Length未知时检查实际读取的数据量
	if ctx.Request.ContentLength == -1 && ctx.Input.RequestBody != nil {
		if int64(len(ctx.Input.RequestBody)) > maxRequestSize {
			return true
		}
	}

	return false
}

// validateContentType 验证Content-Type
func validateContentType(ctx *context.Context) bool {
	contentType := ctx.Request.Header.Get("Content-Type")

	// 没有Content-Type时默认允许（GET/DELETE等）
	if contentType == "" {
		return true
	}

	allowedTypes := []string{
		"application/json",
		"application/x-www-form-urlencoded",
		"multipart/form-data",
		"text/plain",
	}

	// 忽略charset等参数
	for _, allowed := range allowedTypes {
		if strings.HasPrefix(contentType, allowed) {
			return true
		}
	}

	return false
}

// fieldErrors 把validator错误转成字段级明细
func fieldErrors(err error) []map[string]string {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return nil
	}

	details := make([]map[string]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		details = append(details, map[string]string{
			"field": fieldErr.Field(),
			"rule":  fieldErr.Tag(),
		})
	}

	return details
}

// writeValidationError 写出校验失败响应
func writeValidationError(ctx *context.Context, status int, message string, details interface{}) {
	ctx.Output.SetStatus(status)

	payload := map[string]interface{}{
		"success": false,
		"error":   message,
	}
	if details != nil {
		payload["details"] = details
	}

	ctx.Output.JSON(payload, true, false)
}
