package middleware

import (
	"strings"

	"github.com/beego/beego/v2/server/web/context"
	"go.uber.org/zap"

	"github.com/reporthub/backend-go/internal/logger"
)

const (
	auditOperationKey = "auditOperationType"
	auditResourceKey  = "auditResourceType"
)

// AuditLogFilter 操作审计过滤器
//
// 在路由前给请求打上操作标签（如 "CREATE"/"employee"），
// 请求完成后由访问日志过滤器统一输出审计记录。
func AuditLogFilter(operationType, resourceType string) func(*context.Context) {
	return func(ctx *context.Context) {
		ctx.Input.SetData(auditOperationKey, operationType)
		ctx.Input.SetData(auditResourceKey, resourceType)
	}
}

// RecordAuditLog 输出操作审计日志
//
// 只记录变更请求。未打标签的请求按方法和路径推导操作类型。
// 审计记录走统一结构化日志管道；向量层的审计事件由retrieval
// 服务单独发布到Kafka审计主题。
func RecordAuditLog(ctx *context.Context, status int) {
	method := ctx.Input.Method()
	if method == "GET" || method == "HEAD" || method == "OPTIONS" {
		return
	}

	path := ctx.Request.URL.Path
	if !strings.HasPrefix(path, "/api/") {
		return
	}

	op, res, ok := auditLabels(ctx)
	if !ok {
		op, res = deriveAuditLabels(method, path)
	}

	clientIP := ctx.Request.RemoteAddr
	if forwarded := ctx.Request.Header.Get("X-Forwarded-For"); forwarded != "" {
		clientIP = strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}

	logger.GetLogger().Info("operation audit",
		zap.String("operation", op),
		zap.String("resource", res),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", status),
		zap.String("client_ip", clientIP),
		zap.String("user_agent", ctx.Request.Header.Get("User-Agent")),
	)
}

// auditLabels 取出请求上的审计标签
func auditLabels(ctx *context.Context) (string, string, bool) {
	op, okOp := ctx.Input.GetData(auditOperationKey).(string)
	res, okRes := ctx.Input.GetData(auditResourceKey).(string)
	return op, res, okOp && okRes
}

// deriveAuditLabels 按方法和路径推导审计标签
func deriveAuditLabels(method, path string) (string, string) {
	resource := "unknown"
	segments := strings.Split(strings.TrimPrefix(path, "/api/"), "/")
	if len(segments) > 0 && segments[0] != "" {
		resource = strings.TrimSuffix(segments[0], "s")
	}

	op := "UNKNOWN"
	switch method {
	case "POST":
		op = "CREATE"
	case "PUT", "PATCH":
		op = "UPDATE"
	case "DELETE":
		op = "DELETE"
	}

	switch {
	case strings.HasSuffix(path, "/index"):
		op = "INDEX"
	case strings.HasSuffix(path, "/upload"):
		op = "UPLOAD"
	case method == "DELETE" && strings.HasSuffix(path, "/vectors"):
		op = "DELETE_VECTORS"
	case strings.HasSuffix(path, "/search"):
		op = "SEARCH"
	}

	return op, resource
}
