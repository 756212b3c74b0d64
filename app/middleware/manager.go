package middleware

import (
	"strings"
	"time"

	"github.com/beego/beego/v2/server/web"
	beecontext "github.com/beego/beego/v2/server/web/context"

	"github.com/reporthub/backend-go/internal/errors"
	"github.com/reporthub/backend-go/internal/interfaces"
)

const requestStartKey = "request_start"

// MiddlewareManager 中间件管理器
type MiddlewareManager struct {
	logger        interfaces.LoggerInterface
	errorHandler  *errors.ErrorHandler
	globalFilters []web.FilterFunc
	routeFilters  map[string][]web.FilterFunc
}

// NewMiddlewareManager 创建中间件管理器
func NewMiddlewareManager(logger interfaces.LoggerInterface, errorHandler *errors.ErrorHandler) *MiddlewareManager {
	return &MiddlewareManager{
		logger:        logger,
		errorHandler:  errorHandler,
		globalFilters: make([]web.FilterFunc, 0),
		routeFilters:  make(map[string][]web.FilterFunc),
	}
}

// AddGlobalFilter 添加全局过滤器
func (mm *MiddlewareManager) AddGlobalFilter(filter web.FilterFunc) {
	mm.globalFilters = append(mm.globalFilters, filter)
}

// AddRouteFilter 添加路由特定过滤器
func (mm *MiddlewareManager) AddRouteFilter(pattern string, filter web.FilterFunc) {
	if mm.routeFilters[pattern] == nil {
		mm.routeFilters[pattern] = make([]web.FilterFunc, 0)
	}
	mm.routeFilters[pattern] = append(mm.routeFilters[pattern], filter)
}

// ApplyGlobalFilters 应用全局过滤器
func (mm *MiddlewareManager) ApplyGlobalFilters() {
	for _, filter := range mm.globalFilters {
		web.InsertFilter("/*", web.BeforeRouter, filter)
	}
}

// ApplyRouteFilters 应用路由特定过滤器
func (mm *MiddlewareManager) ApplyRouteFilters() {
	for pattern, filters := range mm.routeFilters {
		for _, filter := range filters {
			web.InsertFilter(pattern, web.BeforeRouter, filter)
		}
	}
}

// ApplyAllFilters 应用所有过滤器
//
// 访问日志挂在FinishRouter阶段，响应已写出时也要执行，
// 因此带WithReturnOnOutput(false)。
func (mm *MiddlewareManager) ApplyAllFilters() {
	mm.ApplyGlobalFilters()
	mm.ApplyRouteFilters()

	web.InsertFilter("/*", web.FinishRouter, mm.accessLogFilter(), web.WithReturnOnOutput(false))
}

// SetupDefaultMiddlewares 设置默认中间件
func (mm *MiddlewareManager) SetupDefaultMiddlewares() {
	mm.AddGlobalFilter(mm.requestStartMiddleware())
	mm.AddGlobalFilter(CORSMiddleware())
	mm.AddGlobalFilter(ValidationMiddleware())
}

// requestStartMiddleware 在路由前记录请求开始时间
func (mm *MiddlewareManager) requestStartMiddleware() web.FilterFunc {
	return func(ctx *beecontext.Context) {
		ctx.Input.SetData(requestStartKey, time.Now())
	}
}

// accessLogFilter 请求完成后输出访问日志
func (mm *MiddlewareManager) accessLogFilter() web.FilterFunc {
	return func(ctx *beecontext.Context) {
		status := ctx.ResponseWriter.Status
		if status == 0 {
			status = 200
		}

		fields := map[string]interface{}{
			"method":      ctx.Input.Method(),
			"path":        ctx.Input.URI(),
			"status":      status,
			"user_agent":  ctx.Input.UserAgent(),
			"remote_addr": getClientIP(ctx),
		}

		if start, ok := ctx.Input.GetData(requestStartKey).(time.Time); ok {
			fields["duration_ms"] = time.Since(start).Milliseconds()
		}

		switch {
		case status >= 500:
			mm.logger.Error("request completed", fields)
		case status >= 400:
			mm.logger.Warn("request completed", fields)
		default:
			mm.logger.Info("request completed", fields)
		}

		// 带审计标签的变更请求额外输出审计记录
		RecordAuditLog(ctx, status)
	}
}

// PanicRecoverFunc 返回注入beego的panic恢复函数
//
// 赋值给web.BConfig.RecoverFunc后接管框架默认的panic处理。
func (mm *MiddlewareManager) PanicRecoverFunc() func(*beecontext.Context, *web.Config) {
	return func(ctx *beecontext.Context, cfg *web.Config) {
		if rec := recover(); rec != nil {
			mm.logger.Error("panic recovered", map[string]interface{}{
				"panic": rec,
				"path":  ctx.Input.URI(),
			})

			if mm.errorHandler != nil {
				mm.errorHandler.HandlePanic(ctx.ResponseWriter, ctx.Request, rec)
				return
			}

			ctx.Output.SetStatus(500)
			ctx.Output.Header("Content-Type", "application/json")
			ctx.Output.Body([]byte(`{"success": false, "error": "Internal server error"}`))
		}
	}
}

// getClientIP 获取客户端IP
func getClientIP(ctx *beecontext.Context) string {
	if xff := ctx.Input.Header("X-Forwarded-For"); xff != "" {
		// X-Forwarded-For可能包含多个IP，取第一个
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := ctx.Input.Header("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	return strings.Split(ctx.Input.IP(), ":")[0]
}
