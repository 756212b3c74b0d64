package middleware

import (
	"os"
	"strings"

	"github.com/beego/beego/v2/server/web"
	"github.com/beego/beego/v2/server/web/context"
)

// defaultAllowedOrigins 本地开发默认允许的源
var defaultAllowedOrigins = []string{
	"http://localhost:5173",
	"http://localhost:3000",
	"http://127.0.0.1:5173",
	"http://127.0.0.1:3000",
}

// CORSMiddleware CORS中间件
//
// 允许的源取CORS_ALLOWED_ORIGINS环境变量（逗号分隔），
// 未设置时使用本地开发默认列表。
func CORSMiddleware() web.FilterFunc {
	allowedOrigins := defaultAllowedOrigins
	if env := os.Getenv("CORS_ALLOWED_ORIGINS"); env != "" {
		allowedOrigins = nil
		for _, origin := range strings.Split(env, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				allowedOrigins = append(allowedOrigins, trimmed)
			}
		}
	}

	return func(ctx *context.Context) {
		origin := ctx.Input.Header("Origin")

		// 同源请求没有Origin头，直接放行
		if origin == "" {
			return
		}

		allowed := false
		for _, allowedOrigin := range allowedOrigins {
			if origin == allowedOrigin {
				allowed = true
				break
			}
		}

		if allowed {
			ctx.Output.Header("Access-Control-Allow-Origin", origin)
			ctx.Output.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, PATCH, OPTIONS")
			ctx.Output.Header("Access-Control-Allow-Headers", "Content-Type, X-Requested-With, Accept, Origin")
			ctx.Output.Header("Access-Control-Allow-Credentials", "true")
			ctx.Output.Header("Access-Control-Max-Age", "3600")
		}

		// OPTIONS预检请求直接返回
		if ctx.Input.Method() == "OPTIONS" {
			ctx.Output.SetStatus(204)
			ctx.Output.Body([]byte(""))
			return
		}
	}
}
