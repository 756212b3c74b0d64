package middleware

import (
	"strings"
	"sync"
	"time"

	"github.com/beego/beego/v2/server/web"
	beecontext "github.com/beego/beego/v2/server/web/context"

	"github.com/reporthub/backend-go/internal/errors"
	"github.com/reporthub/backend-go/internal/interfaces"
)

// SecurityConfig 安全配置
type SecurityConfig struct {
	EnableRateLimit   bool
	RateLimitRequests int
	RateLimitWindow   time.Duration
	TrustedProxies    []string
}

// SecurityMiddleware 安全中间件
type SecurityMiddleware struct {
	config       *SecurityConfig
	logger       interfaces.LoggerInterface
	errorHandler *errors.ErrorHandler
	rateLimiter  *RateLimiter
}

// NewSecurityMiddleware 创建安全中间件
func NewSecurityMiddleware(config *SecurityConfig, logger interfaces.LoggerInterface, errorHandler *errors.ErrorHandler) *SecurityMiddleware {
	return &SecurityMiddleware{
		config:       config,
		logger:       logger,
		errorHandler: errorHandler,
		rateLimiter:  NewRateLimiter(config.RateLimitRequests, config.RateLimitWindow),
	}
}

// APIRateLimit API限流中间件
func (sm *SecurityMiddleware) APIRateLimit() web.FilterFunc {
	return func(ctx *beecontext.Context) {
		if !sm.config.EnableRateLimit {
			return
		}

		clientIP := sm.getClientIP(ctx)

		if !sm.rateLimiter.Allow(clientIP) {
			sm.logger.Warn("rate limit exceeded", map[string]interface{}{
				"client_ip": clientIP,
				"path":      ctx.Input.URI(),
			})
			sm.handleSecurityError(ctx, errors.NewBusinessError(errors.ErrCodeTooManyRequests, "Rate limit exceeded"))
			return
		}
	}
}

// SecurityHeaders 安全头中间件
func (sm *SecurityMiddleware) SecurityHeaders() web.FilterFunc {
	return func(ctx *beecontext.Context) {
		headers := map[string]string{
			"X-Content-Type-Options":    "nosniff",
			"X-Frame-Options":           "DENY",
			"X-XSS-Protection":          "1; mode=block",
			"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
			"Content-Security-Policy":   "default-src 'self'",
			"Referrer-Policy":           "strict-origin-when-cross-origin",
		}

		for key, value := range headers {
			ctx.Output.Header(key, value)
		}
	}
}

// RequestValidation 请求验证中间件
func (sm *SecurityMiddleware) RequestValidation() web.FilterFunc {
	return func(ctx *beecontext.Context) {
		contentType := ctx.Input.Header("Content-Type")
		if ctx.Input.Method() == "POST" || ctx.Input.Method() == "PUT" {
			if contentType == "" {
				sm.handleSecurityError(ctx, errors.NewBusinessError(errors.ErrCodeBadRequest, "Content-Type header required"))
				return
			}
		}
	}
}

// getClientIP 获取客户端真实IP
func (sm *SecurityMiddleware) getClientIP(ctx *beecontext.Context) string {
	// 只信任可信代理转发的X-Forwarded-For
	for _, proxy := range sm.config.TrustedProxies {
		if xff := ctx.Input.Header("X-Forwarded-For"); xff != "" {
			remoteAddr := ctx.Input.IP()
			if strings.Contains(remoteAddr, proxy) {
				if idx := strings.Index(xff, ","); idx > 0 {
					return strings.TrimSpace(xff[:idx])
				}
				return strings.TrimSpace(xff)
			}
		}
	}

	if xri := ctx.Input.Header("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	return strings.Split(ctx.Input.IP(), ":")[0]
}

// handleSecurityError 处理安全检查失败
func (sm *SecurityMiddleware) handleSecurityError(ctx *beecontext.Context, err error) {
	if sm.errorHandler != nil {
		sm.errorHandler.Handle(ctx.ResponseWriter, ctx.Request, err)
		return
	}

	appErr := errors.GetAppError(err)
	ctx.Output.SetStatus(appErr.HTTPCode)
	ctx.Output.Header("Content-Type", "application/json")
	ctx.Output.Body([]byte(`{"success": false, "error": "` + appErr.Message + `"}`))
}

// RateLimiter 简单的内存滑动窗口限流器
type RateLimiter struct {
	mu       sync.Mutex
	requests int
	window   time.Duration
	clients  map[string][]time.Time
	stop     chan struct{}
}

// NewRateLimiter 创建限流器
func NewRateLimiter(requests int, window time.Duration) *RateLimiter {
	if requests <= 0 {
		requests = 100
	}
	if window <= 0 {
		window = time.Minute
	}

	rl := &RateLimiter{
		requests: requests,
		window:   window,
		clients:  make(map[string][]time.Time),
		stop:     make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// Allow 检查是否允许请求
func (rl *RateLimiter) Allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.window)

	requests := rl.clients[clientIP]

	// 移除窗口外的请求
	validRequests := requests[:0]
	for _, reqTime := range requests {
		if reqTime.After(windowStart) {
			validRequests = append(validRequests, reqTime)
		}
	}

	if len(validRequests) >= rl.requests {
		rl.clients[clientIP] = validRequests
		return false
	}

	rl.clients[clientIP] = append(validRequests, now)
	return true
}

// Stop 停止后台清理
func (rl *RateLimiter) Stop() {
	close(rl.stop)
}

// cleanup 周期清理过期数据
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
		}

		rl.mu.Lock()
		windowStart := time.Now().Add(-rl.window)

		for clientIP, requests := range rl.clients {
			validRequests := make([]time.Time, 0, len(requests))
			for _, reqTime := range requests {
				if reqTime.After(windowStart) {
					validRequests = append(validRequests, reqTime)
				}
			}

			if len(validRequests) == 0 {
				delete(rl.clients, clientIP)
			} else {
				rl.clients[clientIP] = validRequests
			}
		}
		rl.mu.Unlock()
	}
}
