package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/beego/beego/v2/server/web"

	apperrors "github.com/reporthub/backend-go/internal/errors"
)

// BaseController provides helpers for consistent JSON responses.
type BaseController struct {
	web.Controller
}

// JSON writes a JSON response with the supplied HTTP status code.
func (c *BaseController) JSON(status int, payload interface{}) {
	c.Ctx.Output.SetStatus(status)
	c.Data["json"] = payload
	c.ServeJSON()
}

// JSONSuccess writes a standard success envelope.
func (c *BaseController) JSONSuccess(data interface{}) {
	c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

// JSONError writes an error envelope with message.
func (c *BaseController) JSONError(status int, message string) {
	c.JSON(status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// HandleError 把服务层错误翻译成HTTP响应
func (c *BaseController) HandleError(err error) {
	appErr := apperrors.GetAppError(err)

	payload := map[string]interface{}{
		"code":    string(appErr.Code),
		"message": appErr.Message,
	}
	if appErr.Details != nil {
		payload["details"] = appErr.Details
	}

	c.JSON(appErr.HTTPCode, map[string]interface{}{
		"success": false,
		"error":   payload,
	})
}

// parseUintParam 解析URL参数为uint，失败时直接写出400响应
func (c *BaseController) parseUintParam(key string) (uint, bool) {
	value := c.Ctx.Input.Param(key)
	if value == "" {
		c.JSONError(http.StatusBadRequest, "missing required parameter "+strings.TrimPrefix(key, ":"))
		return 0, false
	}

	id, err := strconv.ParseUint(value, 10, 32)
	if err != nil || id == 0 {
		c.JSONError(http.StatusBadRequest, "invalid parameter "+strings.TrimPrefix(key, ":"))
		return 0, false
	}

	return uint(id), true
}

// getClientIP 获取客户端真实IP地址
func (c *BaseController) getClientIP() string {
	xForwardedFor := c.Ctx.Input.Header("X-Forwarded-For")
	if xForwardedFor != "" {
		// X-Forwarded-For可能包含多个IP，取第一个
		ips := strings.Split(xForwardedFor, ",")
		return strings.TrimSpace(ips[0])
	}

	xRealIP := c.Ctx.Input.Header("X-Real-IP")
	if xRealIP != "" {
		return xRealIP
	}

	return c.Ctx.Input.IP()
}
