package controllers

import (
	"net/http"

	"github.com/reporthub/backend-go/app/bootstrap"
)

// RootController 根控制器
type RootController struct {
	BaseController
}

func (c *RootController) Index() {
	c.JSONSuccess(map[string]string{"message": "Report Retrieval Service API"})
}

// HealthController 健康检查控制器
type HealthController struct {
	BaseController
}

// Health 汇总各组件健康状态
//
// 数据库不可用时返回503，可选组件（缓存、归档、全文索引）不可用时
// 标记为degraded但仍返回200。
func (c *HealthController) Health() {
	app := bootstrap.GetApp()
	if app == nil {
		c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"success": false,
			"status":  "initializing",
		})
		return
	}

	components := app.ComponentHealth(c.Ctx.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if ok, present := components["database"]; present && !ok {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		for _, ok := range components {
			if !ok {
				status = "degraded"
				break
			}
		}
	}

	c.JSON(httpStatus, map[string]interface{}{
		"success":    status != "unhealthy",
		"status":     status,
		"components": components,
	})
}
