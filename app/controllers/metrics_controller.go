package controllers

import (
	"github.com/beego/beego/v2/server/web"

	"github.com/reporthub/backend-go/internal/services"
)

// MetricsController 指标控制器
type MetricsController struct {
	web.Controller
	metricsService *services.MetricsService
}

// Prepare 初始化控制器
func (c *MetricsController) Prepare() {
	if c.metricsService == nil {
		c.metricsService = services.NewMetricsService()
	}
}

// Metrics 返回Prometheus格式的指标
func (c *MetricsController) Metrics() {
	c.Ctx.Output.Header("Content-Type", "text/plain; charset=utf-8")
	c.metricsService.ServeHTTP(c.Ctx.ResponseWriter, c.Ctx.Request)
}
