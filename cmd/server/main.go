package main

import (
	"log"
	"os"
	"strconv"

	"github.com/beego/beego/v2/server/web"
	"go.uber.org/zap"

	"github.com/reporthub/backend-go/app/bootstrap"
	"github.com/reporthub/backend-go/app/middleware"
	"github.com/reporthub/backend-go/app/router"
	apperrors "github.com/reporthub/backend-go/internal/errors"
	"github.com/reporthub/backend-go/internal/logger"
)

func main() {
	// 在bootstrap之前设置端口，默认8000
	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8000"
	}
	if p, err := strconv.Atoi(port); err == nil {
		web.BConfig.Listen.HTTPPort = p
	} else {
		web.BConfig.Listen.HTTPPort = 8000
	}

	app, err := bootstrap.Init()
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer app.Shutdown()

	// Set global app instance for controllers
	bootstrap.SetGlobalApp(app)

	// 初始化路由
	router.Init()

	// 全局过滤器：访问日志、CORS、请求校验、审计
	loggerAdapter := logger.NewAdapter(logger.GetLogger())
	errorHandler := apperrors.NewErrorHandler(loggerAdapter)
	manager := middleware.NewMiddlewareManager(loggerAdapter, errorHandler)
	manager.SetupDefaultMiddlewares()
	manager.ApplyAllFilters()

	// 配置Beego全局设置
	web.BConfig.AppName = "Report Retrieval Service"
	web.BConfig.CopyRequestBody = true
	web.BConfig.RecoverFunc = manager.PanicRecoverFunc()

	logger.Info("🚀 Starting Report Retrieval Service", zap.Int("port", web.BConfig.Listen.HTTPPort))
	web.Run()
}
