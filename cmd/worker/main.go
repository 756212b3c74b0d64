package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/reporthub/backend-go/app/bootstrap"
	"github.com/reporthub/backend-go/internal/config"
	"github.com/reporthub/backend-go/internal/logger"
)

// 索引工作进程：消费异步索引请求并运行写入意图对账，不开HTTP端口。
// 消费者与HTTP服务共用消费组，多实例间由Kafka分配分区。
func main() {
	app, err := bootstrap.Init()
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer app.Shutdown()

	// Set global app instance for shared service access
	bootstrap.SetGlobalApp(app)

	if !config.AppConfig.Kafka.Enabled {
		logger.Warn("Kafka is disabled, worker only runs the reconciler")
	}

	logger.Info("🚀 Starting Index Worker",
		zap.String("group_id", config.AppConfig.Kafka.GroupID),
		zap.String("index_topic", config.AppConfig.Kafka.IndexTopic))

	// 消费者与对账循环已在bootstrap中启动，这里只等退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("Shutting down index worker", zap.String("signal", sig.String()))
}
