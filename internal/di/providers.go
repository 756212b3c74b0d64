package di

import (
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.uber.org/dig"
	"gorm.io/gorm"

	"github.com/reporthub/backend-go/internal/config"
	"github.com/reporthub/backend-go/internal/database"
	"github.com/reporthub/backend-go/internal/errors"
	"github.com/reporthub/backend-go/internal/interfaces"
	"github.com/reporthub/backend-go/internal/kafka"
	"github.com/reporthub/backend-go/internal/logger"
	"github.com/reporthub/backend-go/internal/repository"
	"github.com/reporthub/backend-go/internal/retrieval"
	"github.com/reporthub/backend-go/internal/services"
	"github.com/reporthub/backend-go/internal/storage"
)

// RegisterProviders 注册所有依赖提供者
//
// 依赖链：配置 → 日志 → 数据库/Redis → 仓储 → 向量索引/嵌入模型 →
// 检索服务 → 业务服务。向量索引客户端在这里创建一次后注入，
// 各后端自身不再建连接。
func RegisterProviders(container *dig.Container) error {
	// 配置
	if err := container.Provide(func() (*config.Config, error) {
		cfg := config.GetAppConfig()
		if cfg == nil {
			return nil, fmt.Errorf("config not loaded")
		}
		return cfg, nil
	}); err != nil {
		return err
	}

	if err := container.Provide(func(cfg *config.Config) interfaces.ConfigInterface {
		return &configWrapper{config: cfg}
	}); err != nil {
		return err
	}

	// 日志
	if err := container.Provide(logger.GetLogger); err != nil {
		return err
	}

	if err := container.Provide(logger.NewAdapter); err != nil {
		return err
	}

	// 数据库
	if err := container.Provide(func(cfg *config.Config) (interfaces.DatabaseInterface, error) {
		return database.NewDatabase(cfg)
	}); err != nil {
		return err
	}

	if err := container.Provide(func(db interfaces.DatabaseInterface) *gorm.DB {
		return db.GetDB()
	}); err != nil {
		return err
	}

	// Redis客户端由bootstrap初始化，未启用时为nil，下游自行空操作
	if err := container.Provide(func() *redis.Client {
		return database.RedisClient
	}); err != nil {
		return err
	}

	// 迁移管理器工厂
	if err := container.Provide(func() *database.MigrationManagerFactory {
		logrusLogger := &logrus.Logger{
			Out:       os.Stdout,
			Formatter: &logrus.JSONFormatter{},
			Level:     logrus.InfoLevel,
		}
		return database.NewMigrationManagerFactory("./migrations", logrusLogger)
	}); err != nil {
		return err
	}

	// 仓储层
	if err := container.Provide(repository.NewEmployeeRepository); err != nil {
		return err
	}

	if err := container.Provide(repository.NewReportRepository); err != nil {
		return err
	}

	if err := container.Provide(repository.NewMappingRepository); err != nil {
		return err
	}

	if err := container.Provide(repository.NewIntentRepository); err != nil {
		return err
	}

	// 向量索引客户端，组装根持有唯一实例
	if err := container.Provide(func(cfg *config.Config, db *gorm.DB) (retrieval.VectorIndex, error) {
		return retrieval.NewVectorIndex(cfg.Retrieval.VectorStore, db)
	}); err != nil {
		return err
	}

	// 嵌入模型
	if err := container.Provide(func(cfg *config.Config) retrieval.Embedder {
		return retrieval.NewEmbedder(cfg.Retrieval.Embedding)
	}); err != nil {
		return err
	}

	// 检索服务
	if err := container.Provide(func(
		cfg *config.Config,
		index retrieval.VectorIndex,
		embedder retrieval.Embedder,
		mappings repository.MappingRepository,
		intents repository.IntentRepository,
	) *retrieval.Service {
		return retrieval.NewService(cfg.Retrieval, index, embedder, mappings, intents)
	}); err != nil {
		return err
	}

	if err := container.Provide(func(svc *retrieval.Service) services.ReportIndexer {
		return svc
	}); err != nil {
		return err
	}

	// 业务服务
	if err := container.Provide(services.NewEmployeeService); err != nil {
		return err
	}

	if err := container.Provide(services.NewReportService); err != nil {
		return err
	}

	if err := container.Provide(services.NewReconcilerService); err != nil {
		return err
	}

	if err := container.Provide(services.NewMetricsService); err != nil {
		return err
	}

	// 归档存储，未启用时为nil
	if err := container.Provide(func(cfg *config.Config) (*storage.Archiver, error) {
		return storage.NewArchiver(cfg.Archive)
	}); err != nil {
		return err
	}

	// Kafka生产者由bootstrap初始化，未启用时为nil
	if err := container.Provide(func() *kafka.Producer {
		return kafka.GetProducer()
	}); err != nil {
		return err
	}

	// 错误处理器
	if err := container.Provide(errors.NewErrorHandler); err != nil {
		return err
	}

	if err := container.Provide(errors.NewErrorTranslator); err != nil {
		return err
	}

	if err := container.Provide(errors.NewErrorLogger); err != nil {
		return err
	}

	return nil
}

// configWrapper 配置包装器，实现ConfigInterface
type configWrapper struct {
	config *config.Config
}

func (c *configWrapper) GetConfig() interface{} {
	return c.config
}

func (c *configWrapper) Reload() error {
	return config.LoadConfig()
}
