package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/reporthub/backend-go/internal/config"
	"github.com/reporthub/backend-go/internal/consul"
	"github.com/reporthub/backend-go/internal/database"
	"github.com/reporthub/backend-go/internal/di"
	apperrors "github.com/reporthub/backend-go/internal/errors"
	"github.com/reporthub/backend-go/internal/etcd"
	"github.com/reporthub/backend-go/internal/health"
	"github.com/reporthub/backend-go/internal/interfaces"
	"github.com/reporthub/backend-go/internal/kafka"
	"github.com/reporthub/backend-go/internal/logger"
	"github.com/reporthub/backend-go/internal/retrieval"
	"github.com/reporthub/backend-go/internal/services"
	"github.com/reporthub/backend-go/internal/storage"
)

// maxIndexRetries 异步索引请求经重试主题重投的次数上限
const maxIndexRetries = 3

// App 持有需要随进程生命周期清理的资源和已装配的服务单例。
//
// 控制器通过GetApp()在Prepare阶段取服务实例；清理任务按注册的
// 逆序执行。
type App struct {
	cleanupTasks []func() error

	database         interfaces.DatabaseInterface
	employeeService  *services.EmployeeService
	reportService    *services.ReportService
	retrievalService *retrieval.Service
	reconciler       *services.ReconcilerService
	metricsService   *services.MetricsService
	archiver         *storage.Archiver
	fulltext         retrieval.FulltextIndexer

	healthServer   *health.Server
	consulClient   *consul.Client
	consulRegistry *consul.ServiceRegistry
	etcdClient     *etcd.Client
	etcdRegistry   *etcd.ServiceRegistry

	monitorCancel context.CancelFunc
}

// Global app instance for controllers to access
var globalApp *App

// GetApp returns the global app instance
func GetApp() *App {
	return globalApp
}

// SetGlobalApp sets the global app instance
func SetGlobalApp(app *App) {
	globalApp = app
}

// GetEmployeeService 员工服务
func (a *App) GetEmployeeService() *services.EmployeeService {
	return a.employeeService
}

// GetReportService 报告服务
func (a *App) GetReportService() *services.ReportService {
	return a.reportService
}

// GetRetrievalService 检索服务
func (a *App) GetRetrievalService() *retrieval.Service {
	return a.retrievalService
}

// GetReconcilerService 对账服务
func (a *App) GetReconcilerService() *services.ReconcilerService {
	return a.reconciler
}

// GetMetricsService 指标服务
func (a *App) GetMetricsService() *services.MetricsService {
	return a.metricsService
}

// GetArchiver 对象存储归档器，未启用时为nil
func (a *App) GetArchiver() *storage.Archiver {
	return a.archiver
}

// GetConsulClient Consul客户端，未启用时为nil
func (a *App) GetConsulClient() *consul.Client {
	return a.consulClient
}

// Init bootstraps configuration, logger, database connections and other shared
// infrastructure components required by the application.
func Init() (*App, error) {
	// Load environment variables from .env if present (non-fatal if missing).
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	// Initialize structured logger.
	if err := logger.InitLogger(); err != nil {
		return nil, err
	}

	// Load dynamic configuration.
	if err := config.LoadConfig(); err != nil {
		return nil, err
	}

	app := &App{}

	// gRPC健康探针先以NOT_SERVING启动，初始化完成后再切换
	app.healthServer = health.NewServer(config.AppConfig.Consul.ServiceName)
	if err := app.healthServer.Start(config.AppConfig.Server.GRPCPort); err != nil {
		logger.Warn("Failed to start gRPC health server", zap.Error(err))
	} else {
		app.cleanupTasks = append(app.cleanupTasks, func() error {
			app.healthServer.Stop()
			return nil
		})
	}

	// Consul配置覆盖层（可选）
	if config.AppConfig.Consul.Enabled {
		app.initConsulConfig()
	}

	// 本地配置文件热加载（可选，CONFIG_FILE指定路径时开启）
	if configFile := os.Getenv("CONFIG_FILE"); configFile != "" {
		config.RegisterCallback(app.onConfigReload)
		if err := config.StartWatching(configFile); err != nil {
			logger.Warn("Failed to watch config file", zap.Error(err))
		} else {
			app.cleanupTasks = append(app.cleanupTasks, func() error {
				config.StopWatching()
				return nil
			})
		}
	}

	// Initialize Redis (optional). Failure shouldn't block the app.
	if _, err := database.InitRedis(); err != nil {
		logger.Warn("Failed to initialize Redis", zap.Error(err))
	} else {
		app.cleanupTasks = append(app.cleanupTasks, func() error {
			return database.CloseRedis()
		})
	}

	// 依赖注入容器装配核心服务图（数据库连接由容器持有）
	container := di.InitContainer()
	if err := di.RegisterProviders(container); err != nil {
		return nil, fmt.Errorf("register providers failed: %w", err)
	}

	err := container.Invoke(func(
		db interfaces.DatabaseInterface,
		employees *services.EmployeeService,
		reports *services.ReportService,
		retrievalSvc *retrieval.Service,
		reconciler *services.ReconcilerService,
		metrics *services.MetricsService,
		archiver *storage.Archiver,
	) {
		app.database = db
		app.employeeService = employees
		app.reportService = reports
		app.retrievalService = retrievalSvc
		app.reconciler = reconciler
		app.metricsService = metrics
		app.archiver = archiver
	})
	if err != nil {
		return nil, fmt.Errorf("resolve services failed: %w", err)
	}

	app.cleanupTasks = append(app.cleanupTasks, func() error {
		return app.database.Close()
	})

	// 数据库后台健康检查与连接池指标
	if wrapper, ok := app.database.(*database.DatabaseWrapper); ok {
		var monitorCtx context.Context
		monitorCtx, app.monitorCancel = context.WithCancel(context.Background())
		wrapper.StartMonitoring(monitorCtx)
		app.cleanupTasks = append(app.cleanupTasks, func() error {
			app.monitorCancel()
			wrapper.StopHealthCheck()
			return nil
		})
	}

	// 可选组件按配置挂载
	app.wireOptionalComponents()

	// Kafka生产者与异步索引消费者（可选）
	if config.AppConfig.Kafka.Enabled {
		app.initKafka()
	}

	// 写入意图对账任务
	app.reconciler.Start()
	app.cleanupTasks = append(app.cleanupTasks, func() error {
		app.reconciler.Stop()
		return nil
	})

	// 服务注册：优先Consul，其次etcd
	app.registerService()

	app.healthServer.SetServing()
	logger.Info("Application bootstrap complete")

	return app, nil
}

// initConsulConfig 连接Consul并用KV中的配置覆盖本地配置
func (a *App) initConsulConfig() {
	consulClient, err := consul.NewClient(
		config.AppConfig.Consul.Address,
		config.AppConfig.Consul.Enabled,
		logger.Logger,
	)
	if err != nil {
		logger.Warn("Failed to initialize Consul client, using fallback config", zap.Error(err))
		return
	}
	a.consulClient = consulClient

	if !consulClient.IsEnabled() {
		return
	}

	prefix := config.AppConfig.Consul.ConfigPrefix
	consulConfig, err := consul.LoadConfigFromConsul(consulClient, prefix, logger.Logger)
	if err != nil {
		logger.Warn("Failed to load config from Consul, using environment variables", zap.Error(err))
		return
	}

	// Merge Consul config with existing config (Consul takes precedence)
	config.AppConfig = mergeConfig(config.AppConfig, consulConfig)
	logger.Info("Configuration loaded from Consul")

	// Watch for config changes
	go func() {
		err := consul.WatchConfig(consulClient, prefix, func(newCfg *config.Config) error {
			logger.Info("Configuration updated from Consul, reloading...")
			config.AppConfig = mergeConfig(config.AppConfig, newCfg)

			// 检索参数支持热更新，其余变更需要重启生效
			if a.retrievalService != nil {
				a.retrievalService.UpdateTunables(
					config.AppConfig.Retrieval.MaxChunkSize,
					config.AppConfig.Retrieval.SearchLimit,
					config.AppConfig.Retrieval.ScoreThreshold,
				)
			}
			return nil
		}, logger.Logger)
		if err != nil {
			logger.Error("Failed to watch Consul config", zap.Error(err))
		}
	}()
}

// wireOptionalComponents 挂载分块缓存、全文索引和归档器
func (a *App) wireOptionalComponents() {
	// Redis分块缓存
	if config.AppConfig.Redis.Enabled && database.RedisClient != nil {
		if cache, err := services.NewRedisChunkCache(); err != nil {
			logger.Warn("Failed to initialize chunk cache", zap.Error(err))
		} else {
			a.retrievalService.SetChunkCache(cache)
			logger.Info("Chunk cache enabled")
		}
	}

	// Elasticsearch全文索引
	if config.AppConfig.Fulltext.Enabled {
		if indexer, err := retrieval.NewElasticsearchIndexer(config.AppConfig.Fulltext); err != nil {
			logger.Warn("Failed to initialize Elasticsearch indexer", zap.Error(err))
		} else {
			a.fulltext = indexer
			a.retrievalService.SetFulltextIndexer(indexer)
			logger.Info("Elasticsearch indexer enabled")
		}
	}

	// MinIO报告原文归档
	a.reportService.SetArchiver(a.archiver)
}

// initKafka 初始化生产者、发布器挂载和异步索引消费者
func (a *App) initKafka() {
	kafkaCfg := config.AppConfig.Kafka

	if err := kafka.InitProducer(kafkaCfg); err != nil {
		logger.Warn("Failed to initialize Kafka producer", zap.Error(err))
	} else {
		a.cleanupTasks = append(a.cleanupTasks, func() error {
			if producer := kafka.GetProducer(); producer != nil {
				return producer.Close()
			}
			return nil
		})
	}

	if producer := kafka.GetProducer(); producer != nil {
		a.retrievalService.SetAuditPublisher(producer)
		a.reportService.SetIndexQueue(producer)
		a.reconciler.SetEventPublisher(producer)
	}

	// 消费索引请求主题及其重试主题
	topics := []string{kafkaCfg.IndexTopic, kafkaCfg.IndexTopic + ".retry"}
	if err := kafka.InitConsumer(kafkaCfg, topics); err != nil {
		logger.Warn("Failed to initialize Kafka consumer", zap.Error(err))
		return
	}

	consumer := kafka.GetConsumer()
	if consumer == nil {
		return
	}

	consumer.RegisterHandler(kafkaCfg.IndexTopic, a.handleIndexRequest)
	consumer.RegisterHandler(kafkaCfg.IndexTopic+".retry", a.handleIndexRetry)
	consumer.Start()

	a.cleanupTasks = append(a.cleanupTasks, func() error {
		return consumer.Close()
	})
}

// registerService 注册到服务发现，优先Consul，其次etcd
func (a *App) registerService() {
	if config.AppConfig.Consul.Enabled {
		if a.consulClient == nil || !a.consulClient.IsEnabled() {
			logger.Warn("Consul client not available, skipping service registration")
		} else {
			registry := consul.NewServiceRegistry(
				a.consulClient,
				config.AppConfig.Consul.ServiceID,
				config.AppConfig.Consul.ServiceName,
				logger.Logger,
			)
			if err := registry.Register(config.AppConfig); err != nil {
				logger.Warn("Failed to register service with Consul", zap.Error(err))
			} else {
				a.consulRegistry = registry
				a.cleanupTasks = append(a.cleanupTasks, func() error {
					return registry.Deregister()
				})
				logger.Info("Service registered with Consul",
					zap.String("service_id", config.AppConfig.Consul.ServiceID),
					zap.String("service_name", config.AppConfig.Consul.ServiceName))
			}
		}
		return
	}

	if config.AppConfig.Etcd.Enabled {
		etcdClient, err := etcd.NewClient(
			config.AppConfig.Etcd.Endpoints,
			config.AppConfig.Etcd.Enabled,
			logger.Logger,
		)
		if err != nil {
			logger.Warn("Failed to initialize etcd client, skipping service registration", zap.Error(err))
			return
		}
		a.etcdClient = etcdClient
		a.cleanupTasks = append(a.cleanupTasks, func() error {
			return etcdClient.Close()
		})

		registry := etcd.NewServiceRegistry(
			etcdClient,
			config.AppConfig.Etcd.ServiceID,
			config.AppConfig.Etcd.ServiceName,
			logger.Logger,
		)
		if err := registry.Register(config.AppConfig); err != nil {
			logger.Warn("Failed to register service with etcd", zap.Error(err))
			return
		}
		a.etcdRegistry = registry
		a.cleanupTasks = append(a.cleanupTasks, func() error {
			return registry.Deregister()
		})
		logger.Info("Service registered with etcd",
			zap.String("service_id", config.AppConfig.Etcd.ServiceID),
			zap.String("service_name", config.AppConfig.Etcd.ServiceName))
	}
}

// handleIndexRequest 处理异步索引请求
//
// 解析失败或报告不存在时丢弃消息；其余失败先尝试投递重试主题，
// 投递不了则不标记等待重投。
func (a *App) handleIndexRequest(ctx context.Context, message *sarama.ConsumerMessage) error {
	req, err := kafka.ParseIndexRequestMessage(message.Value)
	if err != nil {
		logger.Error("invalid index request message, dropping", zap.Error(err))
		return nil
	}

	if err := a.processIndexRequest(ctx, req); err != nil {
		logger.Error("index request failed",
			zap.Uint("report_id", req.ReportID),
			zap.String("action", req.Action),
			zap.Error(err))

		retryErr := kafka.SendRetryMessage(
			message.Topic, string(message.Key), message.Value,
			req.RetryCount+1, maxIndexRetries, err.Error(),
		)
		if retryErr != nil {
			return err
		}
	}

	return nil
}

// handleIndexRetry 处理重试主题上的索引请求
func (a *App) handleIndexRetry(ctx context.Context, message *sarama.ConsumerMessage) error {
	var retry kafka.RetryMessage
	if err := json.Unmarshal(message.Value, &retry); err != nil {
		logger.Error("invalid retry message, dropping", zap.Error(err))
		return nil
	}

	if retry.RetryCount > retry.MaxRetries {
		logger.Error("index request exceeded retry limit, dropping",
			zap.String("original_topic", retry.OriginalTopic),
			zap.Int("retry_count", retry.RetryCount))
		return nil
	}

	req, err := kafka.ParseIndexRequestMessage(retry.Data)
	if err != nil {
		logger.Error("invalid index request in retry message, dropping", zap.Error(err))
		return nil
	}

	if err := a.processIndexRequest(ctx, req); err != nil {
		logger.Error("index retry failed",
			zap.Uint("report_id", req.ReportID),
			zap.Int("retry_count", retry.RetryCount),
			zap.Error(err))

		retryErr := kafka.SendRetryMessage(
			retry.OriginalTopic, retry.OriginalKey, retry.Data,
			retry.RetryCount+1, retry.MaxRetries, err.Error(),
		)
		if retryErr != nil {
			return err
		}
	}

	return nil
}

// processIndexRequest 按动作执行索引或删除，报告不存在视为已处理
func (a *App) processIndexRequest(ctx context.Context, req *kafka.IndexRequestMessage) error {
	if a.reportService == nil {
		return fmt.Errorf("report service not initialized")
	}

	var err error
	switch req.Action {
	case kafka.IndexActionDelete:
		err = a.reportService.DeleteReportVectors(ctx, req.ReportID)
	default:
		_, err = a.reportService.IndexReport(ctx, req.ReportID)
	}

	if err != nil && (apperrors.HasCode(err, apperrors.ErrCodeResourceNotFound) ||
		apperrors.HasCode(err, apperrors.ErrCodeNotFound)) {
		logger.Warn("index request for missing report, dropping",
			zap.Uint("report_id", req.ReportID))
		return nil
	}

	return err
}

// onConfigReload 配置文件变更回调，热更新检索参数
func (a *App) onConfigReload(oldCfg, newCfg *config.Config) error {
	if a.retrievalService != nil && newCfg != nil {
		a.retrievalService.UpdateTunables(
			newCfg.Retrieval.MaxChunkSize,
			newCfg.Retrieval.SearchLimit,
			newCfg.Retrieval.ScoreThreshold,
		)
	}
	return nil
}

// ComponentHealth 汇总各组件健康状态，未启用的组件不出现在结果里
func (a *App) ComponentHealth(ctx context.Context) map[string]bool {
	components := make(map[string]bool)

	if a.database != nil {
		components["database"] = a.database.HealthCheck() == nil
	}

	if config.AppConfig != nil && config.AppConfig.Redis.Enabled {
		healthy := false
		if database.RedisClient != nil {
			healthy = database.RedisClient.Ping(ctx).Err() == nil
		}
		components["redis"] = healthy
	}

	if a.retrievalService != nil {
		components["vector_index"] = a.retrievalService.IndexReady()
		components["embedder"] = a.retrievalService.EmbedderReady()
	}

	if a.archiver != nil {
		components["archive"] = a.archiver.Healthy(ctx)
	}

	if a.fulltext != nil {
		components["fulltext"] = a.fulltext.Ready()
	}

	return components
}

// mergeConfig merges Consul config into the base config
func mergeConfig(base, consulCfg *config.Config) *config.Config {
	result := *base

	// Merge only non-empty values from Consul
	if consulCfg.Server.Port != "" {
		result.Server.Port = consulCfg.Server.Port
	}
	if consulCfg.Server.Env != "" {
		result.Server.Env = consulCfg.Server.Env
	}
	if consulCfg.Database.URL != "" {
		result.Database.URL = consulCfg.Database.URL
	}
	if consulCfg.Redis.Host != "" {
		result.Redis.Host = consulCfg.Redis.Host
	}
	if consulCfg.Redis.Port != "" {
		result.Redis.Port = consulCfg.Redis.Port
	}
	if consulCfg.Redis.DB != 0 {
		result.Redis.DB = consulCfg.Redis.DB
	}
	if consulCfg.Redis.TTL != 0 {
		result.Redis.TTL = consulCfg.Redis.TTL
	}
	if consulCfg.Prometheus.BaseURL != "" {
		result.Prometheus.BaseURL = consulCfg.Prometheus.BaseURL
	}
	// Consul只能开启Prometheus，不能用空值关闭环境变量开启的状态
	if consulCfg.Prometheus.Enabled {
		result.Prometheus.Enabled = true
	}
	if len(consulCfg.Kafka.Brokers) > 0 {
		result.Kafka.Brokers = consulCfg.Kafka.Brokers
	}
	if consulCfg.Kafka.AuditTopic != "" {
		result.Kafka.AuditTopic = consulCfg.Kafka.AuditTopic
	}
	if consulCfg.Kafka.OrphansTopic != "" {
		result.Kafka.OrphansTopic = consulCfg.Kafka.OrphansTopic
	}
	if consulCfg.Kafka.IndexTopic != "" {
		result.Kafka.IndexTopic = consulCfg.Kafka.IndexTopic
	}
	if consulCfg.Kafka.GroupID != "" {
		result.Kafka.GroupID = consulCfg.Kafka.GroupID
	}
	result.Kafka.Enabled = consulCfg.Kafka.Enabled

	// 检索参数
	if consulCfg.Retrieval.CollectionName != "" {
		result.Retrieval.CollectionName = consulCfg.Retrieval.CollectionName
	}
	if consulCfg.Retrieval.MaxChunkSize > 0 {
		result.Retrieval.MaxChunkSize = consulCfg.Retrieval.MaxChunkSize
	}
	if consulCfg.Retrieval.SearchLimit > 0 {
		result.Retrieval.SearchLimit = consulCfg.Retrieval.SearchLimit
	}
	if consulCfg.Retrieval.ScoreThreshold > 0 {
		result.Retrieval.ScoreThreshold = consulCfg.Retrieval.ScoreThreshold
	}

	return &result
}

// Shutdown flushes/logs and closes resources gracefully.
func (a *App) Shutdown() {
	// 健康状态先降级，再按逆序清理
	if a.healthServer != nil {
		a.healthServer.SetNotServing()
	}

	// Execute cleanup tasks in reverse order (best effort).
	for i := len(a.cleanupTasks) - 1; i >= 0; i-- {
		if err := a.cleanupTasks[i](); err != nil {
			log.Printf("Cleanup error: %v\n", err)
		}
	}

	// Flush logger buffers.
	logger.Sync()
}
