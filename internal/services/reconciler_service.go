package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/reporthub/backend-go/internal/config"
	apperrors "github.com/reporthub/backend-go/internal/errors"
	"github.com/reporthub/backend-go/internal/kafka"
	"github.com/reporthub/backend-go/internal/logger"
	"github.com/reporthub/backend-go/internal/models"
	"github.com/reporthub/backend-go/internal/repository"
	"github.com/reporthub/backend-go/internal/retrieval"
)

// 单个意图的对账结局
const (
	reconcileOutcomeCompleted = "completed"
	reconcileOutcomeRepaired  = "repaired"
	reconcileOutcomeOrphaned  = "orphaned"
)

// ReconcileEventPublisher 对账事件发布接口，kafka可用时由Producer实现
type ReconcileEventPublisher interface {
	PublishAudit(ctx context.Context, event retrieval.AuditEvent) error
	PublishOrphan(ctx context.Context, event kafka.OrphanEvent) error
}

// ReconcileStats 单轮对账的统计
type ReconcileStats struct {
	Scanned   int `json:"scanned"`
	Completed int `json:"completed"`
	Repaired  int `json:"repaired"`
	Orphaned  int `json:"orphaned"`
	Failed    int `json:"failed"`
}

// ReconcilerService 写入意图对账任务
//
// 向量upsert与映射行写入之间没有共享事务，崩溃或映射写失败会留下
// pending意图。任务定期扫描超过时限的pending意图并按索引与映射表的
// 实际状态收敛：
//   - 映射行已存在：补标complete；
//   - 点在索引中但映射缺失：用意图记录补写映射行后标complete；
//   - 点不在索引中：标orphaned并发布孤儿事件。
type ReconcilerService struct {
	intents  repository.IntentRepository
	mappings repository.MappingRepository
	index    retrieval.VectorIndex

	collection string
	enabled    bool
	interval   time.Duration
	staleAfter time.Duration
	batchSize  int

	// 可选依赖，通过Set方法注入
	events ReconcileEventPublisher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReconcilerService 创建对账任务
func NewReconcilerService(
	cfg *config.Config,
	intents repository.IntentRepository,
	mappings repository.MappingRepository,
	index retrieval.VectorIndex,
) *ReconcilerService {
	s := &ReconcilerService{
		intents:    intents,
		mappings:   mappings,
		index:      index,
		enabled:    true,
		interval:   time.Minute,
		staleAfter: 5 * time.Minute,
		batchSize:  100,
	}
	if cfg != nil {
		s.collection = cfg.Retrieval.CollectionName
		s.enabled = cfg.Reconciler.Enabled
		if cfg.Reconciler.Interval > 0 {
			s.interval = time.Duration(cfg.Reconciler.Interval) * time.Second
		}
		if cfg.Reconciler.StaleAfter > 0 {
			s.staleAfter = time.Duration(cfg.Reconciler.StaleAfter) * time.Second
		}
		if cfg.Reconciler.BatchSize > 0 {
			s.batchSize = cfg.Reconciler.BatchSize
		}
	}
	if s.collection == "" {
		s.collection = retrieval.DefaultCollectionName
	}
	return s
}

// SetEventPublisher 注入可选的对账事件发布器
func (s *ReconcilerService) SetEventPublisher(events ReconcileEventPublisher) {
	s.events = events
}

// Start 启动对账循环
func (s *ReconcilerService) Start() {
	if !s.enabled {
		logger.Info("reconciler disabled")
		return
	}
	if s.intents == nil || s.mappings == nil || s.index == nil {
		logger.Warn("reconciler missing dependencies, not started")
		return
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1)
	go s.run()

	logger.Info("reconciler started",
		zap.Duration("interval", s.interval),
		zap.Duration("stale_after", s.staleAfter),
		zap.Int("batch_size", s.batchSize))
}

// Stop 停止对账循环并等待当前一轮结束
func (s *ReconcilerService) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	logger.Info("reconciler stopped")
}

func (s *ReconcilerService) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			stats, err := s.ReconcileOnce(s.ctx)
			if err != nil {
				logger.Warn("reconcile sweep failed", zap.Error(err))
				continue
			}
			if stats.Scanned > 0 {
				logger.Info("reconcile sweep finished",
					zap.Int("scanned", stats.Scanned),
					zap.Int("completed", stats.Completed),
					zap.Int("repaired", stats.Repaired),
					zap.Int("orphaned", stats.Orphaned),
					zap.Int("failed", stats.Failed))
			}
		}
	}
}

// ReconcileOnce 扫描并处理一批过期的pending意图
//
// 单个意图处理失败只计数，留在pending等下一轮。
func (s *ReconcilerService) ReconcileOnce(ctx context.Context) (ReconcileStats, error) {
	var stats ReconcileStats

	cutoff := time.Now().Add(-s.staleAfter)
	intents, err := s.intents.ListPendingBefore(ctx, cutoff, s.batchSize)
	if err != nil {
		return stats, err
	}
	stats.Scanned = len(intents)

	for _, intent := range intents {
		outcome, err := s.reconcileIntent(ctx, intent)
		if err != nil {
			stats.Failed++
			logger.Warn("intent reconcile failed",
				zap.String("point_id", intent.PointID),
				zap.Uint("report_id", intent.ReportID),
				zap.Error(err))
			continue
		}

		switch outcome {
		case reconcileOutcomeCompleted:
			stats.Completed++
		case reconcileOutcomeRepaired:
			stats.Repaired++
		case reconcileOutcomeOrphaned:
			stats.Orphaned++
		}
		s.publishAudit(ctx, intent, outcome)
	}

	return stats, nil
}

// reconcileIntent 收敛单个意图的状态
func (s *ReconcilerService) reconcileIntent(ctx context.Context, intent models.IngestIntent) (string, error) {
	_, err := s.mappings.GetByPointID(ctx, intent.PointID)
	if err == nil {
		// 映射已落库，只是完成标记没写上
		if err := s.intents.MarkComplete(ctx, intent.PointID); err != nil {
			return "", err
		}
		return reconcileOutcomeCompleted, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	_, found, err := s.index.RetrievePoint(ctx, s.collection, intent.PointID)
	if err != nil {
		return "", err
	}

	if !found {
		// 点从未写入索引或已被删除，意图作废
		if err := s.intents.MarkOrphaned(ctx, intent.PointID); err != nil {
			return "", err
		}
		s.publishOrphan(ctx, intent, "point missing from index")
		return reconcileOutcomeOrphaned, nil
	}

	// 点在索引中但映射缺失，用意图记录补写映射行
	mapping := &models.VectorMapping{
		PointID:    intent.PointID,
		ReportID:   intent.ReportID,
		ChunkIndex: intent.ChunkIndex,
	}
	if err := s.mappings.Create(ctx, mapping); err != nil && !apperrors.IsDuplicateKey(err) {
		return "", err
	}
	if err := s.intents.MarkComplete(ctx, intent.PointID); err != nil {
		return "", err
	}

	logger.Info("orphaned point repaired",
		zap.String("point_id", intent.PointID),
		zap.Uint("report_id", intent.ReportID),
		zap.Int("chunk_index", intent.ChunkIndex))
	return reconcileOutcomeRepaired, nil
}

func (s *ReconcilerService) publishAudit(ctx context.Context, intent models.IngestIntent, outcome string) {
	if s.events == nil {
		return
	}
	err := s.events.PublishAudit(ctx, retrieval.AuditEvent{
		Action:     "reconcile_" + outcome,
		ReportID:   intent.ReportID,
		OccurredAt: time.Now(),
	})
	if err != nil {
		logger.Warn("reconcile audit publish failed",
			zap.String("point_id", intent.PointID), zap.Error(err))
	}
}

func (s *ReconcilerService) publishOrphan(ctx context.Context, intent models.IngestIntent, reason string) {
	if s.events == nil {
		return
	}
	err := s.events.PublishOrphan(ctx, kafka.OrphanEvent{
		PointID:    intent.PointID,
		ReportID:   intent.ReportID,
		ChunkIndex: intent.ChunkIndex,
		Reason:     reason,
		DetectedAt: time.Now(),
	})
	if err != nil {
		logger.Warn("orphan event publish failed",
			zap.String("point_id", intent.PointID), zap.Error(err))
	}
}
