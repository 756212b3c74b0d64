package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reporthub/backend-go/internal/config"
	apperrors "github.com/reporthub/backend-go/internal/errors"
	"github.com/reporthub/backend-go/internal/logger"
	"github.com/reporthub/backend-go/internal/models"
	"github.com/reporthub/backend-go/internal/repository"
)

// 检索默认参数
const (
	DefaultCollectionName = "employee_reports"
	DefaultSearchLimit    = 5
	DefaultScoreThreshold = 0.3

	// 日期缺失或无法解析的结果按最旧排
	oldestReportDate = "1900-01-01"
)

// ChunkCache GetChunks的可选缓存
type ChunkCache interface {
	GetChunks(ctx context.Context, reportID uint) ([]string, bool)
	SetChunks(ctx context.Context, reportID uint, chunks []string)
	Invalidate(ctx context.Context, reportID uint)
}

// AuditEvent 检索子系统的审计事件
type AuditEvent struct {
	Action     string    `json:"action"`
	ReportID   uint      `json:"report_id,omitempty"`
	EmployeeID uint      `json:"employee_id,omitempty"`
	Query      string    `json:"query,omitempty"`
	Attempted  int       `json:"attempted,omitempty"`
	Succeeded  int       `json:"succeeded,omitempty"`
	Skipped    int       `json:"skipped,omitempty"`
	Results    int       `json:"results,omitempty"`
	Verified   bool      `json:"verified,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// AuditPublisher 审计事件发布接口，发布失败只记日志
type AuditPublisher interface {
	PublishAudit(ctx context.Context, event AuditEvent) error
}

// IngestRequest 报告入库请求
type IngestRequest struct {
	ReportID   uint
	EmployeeID uint
	ReportDate string
	Text       string
}

// SkippedChunk 被跳过的分块及原因
type SkippedChunk struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// IngestResult 入库结果摘要
//
// 单个分块失败不会中断整个报告的入库，只记入Skipped。
type IngestResult struct {
	Attempted int            `json:"attempted"`
	Succeeded int            `json:"succeeded"`
	Skipped   []SkippedChunk `json:"skipped,omitempty"`
}

// SearchRequest 语义检索请求
//
// Limit和ScoreThreshold为非正值时取配置默认。
// BypassThreshold为真时跳过阈值过滤，返回全部命中。
type SearchRequest struct {
	Query           string
	EmployeeID      uint
	Limit           int
	ScoreThreshold  float64
	BypassThreshold bool
}

// SearchResult 单条检索结果
type SearchResult struct {
	PointID    string  `json:"point_id"`
	ReportID   uint    `json:"report_id"`
	EmployeeID uint    `json:"employee_id"`
	ChunkIndex int     `json:"chunk_index"`
	ReportDate string  `json:"report_date"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// Service 检索服务，编排分块、嵌入、向量索引与映射存储
type Service struct {
	index    VectorIndex
	embedder Embedder
	mappings repository.MappingRepository
	intents  repository.IntentRepository

	collection string

	// 热更新参数
	tunablesMu     sync.RWMutex
	maxChunkSize   int
	searchLimit    int
	scoreThreshold float64

	// 集合初始化只做一次，失败后重试
	setupMu         sync.Mutex
	collectionReady bool

	// 可选依赖，通过Set方法注入
	fulltext FulltextIndexer
	cache    ChunkCache
	audit    AuditPublisher
}

// NewService 创建检索服务
func NewService(
	cfg config.RetrievalConfig,
	index VectorIndex,
	embedder Embedder,
	mappings repository.MappingRepository,
	intents repository.IntentRepository,
) *Service {
	registerRetrievalMetrics()

	s := &Service{
		index:      index,
		embedder:   embedder,
		mappings:   mappings,
		intents:    intents,
		collection: cfg.CollectionName,
	}
	if s.collection == "" {
		s.collection = DefaultCollectionName
	}
	s.UpdateTunables(cfg.MaxChunkSize, cfg.SearchLimit, cfg.ScoreThreshold)
	return s
}

// SetFulltextIndexer 注入可选的全文索引器
func (s *Service) SetFulltextIndexer(indexer FulltextIndexer) {
	s.fulltext = indexer
}

// SetChunkCache 注入可选的分块缓存
func (s *Service) SetChunkCache(cache ChunkCache) {
	s.cache = cache
}

// SetAuditPublisher 注入可选的审计事件发布器
func (s *Service) SetAuditPublisher(publisher AuditPublisher) {
	s.audit = publisher
}

// UpdateTunables 应用运行时可调参数，非正值回落到默认
func (s *Service) UpdateTunables(maxChunkSize, searchLimit int, scoreThreshold float64) {
	if maxChunkSize <= 0 {
		maxChunkSize = DefaultMaxChunkSize
	}
	if searchLimit <= 0 {
		searchLimit = DefaultSearchLimit
	}
	if scoreThreshold <= 0 {
		scoreThreshold = DefaultScoreThreshold
	}

	s.tunablesMu.Lock()
	s.maxChunkSize = maxChunkSize
	s.searchLimit = searchLimit
	s.scoreThreshold = scoreThreshold
	s.tunablesMu.Unlock()
}

// CollectionName 返回服务使用的集合名
func (s *Service) CollectionName() string {
	return s.collection
}

// IndexReady 向量索引是否可用
func (s *Service) IndexReady() bool {
	return s.index != nil && s.index.Ready()
}

// EmbedderReady 嵌入模型是否可用
func (s *Service) EmbedderReady() bool {
	return s.embedder != nil && s.embedder.Ready()
}

// Ingest 把一条报告分块、嵌入并写入向量索引
//
// 集合初始化失败时整体中止；单个分块的失败记入结果后继续。
// 每个分块先登记pending意图，映射行落库后标记complete，
// 中途断裂的意图交给对账任务处理。
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	started := time.Now()
	result := IngestResult{}

	if err := s.ensureCollection(ctx); err != nil {
		observeIngest(result, started, err)
		return result, err
	}

	chunks := SplitText(req.Text, s.chunkSize())
	if len(chunks) == 0 {
		observeIngest(result, started, nil)
		return result, nil
	}

	result.Attempted = len(chunks)
	for i, chunk := range chunks {
		if err := s.ingestChunk(ctx, req, i, chunk); err != nil {
			result.Skipped = append(result.Skipped, SkippedChunk{Index: i, Reason: err.Error()})
			continue
		}
		result.Succeeded++
	}

	if s.cache != nil {
		s.cache.Invalidate(ctx, req.ReportID)
	}

	logger.Info("report ingested",
		zap.Uint("report_id", req.ReportID),
		zap.Uint("employee_id", req.EmployeeID),
		zap.Int("attempted", result.Attempted),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("skipped", len(result.Skipped)))

	observeIngest(result, started, nil)
	s.publishAudit(ctx, AuditEvent{
		Action:     "ingest",
		ReportID:   req.ReportID,
		EmployeeID: req.EmployeeID,
		Attempted:  result.Attempted,
		Succeeded:  result.Succeeded,
		Skipped:    len(result.Skipped),
		OccurredAt: time.Now(),
	})
	return result, nil
}

// ingestChunk 处理单个分块：意图、嵌入、向量写入、映射、完成标记
func (s *Service) ingestChunk(ctx context.Context, req IngestRequest, index int, chunk string) error {
	pointID := uuid.NewString()

	intent := &models.IngestIntent{
		PointID:    pointID,
		ReportID:   req.ReportID,
		ChunkIndex: index,
		Status:     models.IntentStatusPending,
	}
	if err := s.intents.Create(ctx, intent); err != nil {
		logger.Warn("ingest intent write failed",
			zap.Uint("report_id", req.ReportID),
			zap.Int("chunk_index", index),
			zap.Error(err))
		return fmt.Errorf("record intent failed: %w", err)
	}

	vector, err := s.embedder.Embed(ctx, chunk)
	if err != nil {
		// 嵌入失败时向量点肯定没写入，直接把意图标记为孤儿
		if markErr := s.intents.MarkOrphaned(ctx, pointID); markErr != nil {
			logger.Warn("mark orphaned intent failed", zap.String("point_id", pointID), zap.Error(markErr))
		}
		return fmt.Errorf("embed failed: %w", err)
	}

	payload := Payload{
		PayloadKeyReportID:   float64(req.ReportID),
		PayloadKeyEmployeeID: float64(req.EmployeeID),
		PayloadKeyChunkIndex: float64(index),
		PayloadKeyReportDate: req.ReportDate,
		PayloadKeyText:       chunk,
	}
	if err := s.index.UpsertPoint(ctx, s.collection, pointID, vector, payload); err != nil {
		// 写入结果不确定，意图保持pending，交给对账任务判定
		logger.Warn("vector upsert failed",
			zap.String("point_id", pointID),
			zap.Uint("report_id", req.ReportID),
			zap.Int("chunk_index", index),
			zap.Error(err))
		return fmt.Errorf("index write failed: %w", err)
	}

	mapping := &models.VectorMapping{
		PointID:    pointID,
		ReportID:   req.ReportID,
		ChunkIndex: index,
	}
	if err := s.mappings.Create(ctx, mapping); err != nil {
		// 向量点已写入但映射缺失，点成了孤儿，必须留下明显的日志线索
		logger.Error("vector point orphaned: mapping write failed",
			zap.String("point_id", pointID),
			zap.Uint("report_id", req.ReportID),
			zap.Int("chunk_index", index),
			zap.Error(err))
		return apperrors.NewMappingWriteError(fmt.Sprintf("mapping write failed for point %s", pointID)).WithCause(err)
	}

	if err := s.intents.MarkComplete(ctx, pointID); err != nil {
		// 映射已落库，分块算成功，对账任务稍后会补标记
		logger.Warn("mark intent complete failed", zap.String("point_id", pointID), zap.Error(err))
	}

	if s.fulltext != nil {
		err := s.fulltext.IndexChunk(ctx, FulltextChunk{
			PointID:    pointID,
			ReportID:   req.ReportID,
			EmployeeID: req.EmployeeID,
			ChunkIndex: index,
			ReportDate: req.ReportDate,
			Text:       chunk,
			CreatedAt:  time.Now(),
		})
		if err != nil {
			logger.Warn("fulltext index failed", zap.String("point_id", pointID), zap.Error(err))
		}
	}

	return nil
}

// Search 语义检索，按员工过滤并按报告日期倒序
//
// 空查询和后端故障都退化为空结果，不返回错误。
func (s *Service) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	started := time.Now()

	query := strings.TrimSpace(req.Query)
	if query == "" {
		observeSearch("empty", started)
		return []SearchResult{}, nil
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		logger.Warn("query embedding failed, returning empty result", zap.Error(err))
		observeSearch("degraded", started)
		return []SearchResult{}, nil
	}

	limit, threshold := s.searchParams(req)
	filter := NewEqualsFilter(PayloadKeyEmployeeID, req.EmployeeID)

	points, err := s.index.Search(ctx, s.collection, vector, limit, filter)
	if err != nil {
		logger.Warn("vector search failed, returning empty result",
			zap.Uint("employee_id", req.EmployeeID),
			zap.Error(err))
		observeSearch("degraded", started)
		return []SearchResult{}, nil
	}

	results := make([]SearchResult, 0, len(points))
	for _, point := range points {
		if !req.BypassThreshold && point.Score < threshold {
			continue
		}
		results = append(results, SearchResult{
			PointID:    point.ID,
			ReportID:   point.Payload.UintField(PayloadKeyReportID),
			EmployeeID: point.Payload.UintField(PayloadKeyEmployeeID),
			ChunkIndex: point.Payload.IntField(PayloadKeyChunkIndex),
			ReportDate: point.Payload.ReportDate(),
			Text:       point.Payload.Text(),
			Score:      point.Score,
		})
	}
	sortResultsByRecency(results)

	outcome := "ok"
	if len(results) == 0 {
		outcome = "empty"
	}
	observeSearch(outcome, started)
	s.publishAudit(ctx, AuditEvent{
		Action:     "search",
		EmployeeID: req.EmployeeID,
		Query:      query,
		Results:    len(results),
		OccurredAt: time.Now(),
	})
	return results, nil
}

// GetChunks 按分块顺序取回一条报告的全部文本
//
// 映射表读失败与取不到的向量点都只记日志；未知报告返回空切片。
func (s *Service) GetChunks(ctx context.Context, reportID uint) ([]string, error) {
	if s.cache != nil {
		if chunks, ok := s.cache.GetChunks(ctx, reportID); ok {
			observeChunkCache(true)
			return chunks, nil
		}
		observeChunkCache(false)
	}

	mappings, err := s.mappings.GetByReportID(ctx, reportID)
	if err != nil {
		logger.Error("mapping lookup failed, returning no chunks",
			zap.Uint("report_id", reportID),
			zap.Error(err))
		return []string{}, nil
	}

	chunks := make([]string, 0, len(mappings))
	missing := 0
	for _, mapping := range mappings {
		payload, found, err := s.index.RetrievePoint(ctx, s.collection, mapping.PointID)
		if err != nil || !found {
			missing++
			logger.Warn("chunk point unavailable",
				zap.String("point_id", mapping.PointID),
				zap.Uint("report_id", reportID),
				zap.Error(err))
			continue
		}
		chunks = append(chunks, payload.Text())
	}
	if missing > 0 {
		logger.Warn("report chunks incomplete",
			zap.Uint("report_id", reportID),
			zap.Int("missing", missing),
			zap.Int("returned", len(chunks)))
	}

	if s.cache != nil && len(chunks) > 0 {
		s.cache.SetChunks(ctx, reportID, chunks)
	}
	return chunks, nil
}

// DeleteReportVectors 删除一条报告的全部向量点并校验
func (s *Service) DeleteReportVectors(ctx context.Context, reportID uint) error {
	filter := NewEqualsFilter(PayloadKeyReportID, reportID)
	verified, err := s.purgeByFilter(ctx, filter)
	if err != nil {
		observePurge("report", err)
		return err
	}

	if err := s.mappings.DeleteByReportID(ctx, reportID); err != nil {
		observePurge("report", err)
		return err
	}
	if err := s.intents.DeleteByReportID(ctx, reportID); err != nil {
		logger.Warn("intent cleanup failed", zap.Uint("report_id", reportID), zap.Error(err))
	}
	if s.fulltext != nil {
		if err := s.fulltext.RemoveReport(ctx, reportID); err != nil {
			logger.Warn("fulltext cleanup failed", zap.Uint("report_id", reportID), zap.Error(err))
		}
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, reportID)
	}

	observePurge("report", nil)
	s.publishAudit(ctx, AuditEvent{
		Action:     "delete_report_vectors",
		ReportID:   reportID,
		Verified:   verified,
		OccurredAt: time.Now(),
	})
	return nil
}

// DeleteEmployeeVectors 删除一名员工的全部向量点并校验
//
// 调用方需要在删除员工行之前调用，否则映射行的归属无法再解析。
func (s *Service) DeleteEmployeeVectors(ctx context.Context, employeeID uint) error {
	filter := NewEqualsFilter(PayloadKeyEmployeeID, employeeID)
	verified, err := s.purgeByFilter(ctx, filter)
	if err != nil {
		observePurge("employee", err)
		return err
	}

	if err := s.mappings.DeleteByEmployeeID(ctx, employeeID); err != nil {
		observePurge("employee", err)
		return err
	}
	if err := s.intents.DeleteByEmployeeID(ctx, employeeID); err != nil {
		logger.Warn("intent cleanup failed", zap.Uint("employee_id", employeeID), zap.Error(err))
	}

	observePurge("employee", nil)
	s.publishAudit(ctx, AuditEvent{
		Action:     "delete_employee_vectors",
		EmployeeID: employeeID,
		Verified:   verified,
		OccurredAt: time.Now(),
	})
	return nil
}

// purgeByFilter 按过滤条件删除向量点并确认删除生效
func (s *Service) purgeByFilter(ctx context.Context, filter Filter) (bool, error) {
	if err := s.index.DeletePoints(ctx, s.collection, SelectByFilter(filter)); err != nil {
		return false, err
	}

	verified, err := s.index.VerifyDeletion(ctx, s.collection, filter)
	if err != nil {
		return false, err
	}
	if !verified {
		return false, apperrors.NewIndexWriteError("deletion verification failed, points still match filter")
	}
	return true, nil
}

// Info 返回集合统计信息
func (s *Service) Info(ctx context.Context) (CollectionInfo, error) {
	return s.index.CollectionInfo(ctx, s.collection)
}

// KeywordSearch 全文关键字检索，未配置索引器时返回不可用错误
func (s *Service) KeywordSearch(ctx context.Context, query string, employeeID uint, limit int) ([]KeywordMatch, error) {
	if s.fulltext == nil {
		return nil, apperrors.NewNotFoundError("fulltext indexer")
	}
	if limit <= 0 {
		limit = s.limit()
	}
	return s.fulltext.KeywordSearch(ctx, query, employeeID, limit)
}

// ensureCollection 懒初始化集合，维度来自嵌入模型探测
func (s *Service) ensureCollection(ctx context.Context) error {
	dimensions := s.embedder.Dimensions()
	if dimensions <= 0 {
		return apperrors.NewEmbeddingError("embedding dimension probe failed, ingest aborted")
	}

	s.setupMu.Lock()
	defer s.setupMu.Unlock()
	if s.collectionReady {
		return nil
	}
	if err := s.index.SetupCollection(ctx, s.collection, dimensions); err != nil {
		return err
	}
	s.collectionReady = true
	return nil
}

func (s *Service) chunkSize() int {
	s.tunablesMu.RLock()
	defer s.tunablesMu.RUnlock()
	return s.maxChunkSize
}

func (s *Service) limit() int {
	s.tunablesMu.RLock()
	defer s.tunablesMu.RUnlock()
	return s.searchLimit
}

func (s *Service) searchParams(req SearchRequest) (int, float64) {
	s.tunablesMu.RLock()
	defer s.tunablesMu.RUnlock()

	limit := req.Limit
	if limit <= 0 {
		limit = s.searchLimit
	}
	threshold := req.ScoreThreshold
	if threshold <= 0 {
		threshold = s.scoreThreshold
	}
	return limit, threshold
}

func (s *Service) publishAudit(ctx context.Context, event AuditEvent) {
	if s.audit == nil {
		return
	}
	if err := s.audit.PublishAudit(ctx, event); err != nil {
		logger.Warn("audit publish failed", zap.String("action", event.Action), zap.Error(err))
	}
}

// sortResultsByRecency 按报告日期倒序，日期无法解析的排最后
func sortResultsByRecency(results []SearchResult) {
	fallback, _ := time.Parse(models.ReportDateLayout, oldestReportDate)
	parse := func(raw string) time.Time {
		parsed, err := time.Parse(models.ReportDateLayout, raw)
		if err != nil {
			return fallback
		}
		return parsed
	}
	sort.SliceStable(results, func(i, j int) bool {
		return parse(results[i].ReportDate).After(parse(results[j].ReportDate))
	})
}
