package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/reporthub/backend-go/internal/config"
	apperrors "github.com/reporthub/backend-go/internal/errors"
	"github.com/reporthub/backend-go/internal/models"
)

// mockVectorIndex 向量索引mock
type mockVectorIndex struct {
	mock.Mock
}

func (m *mockVectorIndex) SetupCollection(ctx context.Context, collection string, dimension int) error {
	args := m.Called(ctx, collection, dimension)
	return args.Error(0)
}

func (m *mockVectorIndex) UpsertPoint(ctx context.Context, collection string, pointID string, vector []float32, payload Payload) error {
	args := m.Called(ctx, collection, pointID, vector, payload)
	return args.Error(0)
}

func (m *mockVectorIndex) Search(ctx context.Context, collection string, vector []float32, limit int, filter Filter) ([]ScoredPoint, error) {
	args := m.Called(ctx, collection, vector, limit, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ScoredPoint), args.Error(1)
}

func (m *mockVectorIndex) RetrievePoint(ctx context.Context, collection string, pointID string) (Payload, bool, error) {
	args := m.Called(ctx, collection, pointID)
	var payload Payload
	if args.Get(0) != nil {
		payload = args.Get(0).(Payload)
	}
	return payload, args.Bool(1), args.Error(2)
}

func (m *mockVectorIndex) DeletePoints(ctx context.Context, collection string, selector PointSelector) error {
	args := m.Called(ctx, collection, selector)
	return args.Error(0)
}

func (m *mockVectorIndex) CollectionInfo(ctx context.Context, collection string) (CollectionInfo, error) {
	args := m.Called(ctx, collection)
	return args.Get(0).(CollectionInfo), args.Error(1)
}

func (m *mockVectorIndex) VerifyDeletion(ctx context.Context, collection string, filter Filter) (bool, error) {
	args := m.Called(ctx, collection, filter)
	return args.Bool(0), args.Error(1)
}

func (m *mockVectorIndex) Ready() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *mockVectorIndex) Close() error {
	args := m.Called()
	return args.Error(0)
}

// mockEmbedder 嵌入器mock
type mockEmbedder struct {
	mock.Mock
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

func (m *mockEmbedder) Dimensions() int {
	args := m.Called()
	return args.Int(0)
}

func (m *mockEmbedder) ModelName() string {
	args := m.Called()
	return args.String(0)
}

func (m *mockEmbedder) Ready() bool {
	args := m.Called()
	return args.Bool(0)
}

// mockMappingRepo 映射仓库mock
type mockMappingRepo struct {
	mock.Mock
}

func (m *mockMappingRepo) GetDB() *gorm.DB { return nil }

func (m *mockMappingRepo) Create(ctx context.Context, mapping *models.VectorMapping) error {
	args := m.Called(ctx, mapping)
	return args.Error(0)
}

func (m *mockMappingRepo) GetByReportID(ctx context.Context, reportID uint) ([]models.VectorMapping, error) {
	args := m.Called(ctx, reportID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.VectorMapping), args.Error(1)
}

func (m *mockMappingRepo) GetByPointID(ctx context.Context, pointID string) (*models.VectorMapping, error) {
	args := m.Called(ctx, pointID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.VectorMapping), args.Error(1)
}

func (m *mockMappingRepo) CountByReportID(ctx context.Context, reportID uint) (int64, error) {
	args := m.Called(ctx, reportID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockMappingRepo) DeleteByReportID(ctx context.Context, reportID uint) error {
	args := m.Called(ctx, reportID)
	return args.Error(0)
}

func (m *mockMappingRepo) DeleteByEmployeeID(ctx context.Context, employeeID uint) error {
	args := m.Called(ctx, employeeID)
	return args.Error(0)
}

// mockIntentRepo 写入意图仓库mock
type mockIntentRepo struct {
	mock.Mock
}

func (m *mockIntentRepo) GetDB() *gorm.DB { return nil }

func (m *mockIntentRepo) Create(ctx context.Context, intent *models.IngestIntent) error {
	args := m.Called(ctx, intent)
	return args.Error(0)
}

func (m *mockIntentRepo) MarkComplete(ctx context.Context, pointID string) error {
	args := m.Called(ctx, pointID)
	return args.Error(0)
}

func (m *mockIntentRepo) MarkOrphaned(ctx context.Context, pointID string) error {
	args := m.Called(ctx, pointID)
	return args.Error(0)
}

func (m *mockIntentRepo) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.IngestIntent, error) {
	args := m.Called(ctx, cutoff, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.IngestIntent), args.Error(1)
}

func (m *mockIntentRepo) DeleteByReportID(ctx context.Context, reportID uint) error {
	args := m.Called(ctx, reportID)
	return args.Error(0)
}

func (m *mockIntentRepo) DeleteByEmployeeID(ctx context.Context, employeeID uint) error {
	args := m.Called(ctx, employeeID)
	return args.Error(0)
}

// stubChunkCache 进程内缓存桩
type stubChunkCache struct {
	chunks      map[uint][]string
	sets        int
	invalidated []uint
}

func newStubChunkCache() *stubChunkCache {
	return &stubChunkCache{chunks: make(map[uint][]string)}
}

func (c *stubChunkCache) GetChunks(ctx context.Context, reportID uint) ([]string, bool) {
	chunks, ok := c.chunks[reportID]
	return chunks, ok
}

func (c *stubChunkCache) SetChunks(ctx context.Context, reportID uint, chunks []string) {
	c.chunks[reportID] = chunks
	c.sets++
}

func (c *stubChunkCache) Invalidate(ctx context.Context, reportID uint) {
	delete(c.chunks, reportID)
	c.invalidated = append(c.invalidated, reportID)
}

// stubAuditPublisher 审计事件桩
type stubAuditPublisher struct {
	events []AuditEvent
}

func (p *stubAuditPublisher) PublishAudit(ctx context.Context, event AuditEvent) error {
	p.events = append(p.events, event)
	return nil
}

func testRetrievalConfig() config.RetrievalConfig {
	return config.RetrievalConfig{
		CollectionName: "employee_reports",
		MaxChunkSize:   50,
		SearchLimit:    5,
		ScoreThreshold: 0.3,
	}
}

func newTestService(t *testing.T) (*Service, *mockVectorIndex, *mockEmbedder, *mockMappingRepo, *mockIntentRepo) {
	t.Helper()
	index := new(mockVectorIndex)
	embedder := new(mockEmbedder)
	mappings := new(mockMappingRepo)
	intents := new(mockIntentRepo)
	service := NewService(testRetrievalConfig(), index, embedder, mappings, intents)
	return service, index, embedder, mappings, intents
}

func TestIngestHappyPath(t *testing.T) {
	service, index, embedder, mappings, intents := newTestService(t)
	audit := &stubAuditPublisher{}
	service.SetAuditPublisher(audit)

	text := strings.Repeat("x", 80) // 50字符限制下切成两块
	chunks := SplitText(text, 50)
	require.Len(t, chunks, 2)

	embedder.On("Dimensions").Return(3)
	index.On("SetupCollection", mock.Anything, "employee_reports", 3).Return(nil).Once()

	vector := []float32{0.1, 0.2, 0.3}
	for _, chunk := range chunks {
		embedder.On("Embed", mock.Anything, chunk).Return(vector, nil).Once()
	}
	intents.On("Create", mock.Anything, mock.MatchedBy(func(intent *models.IngestIntent) bool {
		return intent.ReportID == 7 && intent.Status == models.IntentStatusPending && intent.PointID != ""
	})).Return(nil).Twice()
	index.On("UpsertPoint", mock.Anything, "employee_reports", mock.Anything, vector,
		mock.MatchedBy(func(payload Payload) bool {
			return payload.UintField(PayloadKeyReportID) == 7 &&
				payload.UintField(PayloadKeyEmployeeID) == 42 &&
				payload.ReportDate() == "2024-03-01" &&
				payload.Text() != ""
		})).Return(nil).Twice()
	mappings.On("Create", mock.Anything, mock.MatchedBy(func(mapping *models.VectorMapping) bool {
		return mapping.ReportID == 7 && mapping.PointID != ""
	})).Return(nil).Twice()
	intents.On("MarkComplete", mock.Anything, mock.Anything).Return(nil).Twice()

	result, err := service.Ingest(context.Background(), IngestRequest{
		ReportID:   7,
		EmployeeID: 42,
		ReportDate: "2024-03-01",
		Text:       text,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Attempted)
	assert.Equal(t, 2, result.Succeeded)
	assert.Empty(t, result.Skipped)

	require.Len(t, audit.events, 1)
	assert.Equal(t, "ingest", audit.events[0].Action)
	assert.Equal(t, 2, audit.events[0].Succeeded)

	index.AssertExpectations(t)
	embedder.AssertExpectations(t)
	mappings.AssertExpectations(t)
	intents.AssertExpectations(t)
}

func TestIngestZeroChunks(t *testing.T) {
	service, index, embedder, _, _ := newTestService(t)

	embedder.On("Dimensions").Return(3)
	index.On("SetupCollection", mock.Anything, "employee_reports", 3).Return(nil).Once()

	result, err := service.Ingest(context.Background(), IngestRequest{
		ReportID: 7, EmployeeID: 42, ReportDate: "2024-03-01", Text: "   ",
	})
	require.NoError(t, err)
	assert.Zero(t, result.Attempted)
	assert.Zero(t, result.Succeeded)

	index.AssertNotCalled(t, "UpsertPoint", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestIngestAbortsWhenProbeFails(t *testing.T) {
	service, index, embedder, _, intents := newTestService(t)

	// 维度探测失败时不能建集合，也不能写任何分块
	embedder.On("Dimensions").Return(0)

	_, err := service.Ingest(context.Background(), IngestRequest{
		ReportID: 7, EmployeeID: 42, ReportDate: "2024-03-01", Text: "some report text",
	})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeEmbedding))

	index.AssertNotCalled(t, "SetupCollection", mock.Anything, mock.Anything, mock.Anything)
	intents.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestIngestAbortsWhenSetupFails(t *testing.T) {
	service, index, embedder, _, intents := newTestService(t)

	embedder.On("Dimensions").Return(3)
	index.On("SetupCollection", mock.Anything, "employee_reports", 3).
		Return(apperrors.NewIndexWriteError("qdrant unavailable"))

	_, err := service.Ingest(context.Background(), IngestRequest{
		ReportID: 7, EmployeeID: 42, ReportDate: "2024-03-01", Text: "some report text",
	})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeIndexWrite))
	intents.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestIngestSkipsFailingChunk(t *testing.T) {
	service, index, embedder, mappings, intents := newTestService(t)

	text := strings.Repeat("x", 80)
	chunks := SplitText(text, 50)
	require.Len(t, chunks, 2)

	embedder.On("Dimensions").Return(3)
	index.On("SetupCollection", mock.Anything, "employee_reports", 3).Return(nil).Once()
	intents.On("Create", mock.Anything, mock.Anything).Return(nil).Twice()

	// 第一块嵌入失败，第二块正常
	embedder.On("Embed", mock.Anything, chunks[0]).
		Return(nil, apperrors.NewEmbeddingError("model unavailable")).Once()
	embedder.On("Embed", mock.Anything, chunks[1]).
		Return([]float32{1, 0, 0}, nil).Once()
	intents.On("MarkOrphaned", mock.Anything, mock.Anything).Return(nil).Once()

	index.On("UpsertPoint", mock.Anything, "employee_reports", mock.Anything, mock.Anything, mock.Anything).
		Return(nil).Once()
	mappings.On("Create", mock.Anything, mock.Anything).Return(nil).Once()
	intents.On("MarkComplete", mock.Anything, mock.Anything).Return(nil).Once()

	result, err := service.Ingest(context.Background(), IngestRequest{
		ReportID: 7, EmployeeID: 42, ReportDate: "2024-03-01", Text: text,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Attempted)
	assert.Equal(t, 1, result.Succeeded)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, 0, result.Skipped[0].Index)
	assert.Contains(t, result.Skipped[0].Reason, "embed failed")

	intents.AssertExpectations(t)
}

func TestIngestMappingFailureLeavesIntentPending(t *testing.T) {
	service, index, embedder, mappings, intents := newTestService(t)

	text := "short report"
	embedder.On("Dimensions").Return(3)
	index.On("SetupCollection", mock.Anything, "employee_reports", 3).Return(nil).Once()
	intents.On("Create", mock.Anything, mock.Anything).Return(nil).Once()
	embedder.On("Embed", mock.Anything, text).Return([]float32{1, 0, 0}, nil).Once()
	index.On("UpsertPoint", mock.Anything, "employee_reports", mock.Anything, mock.Anything, mock.Anything).
		Return(nil).Once()
	mappings.On("Create", mock.Anything, mock.Anything).
		Return(assert.AnError).Once()

	result, err := service.Ingest(context.Background(), IngestRequest{
		ReportID: 7, EmployeeID: 42, ReportDate: "2024-03-01", Text: text,
	})
	require.NoError(t, err)
	assert.Zero(t, result.Succeeded)
	require.Len(t, result.Skipped, 1)
	assert.Contains(t, result.Skipped[0].Reason, "mapping write failed")

	// 意图留在pending，既不完成也不标孤儿，交给对账任务
	intents.AssertNotCalled(t, "MarkComplete", mock.Anything, mock.Anything)
	intents.AssertNotCalled(t, "MarkOrphaned", mock.Anything, mock.Anything)
}

func TestSearchFiltersAndSorts(t *testing.T) {
	service, index, embedder, _, _ := newTestService(t)

	vector := []float32{0.5, 0.5}
	embedder.On("Embed", mock.Anything, "what did the team ship").Return(vector, nil).Once()

	scopeFilter := NewEqualsFilter(PayloadKeyEmployeeID, uint(42))
	index.On("Search", mock.Anything, "employee_reports", vector, 5, scopeFilter).
		Return([]ScoredPoint{
			{ID: "old", Score: 0.9, Payload: Payload{
				PayloadKeyReportID: float64(1), PayloadKeyEmployeeID: float64(42),
				PayloadKeyReportDate: "2024-03-05", PayloadKeyText: "older chunk",
			}},
			{ID: "new", Score: 0.5, Payload: Payload{
				PayloadKeyReportID: float64(2), PayloadKeyEmployeeID: float64(42),
				PayloadKeyReportDate: "2024-03-10", PayloadKeyText: "newer chunk",
			}},
			{ID: "weak", Score: 0.2, Payload: Payload{
				PayloadKeyReportID: float64(3), PayloadKeyEmployeeID: float64(42),
				PayloadKeyReportDate: "2024-03-11", PayloadKeyText: "below threshold",
			}},
		}, nil).Once()

	results, err := service.Search(context.Background(), SearchRequest{
		Query:      "what did the team ship",
		EmployeeID: 42,
	})
	require.NoError(t, err)

	// 阈值0.3过滤掉weak，剩余按日期倒序
	require.Len(t, results, 2)
	assert.Equal(t, "new", results[0].PointID)
	assert.Equal(t, "2024-03-10", results[0].ReportDate)
	assert.Equal(t, "old", results[1].PointID)

	index.AssertExpectations(t)
}

func TestSearchBypassThreshold(t *testing.T) {
	service, index, embedder, _, _ := newTestService(t)

	vector := []float32{0.5, 0.5}
	embedder.On("Embed", mock.Anything, "query").Return(vector, nil).Once()
	index.On("Search", mock.Anything, "employee_reports", vector, 5, mock.Anything).
		Return([]ScoredPoint{
			{ID: "weak", Score: 0.05, Payload: Payload{PayloadKeyReportDate: "2024-03-01"}},
		}, nil).Once()

	results, err := service.Search(context.Background(), SearchRequest{
		Query: "query", EmployeeID: 42, BypassThreshold: true,
	})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSearchEmptyQueryShortCircuits(t *testing.T) {
	service, index, embedder, _, _ := newTestService(t)

	results, err := service.Search(context.Background(), SearchRequest{Query: "   ", EmployeeID: 42})
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)

	embedder.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything)
	index.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSearchDegradesOnEmbedFailure(t *testing.T) {
	service, index, embedder, _, _ := newTestService(t)

	embedder.On("Embed", mock.Anything, "query").
		Return(nil, apperrors.NewEmbeddingError("ollama down")).Once()

	results, err := service.Search(context.Background(), SearchRequest{Query: "query", EmployeeID: 42})
	require.NoError(t, err)
	assert.Empty(t, results)
	index.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSearchDegradesOnIndexFailure(t *testing.T) {
	service, index, embedder, _, _ := newTestService(t)

	embedder.On("Embed", mock.Anything, "query").Return([]float32{1}, nil).Once()
	index.On("Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, apperrors.NewIndexReadError("backend unavailable")).Once()

	results, err := service.Search(context.Background(), SearchRequest{Query: "query", EmployeeID: 42})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchUnparseableDateRanksOldest(t *testing.T) {
	service, index, embedder, _, _ := newTestService(t)

	embedder.On("Embed", mock.Anything, "query").Return([]float32{1}, nil).Once()
	index.On("Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]ScoredPoint{
			{ID: "no-date", Score: 0.9, Payload: Payload{PayloadKeyText: "missing date"}},
			{ID: "dated", Score: 0.8, Payload: Payload{
				PayloadKeyReportDate: "2024-01-01", PayloadKeyText: "dated chunk",
			}},
		}, nil).Once()

	results, err := service.Search(context.Background(), SearchRequest{Query: "query", EmployeeID: 42})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "dated", results[0].PointID)
	assert.Equal(t, "no-date", results[1].PointID)
}

func TestSearchAppliesUpdatedTunables(t *testing.T) {
	service, index, embedder, _, _ := newTestService(t)
	service.UpdateTunables(100, 10, 0.6)

	embedder.On("Embed", mock.Anything, "query").Return([]float32{1}, nil).Once()
	index.On("Search", mock.Anything, "employee_reports", mock.Anything, 10, mock.Anything).
		Return([]ScoredPoint{
			{ID: "mid", Score: 0.5, Payload: Payload{PayloadKeyReportDate: "2024-03-01"}},
			{ID: "high", Score: 0.7, Payload: Payload{PayloadKeyReportDate: "2024-03-02"}},
		}, nil).Once()

	results, err := service.Search(context.Background(), SearchRequest{Query: "query", EmployeeID: 42})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "high", results[0].PointID)
}

func TestGetChunksOrderedWithMissingPoints(t *testing.T) {
	service, index, _, mappings, _ := newTestService(t)

	mappings.On("GetByReportID", mock.Anything, uint(7)).Return([]models.VectorMapping{
		{PointID: "p-0", ReportID: 7, ChunkIndex: 0},
		{PointID: "p-1", ReportID: 7, ChunkIndex: 1},
		{PointID: "p-2", ReportID: 7, ChunkIndex: 2},
	}, nil).Once()

	index.On("RetrievePoint", mock.Anything, "employee_reports", "p-0").
		Return(Payload{PayloadKeyText: "first"}, true, nil).Once()
	index.On("RetrievePoint", mock.Anything, "employee_reports", "p-1").
		Return(nil, false, nil).Once()
	index.On("RetrievePoint", mock.Anything, "employee_reports", "p-2").
		Return(Payload{PayloadKeyText: "third"}, true, nil).Once()

	chunks, err := service.GetChunks(context.Background(), 7)
	require.NoError(t, err)

	// 取不到的点被跳过，顺序保持chunk_index升序
	assert.Equal(t, []string{"first", "third"}, chunks)
}

func TestGetChunksUnknownReport(t *testing.T) {
	service, index, _, mappings, _ := newTestService(t)

	mappings.On("GetByReportID", mock.Anything, uint(999)).
		Return([]models.VectorMapping{}, nil).Once()

	chunks, err := service.GetChunks(context.Background(), 999)
	require.NoError(t, err)
	assert.Empty(t, chunks)
	index.AssertNotCalled(t, "RetrievePoint", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetChunksMappingStoreFailureReturnsEmpty(t *testing.T) {
	service, index, _, mappings, _ := newTestService(t)

	mappings.On("GetByReportID", mock.Anything, uint(7)).
		Return(nil, errors.New("connection refused")).Once()

	// 映射表读失败与检索降级同策略：记日志、给空结果，不把存储错误抛给调用方
	chunks, err := service.GetChunks(context.Background(), 7)
	require.NoError(t, err)
	assert.Empty(t, chunks)
	index.AssertNotCalled(t, "RetrievePoint", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetChunksUsesCache(t *testing.T) {
	service, index, _, mappings, _ := newTestService(t)
	cache := newStubChunkCache()
	service.SetChunkCache(cache)

	mappings.On("GetByReportID", mock.Anything, uint(7)).Return([]models.VectorMapping{
		{PointID: "p-0", ReportID: 7, ChunkIndex: 0},
	}, nil).Once()
	index.On("RetrievePoint", mock.Anything, "employee_reports", "p-0").
		Return(Payload{PayloadKeyText: "cached soon"}, true, nil).Once()

	first, err := service.GetChunks(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, []string{"cached soon"}, first)
	assert.Equal(t, 1, cache.sets)

	// 第二次命中缓存，不再访问仓库与索引
	second, err := service.GetChunks(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	mappings.AssertNumberOfCalls(t, "GetByReportID", 1)
}

func TestDeleteReportVectorsVerifies(t *testing.T) {
	service, index, _, mappings, intents := newTestService(t)
	audit := &stubAuditPublisher{}
	service.SetAuditPublisher(audit)

	filter := NewEqualsFilter(PayloadKeyReportID, uint(7))
	index.On("DeletePoints", mock.Anything, "employee_reports", SelectByFilter(filter)).Return(nil).Once()
	index.On("VerifyDeletion", mock.Anything, "employee_reports", filter).Return(true, nil).Once()
	mappings.On("DeleteByReportID", mock.Anything, uint(7)).Return(nil).Once()
	intents.On("DeleteByReportID", mock.Anything, uint(7)).Return(nil).Once()

	require.NoError(t, service.DeleteReportVectors(context.Background(), 7))

	require.Len(t, audit.events, 1)
	assert.Equal(t, "delete_report_vectors", audit.events[0].Action)
	assert.True(t, audit.events[0].Verified)

	index.AssertExpectations(t)
	mappings.AssertExpectations(t)
}

func TestDeleteReportVectorsFailsWhenNotVerified(t *testing.T) {
	service, index, _, mappings, _ := newTestService(t)

	index.On("DeletePoints", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	index.On("VerifyDeletion", mock.Anything, mock.Anything, mock.Anything).Return(false, nil).Once()

	err := service.DeleteReportVectors(context.Background(), 7)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeIndexWrite))

	// 校验失败时不能清理映射，否则点变成不可追踪的孤儿
	mappings.AssertNotCalled(t, "DeleteByReportID", mock.Anything, mock.Anything)
}

func TestDeleteEmployeeVectors(t *testing.T) {
	service, index, _, mappings, intents := newTestService(t)

	filter := NewEqualsFilter(PayloadKeyEmployeeID, uint(42))
	index.On("DeletePoints", mock.Anything, "employee_reports", SelectByFilter(filter)).Return(nil).Once()
	index.On("VerifyDeletion", mock.Anything, "employee_reports", filter).Return(true, nil).Once()
	mappings.On("DeleteByEmployeeID", mock.Anything, uint(42)).Return(nil).Once()
	intents.On("DeleteByEmployeeID", mock.Anything, uint(42)).Return(nil).Once()

	require.NoError(t, service.DeleteEmployeeVectors(context.Background(), 42))
	index.AssertExpectations(t)
	mappings.AssertExpectations(t)
	intents.AssertExpectations(t)
}

func TestKeywordSearchWithoutIndexer(t *testing.T) {
	service, _, _, _, _ := newTestService(t)

	_, err := service.KeywordSearch(context.Background(), "query", 42, 5)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeResourceNotFound))
}

func TestIngestInvalidatesChunkCache(t *testing.T) {
	service, index, embedder, mappings, intents := newTestService(t)
	cache := newStubChunkCache()
	cache.chunks[7] = []string{"stale"}
	service.SetChunkCache(cache)

	embedder.On("Dimensions").Return(3)
	index.On("SetupCollection", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	intents.On("Create", mock.Anything, mock.Anything).Return(nil)
	embedder.On("Embed", mock.Anything, mock.Anything).Return([]float32{1}, nil)
	index.On("UpsertPoint", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	mappings.On("Create", mock.Anything, mock.Anything).Return(nil)
	intents.On("MarkComplete", mock.Anything, mock.Anything).Return(nil)

	_, err := service.Ingest(context.Background(), IngestRequest{
		ReportID: 7, EmployeeID: 42, ReportDate: "2024-03-01", Text: "fresh report",
	})
	require.NoError(t, err)

	_, stillCached := cache.chunks[7]
	assert.False(t, stillCached, "stale chunks must be invalidated after ingest")
}
