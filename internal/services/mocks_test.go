package services

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"gorm.io/gorm"

	"github.com/reporthub/backend-go/internal/config"
	"github.com/reporthub/backend-go/internal/kafka"
	"github.com/reporthub/backend-go/internal/models"
	"github.com/reporthub/backend-go/internal/retrieval"
)

// mockEmployeeRepo 员工仓库mock
type mockEmployeeRepo struct {
	mock.Mock
}

func (m *mockEmployeeRepo) GetDB() *gorm.DB { return nil }

func (m *mockEmployeeRepo) Create(ctx context.Context, employee *models.Employee) error {
	args := m.Called(ctx, employee)
	return args.Error(0)
}

func (m *mockEmployeeRepo) GetByID(ctx context.Context, id uint) (*models.Employee, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Employee), args.Error(1)
}

func (m *mockEmployeeRepo) List(ctx context.Context, wing string, page, limit int) ([]models.Employee, int64, error) {
	args := m.Called(ctx, wing, page, limit)
	var employees []models.Employee
	if args.Get(0) != nil {
		employees = args.Get(0).([]models.Employee)
	}
	return employees, args.Get(1).(int64), args.Error(2)
}

func (m *mockEmployeeRepo) Delete(ctx context.Context, id uint) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// mockReportRepo 报告仓库mock
type mockReportRepo struct {
	mock.Mock
}

func (m *mockReportRepo) GetDB() *gorm.DB { return nil }

func (m *mockReportRepo) Create(ctx context.Context, report *models.Report) error {
	args := m.Called(ctx, report)
	return args.Error(0)
}

func (m *mockReportRepo) GetByID(ctx context.Context, reportID uint) (*models.Report, error) {
	args := m.Called(ctx, reportID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Report), args.Error(1)
}

func (m *mockReportRepo) GetByEmployee(ctx context.Context, employeeID uint) ([]models.Report, error) {
	args := m.Called(ctx, employeeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Report), args.Error(1)
}

func (m *mockReportRepo) GetByEmployeeAndDate(ctx context.Context, employeeID uint, date time.Time) (*models.Report, error) {
	args := m.Called(ctx, employeeID, date)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Report), args.Error(1)
}

func (m *mockReportRepo) Update(ctx context.Context, reportID uint, updates map[string]interface{}) error {
	args := m.Called(ctx, reportID, updates)
	return args.Error(0)
}

func (m *mockReportRepo) Delete(ctx context.Context, reportID uint) error {
	args := m.Called(ctx, reportID)
	return args.Error(0)
}

// mockReportIndexer 向量入库能力mock
type mockReportIndexer struct {
	mock.Mock
}

func (m *mockReportIndexer) Ingest(ctx context.Context, req retrieval.IngestRequest) (retrieval.IngestResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(retrieval.IngestResult), args.Error(1)
}

func (m *mockReportIndexer) GetChunks(ctx context.Context, reportID uint) ([]string, error) {
	args := m.Called(ctx, reportID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockReportIndexer) DeleteReportVectors(ctx context.Context, reportID uint) error {
	args := m.Called(ctx, reportID)
	return args.Error(0)
}

func (m *mockReportIndexer) DeleteEmployeeVectors(ctx context.Context, employeeID uint) error {
	args := m.Called(ctx, employeeID)
	return args.Error(0)
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

// mockVectorIndex 向量索引mock，对账测试只用到RetrievePoint
type mockVectorIndex struct {
	mock.Mock
}

func (m *mockVectorIndex) SetupCollection(ctx context.Context, collection string, dimension int) error {
	args := m.Called(ctx, collection, dimension)
	return args.Error(0)
}

func (m *mockVectorIndex) UpsertPoint(ctx context.Context, collection string, pointID string, vector []float32, payload retrieval.Payload) error {
	args := m.Called(ctx, collection, pointID, vector, payload)
	return args.Error(0)
}

func (m *mockVectorIndex) Search(ctx context.Context, collection string, vector []float32, limit int, filter retrieval.Filter) ([]retrieval.ScoredPoint, error) {
	args := m.Called(ctx, collection, vector, limit, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]retrieval.ScoredPoint), args.Error(1)
}

func (m *mockVectorIndex) RetrievePoint(ctx context.Context, collection string, pointID string) (retrieval.Payload, bool, error) {
	args := m.Called(ctx, collection, pointID)
	var payload retrieval.Payload
	if args.Get(0) != nil {
		payload = args.Get(0).(retrieval.Payload)
	}
	return payload, args.Bool(1), args.Error(2)
}

func (m *mockVectorIndex) DeletePoints(ctx context.Context, collection string, selector retrieval.PointSelector) error {
	args := m.Called(ctx, collection, selector)
	return args.Error(0)
}

func (m *mockVectorIndex) CollectionInfo(ctx context.Context, collection string) (retrieval.CollectionInfo, error) {
	args := m.Called(ctx, collection)
	return args.Get(0).(retrieval.CollectionInfo), args.Error(1)
}

func (m *mockVectorIndex) VerifyDeletion(ctx context.Context, collection string, filter retrieval.Filter) (bool, error) {
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

// mockEventPublisher 对账事件发布mock
type mockEventPublisher struct {
	mock.Mock
}

func (m *mockEventPublisher) PublishAudit(ctx context.Context, event retrieval.AuditEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *mockEventPublisher) PublishOrphan(ctx context.Context, event kafka.OrphanEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// mockIndexQueue 异步入库队列mock
type mockIndexQueue struct {
	mock.Mock
}

func (m *mockIndexQueue) RequestIndexing(ctx context.Context, msg kafka.IndexRequestMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// testServicesConfig 服务测试用配置
func testServicesConfig() *config.Config {
	return &config.Config{
		Retrieval: config.RetrievalConfig{
			CollectionName: "employee_reports",
			MaxChunkSize:   500,
			SearchLimit:    5,
			ScoreThreshold: 0.3,
			AutoIndex:      true,
		},
		FileUpload: config.FileUploadConfig{
			MaxSize: 1024,
		},
		Reconciler: config.ReconcilerConfig{
			Enabled:    true,
			Interval:   1,
			StaleAfter: 300,
			BatchSize:  50,
		},
	}
}
