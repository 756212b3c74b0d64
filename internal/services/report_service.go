package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
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
	"github.com/reporthub/backend-go/internal/storage"
)

// IndexRequester 异步入库请求入口，kafka可用时由Producer实现
type IndexRequester interface {
	RequestIndexing(ctx context.Context, msg kafka.IndexRequestMessage) error
}

// ReportIndexer 报告向量的入库与清理能力，由retrieval.Service实现
type ReportIndexer interface {
	Ingest(ctx context.Context, req retrieval.IngestRequest) (retrieval.IngestResult, error)
	GetChunks(ctx context.Context, reportID uint) ([]string, error)
	DeleteReportVectors(ctx context.Context, reportID uint) error
	DeleteEmployeeVectors(ctx context.Context, employeeID uint) error
}

// ReportService 报告服务，编排报告读写、归档与向量入库
type ReportService struct {
	reports   repository.ReportRepository
	employees repository.EmployeeRepository
	retrieval ReportIndexer
	parsers   *retrieval.FileParserManager

	autoIndex bool
	maxUpload int64

	// 可选依赖，通过Set方法注入
	archiver   *storage.Archiver
	indexQueue IndexRequester
}

// NewReportService 创建报告服务实例
func NewReportService(
	cfg *config.Config,
	reports repository.ReportRepository,
	employees repository.EmployeeRepository,
	indexer ReportIndexer,
) *ReportService {
	s := &ReportService{
		reports:   reports,
		employees: employees,
		retrieval: indexer,
		parsers:   retrieval.NewFileParserManager(),
	}
	if cfg != nil {
		s.autoIndex = cfg.Retrieval.AutoIndex
		s.maxUpload = cfg.FileUpload.MaxSize
	}
	if s.maxUpload <= 0 {
		s.maxUpload = 15 * 1024 * 1024
	}
	return s
}

// SetArchiver 注入可选的对象存储归档器
func (s *ReportService) SetArchiver(archiver *storage.Archiver) {
	s.archiver = archiver
}

// SetIndexQueue 注入可选的异步入库队列
func (s *ReportService) SetIndexQueue(queue IndexRequester) {
	s.indexQueue = queue
}

// CreateReportRequest 创建报告请求
type CreateReportRequest struct {
	EmployeeID uint   `json:"employee_id"`
	ReportDate string `json:"report_date"`
	ReportText string `json:"report_text"`
}

// UploadReportRequest 上传报告文件请求
type UploadReportRequest struct {
	EmployeeID uint
	ReportDate string
	Filename   string
	Size       int64
	File       io.Reader
}

// CreateReport 创建报告并归档、入库
//
// 同一员工同一天只允许一条报告。行落库后归档与向量入库均为尽力而为，
// 失败只记日志，可通过索引接口重新入库。
func (s *ReportService) CreateReport(ctx context.Context, req CreateReportRequest) (*models.Report, error) {
	if strings.TrimSpace(req.ReportText) == "" {
		return nil, apperrors.NewInvalidInputError("report_text", "must not be empty")
	}

	date, err := time.Parse(models.ReportDateLayout, req.ReportDate)
	if err != nil {
		return nil, apperrors.NewInvalidInputError("report_date", "must match format "+models.ReportDateLayout)
	}

	if _, err := s.employees.GetByID(ctx, req.EmployeeID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFoundError("employee")
		}
		return nil, err
	}

	if _, err := s.reports.GetByEmployeeAndDate(ctx, req.EmployeeID, date); err == nil {
		return nil, apperrors.NewBusinessError(apperrors.ErrCodeDuplicateReport,
			"report already exists for this employee and date")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	report := &models.Report{
		EmployeeID: req.EmployeeID,
		ReportDate: date,
		ReportText: req.ReportText,
	}
	if err := s.reports.Create(ctx, report); err != nil {
		// 并发创建可能越过上面的存在性检查，靠唯一索引兜底
		if apperrors.IsDuplicateKey(err) {
			return nil, apperrors.NewBusinessError(apperrors.ErrCodeDuplicateReport,
				"report already exists for this employee and date")
		}
		return nil, err
	}

	s.archiveText(ctx, report)
	s.autoIndexReport(ctx, report)

	logger.Info("report created",
		zap.Uint("report_id", report.ReportID),
		zap.Uint("employee_id", report.EmployeeID),
		zap.String("report_date", report.DateString()))
	return report, nil
}

// GetReport 获取单个报告
func (s *ReportService) GetReport(ctx context.Context, reportID uint) (*models.Report, error) {
	report, err := s.reports.GetByID(ctx, reportID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFoundError("report")
		}
		return nil, err
	}
	return report, nil
}

// ListByEmployee 获取员工的全部报告，按日期倒序
func (s *ReportService) ListByEmployee(ctx context.Context, employeeID uint) ([]models.Report, error) {
	if _, err := s.employees.GetByID(ctx, employeeID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFoundError("employee")
		}
		return nil, err
	}
	return s.reports.GetByEmployee(ctx, employeeID)
}

// UploadReport 解析上传文件并走创建报告流程，原始文件另行归档
func (s *ReportService) UploadReport(ctx context.Context, req UploadReportRequest) (*models.Report, error) {
	if req.File == nil {
		return nil, apperrors.NewInvalidInputError("file", "must not be empty")
	}
	if req.Size > s.maxUpload {
		return nil, apperrors.NewBusinessError(apperrors.ErrCodeFileTooLarge,
			fmt.Sprintf("file exceeds the %d byte upload limit", s.maxUpload))
	}

	data, err := io.ReadAll(io.LimitReader(req.File, s.maxUpload+1))
	if err != nil {
		return nil, apperrors.NewBusinessError(apperrors.ErrCodeUploadFailed, "failed to read uploaded file").WithCause(err)
	}
	if int64(len(data)) > s.maxUpload {
		return nil, apperrors.NewBusinessError(apperrors.ErrCodeFileTooLarge,
			fmt.Sprintf("file exceeds the %d byte upload limit", s.maxUpload))
	}

	text, err := s.parsers.ParseFile(bytes.NewReader(data), req.Filename)
	if err != nil {
		return nil, apperrors.NewBusinessError(apperrors.ErrCodeInvalidFileFormat, err.Error()).WithCause(err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.NewInvalidInputError("file", "no extractable text in uploaded file")
	}

	report, err := s.CreateReport(ctx, CreateReportRequest{
		EmployeeID: req.EmployeeID,
		ReportDate: req.ReportDate,
		ReportText: text,
	})
	if err != nil {
		return nil, err
	}

	if s.archiver != nil {
		if err := s.archiver.ArchiveUpload(ctx, report.EmployeeID, report.ReportID, req.Filename, data, ""); err != nil {
			logger.Warn("upload archive failed",
				zap.Uint("report_id", report.ReportID),
				zap.String("filename", req.Filename),
				zap.Error(err))
		}
	}

	return report, nil
}

// IndexReport 将已有报告入库到向量索引
func (s *ReportService) IndexReport(ctx context.Context, reportID uint) (retrieval.IngestResult, error) {
	report, err := s.GetReport(ctx, reportID)
	if err != nil {
		return retrieval.IngestResult{}, err
	}

	return s.retrieval.Ingest(ctx, retrieval.IngestRequest{
		ReportID:   report.ReportID,
		EmployeeID: report.EmployeeID,
		ReportDate: report.DateString(),
		Text:       report.ReportText,
	})
}

// GetReportChunks 获取报告的有序分块文本
func (s *ReportService) GetReportChunks(ctx context.Context, reportID uint) ([]string, error) {
	if _, err := s.GetReport(ctx, reportID); err != nil {
		return nil, err
	}
	return s.retrieval.GetChunks(ctx, reportID)
}

// DeleteReportVectors 删除报告的向量点并校验
func (s *ReportService) DeleteReportVectors(ctx context.Context, reportID uint) error {
	if _, err := s.GetReport(ctx, reportID); err != nil {
		return err
	}
	return s.retrieval.DeleteReportVectors(ctx, reportID)
}

// DeleteReport 删除报告行及其向量与归档
//
// 先清理向量索引，再删数据库行，最后尽力清理归档。
func (s *ReportService) DeleteReport(ctx context.Context, reportID uint) error {
	report, err := s.GetReport(ctx, reportID)
	if err != nil {
		return err
	}

	if err := s.retrieval.DeleteReportVectors(ctx, reportID); err != nil {
		return err
	}

	if err := s.reports.Delete(ctx, reportID); err != nil {
		return err
	}

	if s.archiver != nil {
		if err := s.archiver.DeleteReportArchive(ctx, report.EmployeeID, report.ReportID); err != nil {
			logger.Warn("report archive cleanup failed",
				zap.Uint("report_id", reportID), zap.Error(err))
		}
	}

	logger.Info("report deleted", zap.Uint("report_id", reportID))
	return nil
}

// archiveText 归档报告正文，失败只记日志
func (s *ReportService) archiveText(ctx context.Context, report *models.Report) {
	if s.archiver == nil {
		return
	}
	if err := s.archiver.ArchiveReportText(ctx, report.EmployeeID, report.ReportID, report.ReportText); err != nil {
		logger.Warn("report text archive failed",
			zap.Uint("report_id", report.ReportID), zap.Error(err))
	}
}

// autoIndexReport 按配置自动入库，kafka可用时走异步队列
func (s *ReportService) autoIndexReport(ctx context.Context, report *models.Report) {
	if !s.autoIndex {
		return
	}

	if s.indexQueue != nil {
		err := s.indexQueue.RequestIndexing(ctx, kafka.IndexRequestMessage{
			ReportID: report.ReportID,
			Action:   kafka.IndexActionIndex,
		})
		if err == nil {
			return
		}
		logger.Warn("async index request failed, indexing synchronously",
			zap.Uint("report_id", report.ReportID), zap.Error(err))
	}

	result, err := s.retrieval.Ingest(ctx, retrieval.IngestRequest{
		ReportID:   report.ReportID,
		EmployeeID: report.EmployeeID,
		ReportDate: report.DateString(),
		Text:       report.ReportText,
	})
	if err != nil {
		logger.Warn("auto index failed",
			zap.Uint("report_id", report.ReportID), zap.Error(err))
		return
	}
	if len(result.Skipped) > 0 {
		logger.Warn("auto index completed with skipped chunks",
			zap.Uint("report_id", report.ReportID),
			zap.Int("attempted", result.Attempted),
			zap.Int("succeeded", result.Succeeded),
			zap.Int("skipped", len(result.Skipped)))
	}
}
