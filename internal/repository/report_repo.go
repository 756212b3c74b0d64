package repository

import (
	"context"
	"time"

	"github.com/reporthub/backend-go/internal/models"
	"gorm.io/gorm"
)

// reportRepository 报告仓库实现
type reportRepository struct {
	db *gorm.DB
}

// NewReportRepository 创建报告仓库
func NewReportRepository(db *gorm.DB) ReportRepository {
	return &reportRepository{db: db}
}

// GetDB 获取数据库连接
func (r *reportRepository) GetDB() *gorm.DB {
	return r.db
}

// Create 创建报告，同一员工同一天的重复报告会触发唯一约束错误
func (r *reportRepository) Create(ctx context.Context, report *models.Report) error {
	return r.db.WithContext(ctx).Create(report).Error
}

// GetByID 根据ID获取报告
func (r *reportRepository) GetByID(ctx context.Context, reportID uint) (*models.Report, error) {
	var report models.Report
	err := r.db.WithContext(ctx).Where("report_id = ?", reportID).First(&report).Error
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// GetByEmployee 获取员工的全部报告，按日期倒序
func (r *reportRepository) GetByEmployee(ctx context.Context, employeeID uint) ([]models.Report, error) {
	var reports []models.Report
	err := r.db.WithContext(ctx).
		Where("employee_id = ?", employeeID).
		Order("report_date DESC").
		Find(&reports).Error
	if err != nil {
		return nil, err
	}
	return reports, nil
}

// GetByEmployeeAndDate 获取员工某天的报告
func (r *reportRepository) GetByEmployeeAndDate(ctx context.Context, employeeID uint, date time.Time) (*models.Report, error) {
	var report models.Report
	err := r.db.WithContext(ctx).
		Where("employee_id = ? AND report_date = ?", employeeID, date.Format(models.ReportDateLayout)).
		First(&report).Error
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// Update 更新报告字段
func (r *reportRepository) Update(ctx context.Context, reportID uint, updates map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&models.Report{}).
		Where("report_id = ?", reportID).
		Updates(updates).Error
}

// Delete 删除报告
func (r *reportRepository) Delete(ctx context.Context, reportID uint) error {
	return r.db.WithContext(ctx).Where("report_id = ?", reportID).Delete(&models.Report{}).Error
}
