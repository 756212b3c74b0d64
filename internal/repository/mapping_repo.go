package repository

import (
	"context"

	"github.com/reporthub/backend-go/internal/models"
	"gorm.io/gorm"
)

// mappingRepository 向量映射仓库实现
type mappingRepository struct {
	db *gorm.DB
}

// NewMappingRepository 创建向量映射仓库
func NewMappingRepository(db *gorm.DB) MappingRepository {
	return &mappingRepository{db: db}
}

// GetDB 获取数据库连接
func (r *mappingRepository) GetDB() *gorm.DB {
	return r.db
}

// Create 写入映射行，重复point_id触发唯一约束错误
func (r *mappingRepository) Create(ctx context.Context, mapping *models.VectorMapping) error {
	return r.db.WithContext(ctx).Create(mapping).Error
}

// GetByReportID 获取报告的全部映射行，按chunk_index升序
func (r *mappingRepository) GetByReportID(ctx context.Context, reportID uint) ([]models.VectorMapping, error) {
	var mappings []models.VectorMapping
	err := r.db.WithContext(ctx).
		Where("report_id = ?", reportID).
		Order("chunk_index ASC").
		Find(&mappings).Error
	if err != nil {
		return nil, err
	}
	return mappings, nil
}

// GetByPointID 根据向量点ID获取映射行
func (r *mappingRepository) GetByPointID(ctx context.Context, pointID string) (*models.VectorMapping, error) {
	var mapping models.VectorMapping
	err := r.db.WithContext(ctx).Where("point_id = ?", pointID).First(&mapping).Error
	if err != nil {
		return nil, err
	}
	return &mapping, nil
}

// CountByReportID 统计报告的映射行数
func (r *mappingRepository) CountByReportID(ctx context.Context, reportID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.VectorMapping{}).
		Where("report_id = ?", reportID).
		Count(&count).Error
	return count, err
}

// DeleteByReportID 删除报告的全部映射行
func (r *mappingRepository) DeleteByReportID(ctx context.Context, reportID uint) error {
	return r.db.WithContext(ctx).Where("report_id = ?", reportID).Delete(&models.VectorMapping{}).Error
}

// DeleteByEmployeeID 删除员工全部报告的映射行，需在报告删除前调用
func (r *mappingRepository) DeleteByEmployeeID(ctx context.Context, employeeID uint) error {
	reportIDs := r.db.Model(&models.Report{}).
		Select("report_id").
		Where("employee_id = ?", employeeID)
	return r.db.WithContext(ctx).
		Where("report_id IN (?)", reportIDs).
		Delete(&models.VectorMapping{}).Error
}
