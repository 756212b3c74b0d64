package repository

import (
	"context"
	"time"

	"github.com/reporthub/backend-go/internal/models"
	"gorm.io/gorm"
)

// intentRepository 写入意图仓库实现
type intentRepository struct {
	db *gorm.DB
}

// NewIntentRepository 创建写入意图仓库
func NewIntentRepository(db *gorm.DB) IntentRepository {
	return &intentRepository{db: db}
}

// GetDB 获取数据库连接
func (r *intentRepository) GetDB() *gorm.DB {
	return r.db
}

// Create 登记pending写入意图
func (r *intentRepository) Create(ctx context.Context, intent *models.IngestIntent) error {
	return r.db.WithContext(ctx).Create(intent).Error
}

// MarkComplete 映射行落库后标记意图完成
func (r *intentRepository) MarkComplete(ctx context.Context, pointID string) error {
	return r.db.WithContext(ctx).Model(&models.IngestIntent{}).
		Where("point_id = ?", pointID).
		Update("status", models.IntentStatusComplete).Error
}

// MarkOrphaned 标记孤儿点意图
func (r *intentRepository) MarkOrphaned(ctx context.Context, pointID string) error {
	return r.db.WithContext(ctx).Model(&models.IngestIntent{}).
		Where("point_id = ?", pointID).
		Update("status", models.IntentStatusOrphaned).Error
}

// ListPendingBefore 列出超过时限仍pending的意图，供对账任务扫描
func (r *intentRepository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.IngestIntent, error) {
	var intents []models.IngestIntent
	query := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.IntentStatusPending, cutoff).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&intents).Error
	if err != nil {
		return nil, err
	}
	return intents, nil
}

// DeleteByReportID 删除报告的全部意图行
func (r *intentRepository) DeleteByReportID(ctx context.Context, reportID uint) error {
	return r.db.WithContext(ctx).Where("report_id = ?", reportID).Delete(&models.IngestIntent{}).Error
}

// DeleteByEmployeeID 删除员工全部报告的意图行，需在报告删除前调用
func (r *intentRepository) DeleteByEmployeeID(ctx context.Context, employeeID uint) error {
	reportIDs := r.db.Model(&models.Report{}).
		Select("report_id").
		Where("employee_id = ?", employeeID)
	return r.db.WithContext(ctx).
		Where("report_id IN (?)", reportIDs).
		Delete(&models.IngestIntent{}).Error
}
