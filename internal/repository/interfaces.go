package repository

import (
	"context"
	"time"

	"github.com/reporthub/backend-go/internal/models"
	"gorm.io/gorm"
)

// Repository 基础仓库接口
type Repository interface {
	GetDB() *gorm.DB
}

// EmployeeRepository 员工仓库接口
type EmployeeRepository interface {
	Repository
	Create(ctx context.Context, employee *models.Employee) error
	GetByID(ctx context.Context, id uint) (*models.Employee, error)
	List(ctx context.Context, wing string, page, limit int) ([]models.Employee, int64, error)
	Delete(ctx context.Context, id uint) error
}

// ReportRepository 报告仓库接口
type ReportRepository interface {
	Repository
	Create(ctx context.Context, report *models.Report) error
	GetByID(ctx context.Context, reportID uint) (*models.Report, error)
	GetByEmployee(ctx context.Context, employeeID uint) ([]models.Report, error)
	GetByEmployeeAndDate(ctx context.Context, employeeID uint, date time.Time) (*models.Report, error)
	Update(ctx context.Context, reportID uint, updates map[string]interface{}) error
	Delete(ctx context.Context, reportID uint) error
}

// MappingRepository 向量映射仓库接口
type MappingRepository interface {
	Repository
	Create(ctx context.Context, mapping *models.VectorMapping) error
	GetByReportID(ctx context.Context, reportID uint) ([]models.VectorMapping, error)
	GetByPointID(ctx context.Context, pointID string) (*models.VectorMapping, error)
	CountByReportID(ctx context.Context, reportID uint) (int64, error)
	DeleteByReportID(ctx context.Context, reportID uint) error
	DeleteByEmployeeID(ctx context.Context, employeeID uint) error
}

// IntentRepository 写入意图仓库接口
type IntentRepository interface {
	Repository
	Create(ctx context.Context, intent *models.IngestIntent) error
	MarkComplete(ctx context.Context, pointID string) error
	MarkOrphaned(ctx context.Context, pointID string) error
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.IngestIntent, error)
	DeleteByReportID(ctx context.Context, reportID uint) error
	DeleteByEmployeeID(ctx context.Context, employeeID uint) error
}
