package repository

import (
	"context"

	"github.com/reporthub/backend-go/internal/models"
	"gorm.io/gorm"
)

// employeeRepository 员工仓库实现
type employeeRepository struct {
	db *gorm.DB
}

// NewEmployeeRepository 创建员工仓库
func NewEmployeeRepository(db *gorm.DB) EmployeeRepository {
	return &employeeRepository{db: db}
}

// GetDB 获取数据库连接
func (r *employeeRepository) GetDB() *gorm.DB {
	return r.db
}

// Create 创建员工
func (r *employeeRepository) Create(ctx context.Context, employee *models.Employee) error {
	return r.db.WithContext(ctx).Create(employee).Error
}

// GetByID 根据ID获取员工
func (r *employeeRepository) GetByID(ctx context.Context, id uint) (*models.Employee, error) {
	var employee models.Employee
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&employee).Error
	if err != nil {
		return nil, err
	}
	return &employee, nil
}

// List 获取员工列表，可按wing过滤
func (r *employeeRepository) List(ctx context.Context, wing string, page, limit int) ([]models.Employee, int64, error) {
	var employees []models.Employee
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Employee{})
	if wing != "" {
		query = query.Where("wing = ?", wing)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if page > 0 && limit > 0 {
		query = query.Offset((page - 1) * limit).Limit(limit)
	}

	if err := query.Order("id").Find(&employees).Error; err != nil {
		return nil, 0, err
	}

	return employees, total, nil
}

// Delete 删除员工，级联删除其报告
func (r *employeeRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Employee{}).Error
}
