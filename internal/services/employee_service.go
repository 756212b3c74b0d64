package services

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	apperrors "github.com/reporthub/backend-go/internal/errors"
	"github.com/reporthub/backend-go/internal/logger"
	"github.com/reporthub/backend-go/internal/models"
	"github.com/reporthub/backend-go/internal/repository"
)

// EmployeeService 员工服务
type EmployeeService struct {
	employees repository.EmployeeRepository
	retrieval ReportIndexer
}

// NewEmployeeService 创建员工服务实例
func NewEmployeeService(employees repository.EmployeeRepository, indexer ReportIndexer) *EmployeeService {
	return &EmployeeService{
		employees: employees,
		retrieval: indexer,
	}
}

// CreateEmployeeRequest 创建员工请求
type CreateEmployeeRequest struct {
	Name     string `json:"name"`
	Wing     string `json:"wing"`
	Position string `json:"position"`
}

// CreateEmployee 创建员工
func (s *EmployeeService) CreateEmployee(ctx context.Context, req CreateEmployeeRequest) (*models.Employee, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, apperrors.NewInvalidInputError("name", "must not be empty")
	}
	if strings.TrimSpace(req.Wing) == "" {
		return nil, apperrors.NewInvalidInputError("wing", "must not be empty")
	}
	if strings.TrimSpace(req.Position) == "" {
		return nil, apperrors.NewInvalidInputError("position", "must not be empty")
	}

	employee := &models.Employee{
		Name:     strings.TrimSpace(req.Name),
		Wing:     strings.TrimSpace(req.Wing),
		Position: strings.TrimSpace(req.Position),
	}
	if err := s.employees.Create(ctx, employee); err != nil {
		return nil, err
	}

	logger.Info("employee created",
		zap.Uint("employee_id", employee.ID),
		zap.String("wing", employee.Wing))
	return employee, nil
}

// GetEmployee 获取单个员工
func (s *EmployeeService) GetEmployee(ctx context.Context, id uint) (*models.Employee, error) {
	employee, err := s.employees.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFoundError("employee")
		}
		return nil, err
	}
	return employee, nil
}

// ListEmployees 获取员工列表，wing为空时不过滤
func (s *EmployeeService) ListEmployees(ctx context.Context, wing string, page, limit int) ([]models.Employee, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.employees.List(ctx, wing, page, limit)
}

// DeleteEmployee 删除员工及其全部报告
//
// 先清理向量索引与映射行，再删员工行，报告行随外键级联删除。
// 向量清理失败时中止删除。
func (s *EmployeeService) DeleteEmployee(ctx context.Context, id uint) error {
	if _, err := s.employees.GetByID(ctx, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.NewNotFoundError("employee")
		}
		return err
	}

	if s.retrieval != nil {
		if err := s.retrieval.DeleteEmployeeVectors(ctx, id); err != nil {
			return err
		}
	}

	if err := s.employees.Delete(ctx, id); err != nil {
		return err
	}

	logger.Info("employee deleted", zap.Uint("employee_id", id))
	return nil
}
