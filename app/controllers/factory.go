package controllers

import (
	"go.uber.org/dig"

	"github.com/reporthub/backend-go/internal/retrieval"
	"github.com/reporthub/backend-go/internal/services"
)

// ControllerFactory 控制器工厂
type ControllerFactory struct {
	container *dig.Container
}

// NewControllerFactory 创建控制器工厂
func NewControllerFactory(container *dig.Container) *ControllerFactory {
	return &ControllerFactory{
		container: container,
	}
}

// CreateEmployeeController 创建员工控制器
func (f *ControllerFactory) CreateEmployeeController() (*EmployeeController, error) {
	var employeeService *services.EmployeeService

	err := f.container.Invoke(func(es *services.EmployeeService) {
		employeeService = es
	})

	if err != nil {
		return nil, err
	}

	return NewEmployeeController(employeeService), nil
}

// CreateReportController 创建报告控制器
func (f *ControllerFactory) CreateReportController() (*ReportController, error) {
	var reportService *services.ReportService

	err := f.container.Invoke(func(rs *services.ReportService) {
		reportService = rs
	})

	if err != nil {
		return nil, err
	}

	return NewReportController(reportService), nil
}

// CreateRetrievalController 创建检索控制器
func (f *ControllerFactory) CreateRetrievalController() (*RetrievalController, error) {
	var retrievalService *retrieval.Service

	err := f.container.Invoke(func(rs *retrieval.Service) {
		retrievalService = rs
	})

	if err != nil {
		return nil, err
	}

	return NewRetrievalController(retrievalService), nil
}
