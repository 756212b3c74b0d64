package controllers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/reporthub/backend-go/app/bootstrap"
	"github.com/reporthub/backend-go/internal/services"
)

// EmployeeController 员工档案管理接口
type EmployeeController struct {
	BaseController
	employees *services.EmployeeService
}

// NewEmployeeController 创建员工控制器
func NewEmployeeController(employees *services.EmployeeService) *EmployeeController {
	return &EmployeeController{employees: employees}
}

// Prepare 在每次请求前从全局应用获取服务实例
func (c *EmployeeController) Prepare() {
	if c.employees == nil {
		if app := bootstrap.GetApp(); app != nil {
			c.employees = app.GetEmployeeService()
		}
	}
}

// Create 创建员工
// POST /api/employees
func (c *EmployeeController) Create() {
	if c.employees == nil {
		c.JSONError(http.StatusServiceUnavailable, "employee service not initialized")
		return
	}

	var req services.CreateEmployeeRequest
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil {
		c.JSONError(http.StatusBadRequest, "invalid request body")
		return
	}

	employee, err := c.employees.CreateEmployee(c.Ctx.Request.Context(), req)
	if err != nil {
		c.HandleError(err)
		return
	}

	c.JSON(http.StatusCreated, map[string]interface{}{
		"success": true,
		"data":    employee,
	})
}

// List 分页查询员工列表，支持按部门过滤
// GET /api/employees?wing=&page=&limit=
func (c *EmployeeController) List() {
	if c.employees == nil {
		c.JSONError(http.StatusServiceUnavailable, "employee service not initialized")
		return
	}

	wing := c.GetString("wing")
	page, err := strconv.Atoi(c.GetString("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err := strconv.Atoi(c.GetString("limit", "20"))
	if err != nil || limit < 1 {
		limit = 20
	}

	employees, total, err := c.employees.ListEmployees(c.Ctx.Request.Context(), wing, page, limit)
	if err != nil {
		c.HandleError(err)
		return
	}

	c.JSONSuccess(map[string]interface{}{
		"employees": employees,
		"total":     total,
		"page":      page,
		"limit":     limit,
	})
}

// Get 查询单个员工
// GET /api/employees/:id
func (c *EmployeeController) Get() {
	if c.employees == nil {
		c.JSONError(http.StatusServiceUnavailable, "employee service not initialized")
		return
	}

	id, ok := c.parseUintParam(":id")
	if !ok {
		return
	}

	employee, err := c.employees.GetEmployee(c.Ctx.Request.Context(), id)
	if err != nil {
		c.HandleError(err)
		return
	}

	c.JSONSuccess(employee)
}

// Delete 删除员工及其全部报告和向量
// DELETE /api/employees/:id
func (c *EmployeeController) Delete() {
	if c.employees == nil {
		c.JSONError(http.StatusServiceUnavailable, "employee service not initialized")
		return
	}

	id, ok := c.parseUintParam(":id")
	if !ok {
		return
	}

	if err := c.employees.DeleteEmployee(c.Ctx.Request.Context(), id); err != nil {
		c.HandleError(err)
		return
	}

	c.JSONSuccess(map[string]interface{}{
		"employee_id": id,
		"deleted":     true,
	})
}
