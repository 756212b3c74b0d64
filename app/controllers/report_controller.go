package controllers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/reporthub/backend-go/app/bootstrap"
	"github.com/reporthub/backend-go/internal/services"
)

// ReportController 工作报告管理接口，覆盖录入、上传、索引与删除
type ReportController struct {
	BaseController
	reports *services.ReportService
}

// NewReportController 创建报告控制器
func NewReportController(reports *services.ReportService) *ReportController {
	return &ReportController{reports: reports}
}

// Prepare 在每次请求前从全局应用获取服务实例
func (c *ReportController) Prepare() {
	if c.reports == nil {
		if app := bootstrap.GetApp(); app != nil {
			c.reports = app.GetReportService()
		}
	}
}

// Create 创建报告，同一员工同一日期的报告会覆盖更新
// POST /api/reports
func (c *ReportController) Create() {
	if c.reports == nil {
		c.JSONError(http.StatusServiceUnavailable, "report service not initialized")
		return
	}

	var req services.CreateReportRequest
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil {
		c.JSONError(http.StatusBadRequest, "invalid request body")
		return
	}

	report, err := c.reports.CreateReport(c.Ctx.Request.Context(), req)
	if err != nil {
		c.HandleError(err)
		return
	}

	c.JSON(http.StatusCreated, map[string]interface{}{
		"success": true,
		"data":    report,
	})
}

// ListByEmployee 查询某员工的全部报告
// GET /api/reports/employee/:employee_id
func (c *ReportController) ListByEmployee() {
	if c.reports == nil {
		c.JSONError(http.StatusServiceUnavailable, "report service not initialized")
		return
	}

	employeeID, ok := c.parseUintParam(":employee_id")
	if !ok {
		return
	}

	reports, err := c.reports.ListByEmployee(c.Ctx.Request.Context(), employeeID)
	if err != nil {
		c.HandleError(err)
		return
	}

	c.JSONSuccess(map[string]interface{}{
		"employee_id": employeeID,
		"reports":     reports,
		"total":       len(reports),
	})
}

// Upload 上传报告文件（txt/md/docx），解析后入库
// POST /api/reports/upload
func (c *ReportController) Upload() {
	if c.reports == nil {
		c.JSONError(http.StatusServiceUnavailable, "report service not initialized")
		return
	}

	employeeID, err := strconv.ParseUint(c.GetString("employee_id"), 10, 32)
	if err != nil || employeeID == 0 {
		c.JSONError(http.StatusBadRequest, "invalid employee_id")
		return
	}

	reportDate := c.GetString("report_date")
	if reportDate == "" {
		c.JSONError(http.StatusBadRequest, "missing report_date")
		return
	}

	file, header, err := c.GetFile("file")
	if err != nil {
		c.JSONError(http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	report, err := c.reports.UploadReport(c.Ctx.Request.Context(), services.UploadReportRequest{
		EmployeeID: uint(employeeID),
		ReportDate: reportDate,
		Filename:   header.Filename,
		Size:       header.Size,
		File:       file,
	})
	if err != nil {
		c.HandleError(err)
		return
	}

	c.JSON(http.StatusCreated, map[string]interface{}{
		"success": true,
		"data":    report,
	})
}

// Index 同步触发报告的向量化索引
// POST /api/reports/:report_id/index
func (c *ReportController) Index() {
	if c.reports == nil {
		c.JSONError(http.StatusServiceUnavailable, "report service not initialized")
		return
	}

	reportID, ok := c.parseUintParam(":report_id")
	if !ok {
		return
	}

	result, err := c.reports.IndexReport(c.Ctx.Request.Context(), reportID)
	if err != nil {
		c.HandleError(err)
		return
	}

	c.JSONSuccess(result)
}

// GetChunks 返回报告当前已索引的分块文本
// GET /api/reports/:report_id/chunks
func (c *ReportController) GetChunks() {
	if c.reports == nil {
		c.JSONError(http.StatusServiceUnavailable, "report service not initialized")
		return
	}

	reportID, ok := c.parseUintParam(":report_id")
	if !ok {
		return
	}

	chunks, err := c.reports.GetReportChunks(c.Ctx.Request.Context(), reportID)
	if err != nil {
		c.HandleError(err)
		return
	}

	c.JSONSuccess(map[string]interface{}{
		"report_id": reportID,
		"chunks":    chunks,
		"total":     len(chunks),
	})
}

// DeleteVectors 只删除报告的向量数据，保留数据库记录
// DELETE /api/reports/:report_id/vectors
func (c *ReportController) DeleteVectors() {
	if c.reports == nil {
		c.JSONError(http.StatusServiceUnavailable, "report service not initialized")
		return
	}

	reportID, ok := c.parseUintParam(":report_id")
	if !ok {
		return
	}

	if err := c.reports.DeleteReportVectors(c.Ctx.Request.Context(), reportID); err != nil {
		c.HandleError(err)
		return
	}

	c.JSONSuccess(map[string]interface{}{
		"report_id": reportID,
		"deleted":   true,
	})
}

// Delete 删除报告记录及其向量
// DELETE /api/reports/:report_id
func (c *ReportController) Delete() {
	if c.reports == nil {
		c.JSONError(http.StatusServiceUnavailable, "report service not initialized")
		return
	}

	reportID, ok := c.parseUintParam(":report_id")
	if !ok {
		return
	}

	if err := c.reports.DeleteReport(c.Ctx.Request.Context(), reportID); err != nil {
		c.HandleError(err)
		return
	}

	c.JSONSuccess(map[string]interface{}{
		"report_id": reportID,
		"deleted":   true,
	})
}
