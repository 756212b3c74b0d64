package controllers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/reporthub/backend-go/app/bootstrap"
	"github.com/reporthub/backend-go/internal/retrieval"
)

// RetrievalController 语义检索与关键词检索接口
type RetrievalController struct {
	BaseController
	retrieval *retrieval.Service
}

// searchRequest POST检索请求体
type searchRequest struct {
	Query           string  `json:"query"`
	EmployeeID      uint    `json:"employee_id"`
	Limit           int     `json:"limit"`
	ScoreThreshold  float64 `json:"score_threshold"`
	BypassThreshold bool    `json:"bypass_threshold"`
}

// NewRetrievalController 创建检索控制器
func NewRetrievalController(svc *retrieval.Service) *RetrievalController {
	return &RetrievalController{retrieval: svc}
}

// Prepare 在每次请求前从全局应用获取服务实例
func (c *RetrievalController) Prepare() {
	if c.retrieval == nil {
		if app := bootstrap.GetApp(); app != nil {
			c.retrieval = app.GetRetrievalService()
		}
	}
}

// Search 按员工过滤的语义检索，结果按报告日期倒序
// POST /api/retrieval/search
func (c *RetrievalController) Search() {
	if c.retrieval == nil {
		c.JSONError(http.StatusServiceUnavailable, "retrieval service not initialized")
		return
	}

	var req searchRequest
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil {
		c.JSONError(http.StatusBadRequest, "invalid request body")
		return
	}

	results, err := c.retrieval.Search(c.Ctx.Request.Context(), retrieval.SearchRequest{
		Query:           req.Query,
		EmployeeID:      req.EmployeeID,
		Limit:           req.Limit,
		ScoreThreshold:  req.ScoreThreshold,
		BypassThreshold: req.BypassThreshold,
	})
	if err != nil {
		c.HandleError(err)
		return
	}

	c.JSONSuccess(map[string]interface{}{
		"query":   req.Query,
		"results": results,
		"total":   len(results),
	})
}

// Keyword 基于Elasticsearch的关键词检索，未启用全文索引时返回404
// GET /api/retrieval/keyword?q=&employee_id=&limit=
func (c *RetrievalController) Keyword() {
	if c.retrieval == nil {
		c.JSONError(http.StatusServiceUnavailable, "retrieval service not initialized")
		return
	}

	query := c.GetString("q")
	if query == "" {
		c.JSONError(http.StatusBadRequest, "missing query parameter q")
		return
	}

	var employeeID uint
	if raw := c.GetString("employee_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.JSONError(http.StatusBadRequest, "invalid employee_id")
			return
		}
		employeeID = uint(id)
	}

	limit, err := strconv.Atoi(c.GetString("limit", "0"))
	if err != nil || limit < 0 {
		limit = 0
	}

	matches, err := c.retrieval.KeywordSearch(c.Ctx.Request.Context(), query, employeeID, limit)
	if err != nil {
		c.HandleError(err)
		return
	}

	c.JSONSuccess(map[string]interface{}{
		"query":   query,
		"matches": matches,
		"total":   len(matches),
	})
}

// Info 返回向量集合的状态信息
// GET /api/retrieval/info
func (c *RetrievalController) Info() {
	if c.retrieval == nil {
		c.JSONError(http.StatusServiceUnavailable, "retrieval service not initialized")
		return
	}

	info, err := c.retrieval.Info(c.Ctx.Request.Context())
	if err != nil {
		c.HandleError(err)
		return
	}

	c.JSONSuccess(info)
}
