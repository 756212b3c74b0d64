package router

import (
	"github.com/beego/beego/v2/server/web"

	"github.com/reporthub/backend-go/app/controllers"
	"github.com/reporthub/backend-go/app/middleware"
)

// Init 注册全部HTTP路由。需要在配置加载完成后调用。
func Init() {
	web.Router("/", &controllers.RootController{}, "get:Index")
	web.Router("/health", &controllers.HealthController{}, "get:Health")
	web.Router("/metrics", &controllers.MetricsController{}, "get:Metrics")

	// 员工路由
	employeeController := &controllers.EmployeeController{}
	web.Router("/api/employees", employeeController, "get:List;post:Create")
	web.Router("/api/employees/:id", employeeController, "get:Get;delete:Delete")

	// 报告路由
	// 注意：具体路由必须在参数路由之前，否则/upload会被:report_id匹配
	reportController := &controllers.ReportController{}
	web.Router("/api/reports", reportController, "post:Create")
	web.Router("/api/reports/upload", reportController, "post:Upload")
	web.Router("/api/reports/employee/:employee_id", reportController, "get:ListByEmployee")
	web.Router("/api/reports/:report_id/index", reportController, "post:Index")
	web.Router("/api/reports/:report_id/chunks", reportController, "get:GetChunks")
	web.Router("/api/reports/:report_id/vectors", reportController, "delete:DeleteVectors")
	web.Router("/api/reports/:report_id", reportController, "delete:Delete")

	// 检索路由
	retrievalController := &controllers.RetrievalController{}
	web.Router("/api/retrieval/search", retrievalController, "post:Search")
	web.Router("/api/retrieval/keyword", retrievalController, "get:Keyword")
	web.Router("/api/retrieval/info", retrievalController, "get:Info")

	// 变更接口的审计标签；/api/reports/:report_id子树的标签
	// 由审计日志按方法和路径推导
	web.InsertFilter("/api/employees", web.BeforeRouter, middleware.AuditLogFilter("CREATE", "employee"))
	web.InsertFilter("/api/employees/:id", web.BeforeRouter, middleware.AuditLogFilter("DELETE", "employee"))
	web.InsertFilter("/api/reports", web.BeforeRouter, middleware.AuditLogFilter("CREATE", "report"))
}
