package services

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var uptimeOnce sync.Once

// MetricsService 暴露Prometheus指标端点，检索与数据库指标
// 都注册在默认registry上，这里统一导出
type MetricsService struct {
	handler http.Handler
}

// NewMetricsService 创建指标服务并登记进程启动时间
func NewMetricsService() *MetricsService {
	uptimeOnce.Do(func() {
		promauto.NewGauge(prometheus.GaugeOpts{
			Name: "retrieval_service_start_time_seconds",
			Help: "Unix timestamp at which the service process started",
		}).Set(float64(time.Now().Unix()))
	})

	return &MetricsService{handler: promhttp.Handler()}
}

// Handler 返回Prometheus指标的HTTP处理器
func (ms *MetricsService) Handler() http.Handler {
	return ms.handler
}

// ServeHTTP 实现http.Handler接口
func (ms *MetricsService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ms.handler.ServeHTTP(w, r)
}
