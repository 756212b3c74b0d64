package errors

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrorMonitor 错误监控器
type ErrorMonitor struct {
	// Prometheus指标
	errorCounter  *prometheus.CounterVec
	errorRate     *prometheus.GaugeVec
	responseTime  *prometheus.HistogramVec
	orphanCounter prometheus.Counter

	// 内存统计
	stats      map[string]*ErrorStats
	statsMutex sync.RWMutex

	windowSize time.Duration
}

// ErrorStats 错误统计信息
type ErrorStats struct {
	Code        string
	Type        string
	Count       int64
	FirstSeen   time.Time
	LastSeen    time.Time
	AvgResponse time.Duration
}

var (
	monitorOnce   sync.Once
	globalMonitor *ErrorMonitor
)

// NewErrorMonitor 创建错误监控器
// promauto指标只能注册一次，重复创建时复用全局实例
func NewErrorMonitor() *ErrorMonitor {
	monitorOnce.Do(func() {
		em := &ErrorMonitor{
			windowSize: 5 * time.Minute,
			stats:      make(map[string]*ErrorStats),
		}
		em.registerMetrics()
		em.startCleanupTask()
		globalMonitor = em
	})
	return globalMonitor
}

// registerMetrics 注册Prometheus指标
func (em *ErrorMonitor) registerMetrics() {
	em.errorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retrieval_errors_total",
			Help: "Total number of errors by code and type",
		},
		[]string{"code", "type", "endpoint"},
	)

	em.errorRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "retrieval_error_rate_per_minute",
			Help: "Error rate per minute by code and type",
		},
		[]string{"code", "type"},
	)

	em.responseTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "retrieval_error_response_time_seconds",
			Help:    "Response time for failed requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"code", "endpoint"},
	)

	em.orphanCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "retrieval_orphaned_points_total",
			Help: "Vector points written to the index whose mapping row failed to commit",
		},
	)
}

// RecordError 记录错误
func (em *ErrorMonitor) RecordError(ctx context.Context, appErr *AppError, endpoint string, responseTime time.Duration) {
	if appErr == nil {
		return
	}

	em.errorCounter.WithLabelValues(string(appErr.Code), getErrorTypeString(appErr.Type), endpoint).Inc()
	em.responseTime.WithLabelValues(string(appErr.Code), endpoint).Observe(responseTime.Seconds())

	if appErr.Code == ErrCodeMappingWrite {
		em.orphanCounter.Inc()
	}

	em.updateStats(appErr, endpoint, responseTime)
}

// RecordOrphanedPoint 记录孤儿向量点
// 向量写入成功但映射行落库失败时由检索服务调用
func (em *ErrorMonitor) RecordOrphanedPoint() {
	em.orphanCounter.Inc()
}

// updateStats 更新内存统计
func (em *ErrorMonitor) updateStats(appErr *AppError, endpoint string, responseTime time.Duration) {
	em.statsMutex.Lock()
	defer em.statsMutex.Unlock()

	key := string(appErr.Code) + ":" + endpoint

	stats, exists := em.stats[key]
	if !exists {
		stats = &ErrorStats{
			Code:      string(appErr.Code),
			Type:      getErrorTypeString(appErr.Type),
			FirstSeen: time.Now(),
		}
		em.stats[key] = stats
	}

	stats.Count++
	stats.LastSeen = time.Now()

	if stats.Count == 1 {
		stats.AvgResponse = responseTime
	} else {
		// 简单移动平均
		stats.AvgResponse = (stats.AvgResponse + responseTime) / 2
	}
}

// GetStats 获取错误统计信息
func (em *ErrorMonitor) GetStats() map[string]*ErrorStats {
	em.statsMutex.RLock()
	defer em.statsMutex.RUnlock()

	result := make(map[string]*ErrorStats)
	for k, v := range em.stats {
		statsCopy := *v
		result[k] = &statsCopy
	}

	return result
}

// GetTopErrors 获取最常见的错误
func (em *ErrorMonitor) GetTopErrors(limit int) []*ErrorStats {
	em.statsMutex.RLock()
	defer em.statsMutex.RUnlock()

	statsList := make([]*ErrorStats, 0, len(em.stats))
	for _, stats := range em.stats {
		statsList = append(statsList, stats)
	}

	sort.Slice(statsList, func(i, j int) bool {
		return statsList[i].Count > statsList[j].Count
	})

	if limit > 0 && len(statsList) > limit {
		statsList = statsList[:limit]
	}

	return statsList
}

// startCleanupTask 启动清理任务
func (em *ErrorMonitor) startCleanupTask() {
	go func() {
		ticker := time.NewTicker(em.windowSize)
		defer ticker.Stop()

		for range ticker.C {
			em.cleanupOldStats()
		}
	}()
}

// cleanupOldStats 清理旧的统计信息
func (em *ErrorMonitor) cleanupOldStats() {
	em.statsMutex.Lock()
	defer em.statsMutex.Unlock()

	now := time.Now()
	threshold := now.Add(-em.windowSize * 2)

	for key, stats := range em.stats {
		if stats.LastSeen.Before(threshold) {
			delete(em.stats, key)
		}
	}
}

// Reset 重置所有统计信息
func (em *ErrorMonitor) Reset() {
	em.statsMutex.Lock()
	defer em.statsMutex.Unlock()

	em.stats = make(map[string]*ErrorStats)
}
