package retrieval

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 指标在包级注册一次，避免重复创建collector时panic
var (
	retrievalMetricsOnce sync.Once

	ingestCounter   *prometheus.CounterVec
	ingestChunks    *prometheus.CounterVec
	ingestDuration  prometheus.Histogram
	searchCounter   *prometheus.CounterVec
	searchDuration  prometheus.Histogram
	chunkCacheTotal *prometheus.CounterVec
	purgeCounter    *prometheus.CounterVec
)

func registerRetrievalMetrics() {
	retrievalMetricsOnce.Do(func() {
		ingestCounter = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retrieval_ingest_total",
				Help: "Total number of report ingest calls",
			},
			[]string{"status"}, // status: success, error
		)

		ingestChunks = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retrieval_ingest_chunks_total",
				Help: "Total number of chunks processed during ingest",
			},
			[]string{"result"}, // result: succeeded, skipped
		)

		ingestDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "retrieval_ingest_duration_seconds",
				Help:    "Duration of report ingest calls",
				Buckets: prometheus.DefBuckets,
			},
		)

		searchCounter = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retrieval_search_total",
				Help: "Total number of semantic search calls",
			},
			[]string{"outcome"}, // outcome: ok, empty, degraded
		)

		searchDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "retrieval_search_duration_seconds",
				Help:    "Duration of semantic search calls",
				Buckets: prometheus.DefBuckets,
			},
		)

		chunkCacheTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retrieval_chunk_cache_total",
				Help: "Chunk cache lookups during GetChunks",
			},
			[]string{"result"}, // result: hit, miss
		)

		purgeCounter = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retrieval_purge_total",
				Help: "Total number of vector purge calls",
			},
			[]string{"scope", "status"}, // scope: report, employee
		)
	})
}

func observeIngest(result IngestResult, started time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	ingestCounter.WithLabelValues(status).Inc()
	ingestChunks.WithLabelValues("succeeded").Add(float64(result.Succeeded))
	ingestChunks.WithLabelValues("skipped").Add(float64(len(result.Skipped)))
	ingestDuration.Observe(time.Since(started).Seconds())
}

func observeSearch(outcome string, started time.Time) {
	searchCounter.WithLabelValues(outcome).Inc()
	searchDuration.Observe(time.Since(started).Seconds())
}

func observeChunkCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	chunkCacheTotal.WithLabelValues(result).Inc()
}

func observePurge(scope string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	purgeCounter.WithLabelValues(scope, status).Inc()
}
