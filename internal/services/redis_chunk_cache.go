package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/reporthub/backend-go/internal/config"
	"github.com/reporthub/backend-go/internal/database"
	"github.com/reporthub/backend-go/internal/logger"
)

// RedisChunkCache 报告分块的Redis缓存
//
// 每个分块存一个string键，另以report_chunks:{id}记录分块数。
// 读取时数量键或任一分块键缺失都按整体未命中处理。
type RedisChunkCache struct {
	client   *redis.Client
	enabled  bool
	ttl      time.Duration
	hitStats *CacheHitStats
}

// CacheHitStats 缓存命中率统计
type CacheHitStats struct {
	hits   int64
	misses int64
	mu     sync.RWMutex
}

// NewRedisChunkCache 创建报告分块缓存
func NewRedisChunkCache() (*RedisChunkCache, error) {
	cfg := config.AppConfig
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}

	if database.RedisClient == nil {
		return &RedisChunkCache{enabled: false}, nil
	}

	ttl := time.Duration(cfg.Redis.TTL) * time.Second
	if ttl <= 0 {
		ttl = 3600 * time.Second // 默认1小时
	}

	return &RedisChunkCache{
		client:   database.RedisClient,
		enabled:  cfg.Redis.Enabled,
		ttl:      ttl,
		hitStats: &CacheHitStats{},
	}, nil
}

// GetChunks 读取报告的全部分块
func (c *RedisChunkCache) GetChunks(ctx context.Context, reportID uint) ([]string, bool) {
	if !c.enabled || c.client == nil {
		return nil, false
	}

	count, err := c.client.Get(ctx, c.countKey(reportID)).Int()
	if err != nil || count <= 0 {
		c.recordMiss()
		return nil, false
	}

	keys := make([]string, count)
	for i := 0; i < count; i++ {
		keys[i] = c.chunkKey(reportID, i)
	}

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.recordMiss()
		return nil, false
	}

	chunks := make([]string, 0, count)
	for _, value := range values {
		text, ok := value.(string)
		if !ok {
			c.recordMiss()
			return nil, false
		}
		chunks = append(chunks, text)
	}

	c.recordHit()
	return chunks, true
}

// SetChunks 写入报告分块缓存，失败只记日志
func (c *RedisChunkCache) SetChunks(ctx context.Context, reportID uint, chunks []string) {
	if !c.enabled || c.client == nil || len(chunks) == 0 {
		return
	}

	pipe := c.client.TxPipeline()
	for i, chunk := range chunks {
		pipe.Set(ctx, c.chunkKey(reportID, i), chunk, c.ttl)
	}
	pipe.Set(ctx, c.countKey(reportID), len(chunks), c.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warn("chunk cache write failed",
			zap.Uint("report_id", reportID), zap.Error(err))
	}
}

// Invalidate 清除报告的分块缓存
func (c *RedisChunkCache) Invalidate(ctx context.Context, reportID uint) {
	if !c.enabled || c.client == nil {
		return
	}

	keys := []string{c.countKey(reportID)}
	if count, err := c.client.Get(ctx, c.countKey(reportID)).Int(); err == nil {
		for i := 0; i < count; i++ {
			keys = append(keys, c.chunkKey(reportID, i))
		}
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		logger.Warn("chunk cache invalidate failed",
			zap.Uint("report_id", reportID), zap.Error(err))
	}
}

// chunkKey 单个分块的键
func (c *RedisChunkCache) chunkKey(reportID uint, chunkIndex int) string {
	return fmt.Sprintf("chunk:%d:%d", reportID, chunkIndex)
}

// countKey 报告分块数量的键
func (c *RedisChunkCache) countKey(reportID uint) string {
	return fmt.Sprintf("report_chunks:%d", reportID)
}

// recordHit 记录缓存命中
func (c *RedisChunkCache) recordHit() {
	if c.hitStats != nil {
		c.hitStats.mu.Lock()
		c.hitStats.hits++
		c.hitStats.mu.Unlock()
	}
}

// recordMiss 记录缓存未命中
func (c *RedisChunkCache) recordMiss() {
	if c.hitStats != nil {
		c.hitStats.mu.Lock()
		c.hitStats.misses++
		c.hitStats.mu.Unlock()
	}
}

// GetCacheStats 获取缓存统计信息
func (c *RedisChunkCache) GetCacheStats() (hits, misses int64, hitRate float64) {
	if c.hitStats == nil {
		return 0, 0, 0
	}
	c.hitStats.mu.RLock()
	defer c.hitStats.mu.RUnlock()

	hits = c.hitStats.hits
	misses = c.hitStats.misses
	total := hits + misses
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return
}
