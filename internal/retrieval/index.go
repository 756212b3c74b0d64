package retrieval

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"github.com/reporthub/backend-go/internal/config"
	apperrors "github.com/reporthub/backend-go/internal/errors"
)

// 向量点载荷的固定字段名，与原始检索数据保持一致
const (
	PayloadKeyReportID   = "report_id"
	PayloadKeyEmployeeID = "employee_id"
	PayloadKeyChunkIndex = "chunk_index"
	PayloadKeyReportDate = "report_date"
	PayloadKeyText       = "text"
)

// Payload 向量点携带的元数据
type Payload map[string]interface{}

// Text 返回载荷中的分块文本
func (p Payload) Text() string {
	if v, ok := p[PayloadKeyText].(string); ok {
		return v
	}
	return ""
}

// ReportDate 返回载荷中的报告日期字符串
func (p Payload) ReportDate() string {
	if v, ok := p[PayloadKeyReportDate].(string); ok {
		return v
	}
	return ""
}

// UintField 按字段名取无符号整数值，兼容JSON解码产生的float64与字符串表示
func (p Payload) UintField(key string) uint {
	switch v := p[key].(type) {
	case float64:
		return uint(v)
	case int:
		return uint(v)
	case int64:
		return uint(v)
	case uint:
		return v
	case string:
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0
		}
		return uint(parsed)
	default:
		return 0
	}
}

// IntField 按字段名取整数值
func (p Payload) IntField(key string) int {
	switch v := p[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case string:
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}

// ScoredPoint 相似检索返回的单条结果
type ScoredPoint struct {
	ID      string
	Score   float64
	Payload Payload
}

// CollectionInfo 集合的基本信息
type CollectionInfo struct {
	Name       string
	PointCount int64
	Dimension  int
	Metric     string
}

// PointSelector 删除操作的目标选择器，按点ID或按过滤器二选一
type PointSelector struct {
	PointIDs []string
	Filter   *Filter
}

// SelectPoints 构造按点ID删除的选择器
func SelectPoints(pointIDs ...string) PointSelector {
	return PointSelector{PointIDs: pointIDs}
}

// SelectByFilter 构造按过滤器批量删除的选择器
func SelectByFilter(filter Filter) PointSelector {
	return PointSelector{Filter: &filter}
}

// Validate 校验选择器恰好指定了一种目标
func (s PointSelector) Validate() error {
	hasIDs := len(s.PointIDs) > 0
	hasFilter := s.Filter != nil && !s.Filter.IsZero()
	if hasIDs == hasFilter {
		return fmt.Errorf("point selector requires exactly one of point ids or filter")
	}
	if hasFilter {
		return s.Filter.Validate()
	}
	return nil
}

// VectorIndex 向量索引抽象，所有后端实现同一能力集
// 客户端句柄由组合根构造一次后注入，实现自身需要对并发调用安全
type VectorIndex interface {
	// SetupCollection 幂等创建cosine度量的集合
	SetupCollection(ctx context.Context, collection string, dimension int) error
	// UpsertPoint 写入或覆盖一个向量点
	UpsertPoint(ctx context.Context, collection string, pointID string, vector []float32, payload Payload) error
	// Search 过滤后的相似检索，零命中返回空切片而不是错误
	Search(ctx context.Context, collection string, vector []float32, limit int, filter Filter) ([]ScoredPoint, error)
	// RetrievePoint 按点ID取载荷，点不存在时第二个返回值为false
	RetrievePoint(ctx context.Context, collection string, pointID string) (Payload, bool, error)
	// DeletePoints 按选择器删除向量点
	DeletePoints(ctx context.Context, collection string, selector PointSelector) error
	// CollectionInfo 返回集合的点数、维度与度量
	CollectionInfo(ctx context.Context, collection string) (CollectionInfo, error)
	// VerifyDeletion 确认过滤器当前匹配零个点
	VerifyDeletion(ctx context.Context, collection string, filter Filter) (bool, error)
	// Ready 判断底层客户端是否可用
	Ready() bool
	// Close 释放底层客户端句柄
	Close() error
}

// NewVectorIndex 按配置构造向量索引后端
// database后端需要一个已初始化的gorm连接，其余后端忽略该参数
func NewVectorIndex(cfg config.VectorStoreConfig, db *gorm.DB) (VectorIndex, error) {
	switch strings.ToLower(cfg.Provider) {
	case "qdrant":
		return NewQdrantIndex(QdrantOptions{
			Host:   cfg.Qdrant.Host,
			Port:   cfg.Qdrant.Port,
			APIKey: cfg.Qdrant.APIKey,
			UseTLS: cfg.Qdrant.UseTLS,
		})
	case "chromem":
		return NewChromemIndex(ChromemOptions{
			Path:     cfg.Chromem.Path,
			Compress: cfg.Chromem.Compress,
		})
	case "milvus":
		return NewMilvusIndex(context.Background(), MilvusOptions{
			Address:  cfg.Milvus.Address,
			Username: cfg.Milvus.Username,
			Password: cfg.Milvus.Password,
			Database: cfg.Milvus.Database,
			UseTLS:   cfg.Milvus.TLS,
		})
	case "database":
		if db == nil {
			return nil, apperrors.NewConfigurationError("database vector index requires an initialized database connection")
		}
		return NewDatabaseIndex(db), nil
	default:
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("unknown vector store provider %q", cfg.Provider))
	}
}
