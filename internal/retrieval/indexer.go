package retrieval

import (
	"context"
	"time"

	apperrors "github.com/reporthub/backend-go/internal/errors"
)

// FulltextChunk 全文索引中的分块文档
type FulltextChunk struct {
	PointID    string    `json:"point_id"`
	ReportID   uint      `json:"report_id"`
	EmployeeID uint      `json:"employee_id"`
	ChunkIndex int       `json:"chunk_index"`
	ReportDate string    `json:"report_date"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"created_at"`
}

// KeywordMatch 关键字检索命中
type KeywordMatch struct {
	PointID    string  `json:"point_id"`
	ReportID   uint    `json:"report_id"`
	EmployeeID uint    `json:"employee_id"`
	ChunkIndex int     `json:"chunk_index"`
	ReportDate string  `json:"report_date"`
	Text       string  `json:"text"`
	Highlight  string  `json:"highlight,omitempty"`
	Score      float64 `json:"score"`
}

// FulltextIndexer 可选的全文索引器
//
// 分块写入向量库成功后尽力同步到全文索引，失败只记日志，
// 不影响Ingest和Search的语义。
type FulltextIndexer interface {
	IndexChunk(ctx context.Context, chunk FulltextChunk) error
	RemoveReport(ctx context.Context, reportID uint) error
	KeywordSearch(ctx context.Context, query string, employeeID uint, limit int) ([]KeywordMatch, error)
	Ready() bool
}

// NoopFulltextIndexer 未配置全文索引时的空实现
type NoopFulltextIndexer struct{}

func (NoopFulltextIndexer) IndexChunk(ctx context.Context, chunk FulltextChunk) error {
	return nil
}

func (NoopFulltextIndexer) RemoveReport(ctx context.Context, reportID uint) error {
	return nil
}

func (NoopFulltextIndexer) KeywordSearch(ctx context.Context, query string, employeeID uint, limit int) ([]KeywordMatch, error) {
	return nil, apperrors.NewNotFoundError("fulltext indexer")
}

func (NoopFulltextIndexer) Ready() bool {
	return false
}
