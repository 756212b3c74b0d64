package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	apperrors "github.com/reporthub/backend-go/internal/errors"
)

// vectorRecord 退化模式下向量点的关系表示
type vectorRecord struct {
	PointID    string `gorm:"column:point_id;primaryKey;size:64"`
	Collection string `gorm:"column:collection;size:128;index"`
	ReportID   uint   `gorm:"column:report_id;index"`
	EmployeeID uint   `gorm:"column:employee_id;index"`
	ChunkIndex int    `gorm:"column:chunk_index"`
	ReportDate string `gorm:"column:report_date;size:32"`
	Text       string `gorm:"column:text;type:text"`
	Embedding  string `gorm:"column:embedding;type:text"`
}

func (vectorRecord) TableName() string {
	return "vector_records"
}

// vectorCollection 集合的维度与度量登记
type vectorCollection struct {
	Name      string `gorm:"column:name;primaryKey;size:128"`
	Dimension int    `gorm:"column:dimension"`
	Metric    string `gorm:"column:metric;size:16"`
}

func (vectorCollection) TableName() string {
	return "vector_collections"
}

// databaseIndex 基于PostgreSQL的退化向量索引，余弦相似度在进程内计算
// 只作为没有任何向量后端可用时的兜底
type databaseIndex struct {
	db         *gorm.DB
	migrateOne sync.Once
	migrateErr error
}

// NewDatabaseIndex 创建数据库向量索引
func NewDatabaseIndex(db *gorm.DB) VectorIndex {
	return &databaseIndex{db: db}
}

// 过滤字段到列名的映射，载荷字段即列名
var databaseFilterColumns = map[string]bool{
	PayloadKeyReportID:   true,
	PayloadKeyEmployeeID: true,
	PayloadKeyChunkIndex: true,
	PayloadKeyReportDate: true,
}

func (s *databaseIndex) SetupCollection(ctx context.Context, collection string, dimension int) error {
	if dimension <= 0 {
		return apperrors.NewConfigurationError(fmt.Sprintf("collection %s requires a positive dimension, got %d", collection, dimension))
	}

	s.migrateOne.Do(func() {
		s.migrateErr = s.db.WithContext(ctx).AutoMigrate(&vectorRecord{}, &vectorCollection{})
	})
	if s.migrateErr != nil {
		return apperrors.NewIndexWriteError("migrate vector tables failed").WithCause(s.migrateErr)
	}

	record := vectorCollection{Name: collection, Dimension: dimension, Metric: "cosine"}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"dimension"}),
		}).
		Create(&record).Error
	if err != nil {
		return apperrors.NewIndexWriteError(fmt.Sprintf("register collection %s failed", collection)).WithCause(err)
	}
	return nil
}

func (s *databaseIndex) UpsertPoint(ctx context.Context, collection string, pointID string, vector []float32, payload Payload) error {
	if len(vector) == 0 {
		return apperrors.NewIndexWriteError("embedding is empty")
	}

	embeddingJSON, err := json.Marshal(vector)
	if err != nil {
		return apperrors.NewIndexWriteError("marshal embedding failed").WithCause(err)
	}

	record := vectorRecord{
		PointID:    pointID,
		Collection: collection,
		ReportID:   payload.UintField(PayloadKeyReportID),
		EmployeeID: payload.UintField(PayloadKeyEmployeeID),
		ChunkIndex: payload.IntField(PayloadKeyChunkIndex),
		ReportDate: payload.ReportDate(),
		Text:       payload.Text(),
		Embedding:  string(embeddingJSON),
	}

	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&record).Error
	if err != nil {
		return apperrors.NewIndexWriteError("database upsert failed").WithCause(err)
	}
	return nil
}

func (s *databaseIndex) Search(ctx context.Context, collection string, vector []float32, limit int, filter Filter) ([]ScoredPoint, error) {
	if len(vector) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	query, err := s.filteredQuery(ctx, collection, filter)
	if err != nil {
		return nil, err
	}

	var rows []vectorRecord
	if err := query.Limit(limit * 20).Find(&rows).Error; err != nil {
		return nil, apperrors.NewIndexReadError("database vector search failed").WithCause(err)
	}

	queryNorm := vectorNorm(vector)
	if queryNorm == 0 {
		return []ScoredPoint{}, nil
	}

	points := make([]ScoredPoint, 0, len(rows))
	for _, row := range rows {
		var embedding []float32
		if err := json.Unmarshal([]byte(row.Embedding), &embedding); err != nil {
			continue
		}
		points = append(points, ScoredPoint{
			ID:      row.PointID,
			Score:   cosineSimilarity(vector, embedding, queryNorm),
			Payload: row.payload(),
		})
	}

	sort.Slice(points, func(i, j int) bool {
		if points[i].Score == points[j].Score {
			return points[i].ID < points[j].ID
		}
		return points[i].Score > points[j].Score
	})
	if len(points) > limit {
		points = points[:limit]
	}
	return points, nil
}

func (s *databaseIndex) RetrievePoint(ctx context.Context, collection string, pointID string) (Payload, bool, error) {
	var row vectorRecord
	err := s.db.WithContext(ctx).
		Where("collection = ? AND point_id = ?", collection, pointID).
		First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, false, nil
		}
		return nil, false, apperrors.NewIndexReadError("database retrieve failed").WithCause(err)
	}
	return row.payload(), true, nil
}

func (s *databaseIndex) DeletePoints(ctx context.Context, collection string, selector PointSelector) error {
	if err := selector.Validate(); err != nil {
		return apperrors.NewIndexWriteError("invalid point selector").WithCause(err)
	}

	if len(selector.PointIDs) > 0 {
		err := s.db.WithContext(ctx).
			Where("collection = ? AND point_id IN ?", collection, selector.PointIDs).
			Delete(&vectorRecord{}).Error
		if err != nil {
			return apperrors.NewIndexWriteError("database delete failed").WithCause(err)
		}
		return nil
	}

	query, err := s.filteredQuery(ctx, collection, *selector.Filter)
	if err != nil {
		return err
	}
	if err := query.Delete(&vectorRecord{}).Error; err != nil {
		return apperrors.NewIndexWriteError("database delete failed").WithCause(err)
	}
	return nil
}

func (s *databaseIndex) CollectionInfo(ctx context.Context, collection string) (CollectionInfo, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&vectorRecord{}).
		Where("collection = ?", collection).
		Count(&count).Error
	if err != nil {
		return CollectionInfo{}, apperrors.NewIndexReadError("count collection points failed").WithCause(err)
	}

	info := CollectionInfo{Name: collection, PointCount: count, Metric: "cosine"}
	var registered vectorCollection
	err = s.db.WithContext(ctx).Where("name = ?", collection).First(&registered).Error
	if err == nil {
		info.Dimension = registered.Dimension
		info.Metric = registered.Metric
	} else if err != gorm.ErrRecordNotFound {
		return CollectionInfo{}, apperrors.NewIndexReadError("read collection registration failed").WithCause(err)
	}

	return info, nil
}

func (s *databaseIndex) VerifyDeletion(ctx context.Context, collection string, filter Filter) (bool, error) {
	query, err := s.filteredQuery(ctx, collection, filter)
	if err != nil {
		return false, err
	}

	var count int64
	if err := query.Model(&vectorRecord{}).Count(&count).Error; err != nil {
		return false, apperrors.NewIndexReadError("count matching points failed").WithCause(err)
	}
	return count == 0, nil
}

func (s *databaseIndex) Ready() bool {
	return s.db != nil
}

func (s *databaseIndex) Close() error {
	// 连接池由database包统一管理
	return nil
}

func (s *databaseIndex) filteredQuery(ctx context.Context, collection string, filter Filter) (*gorm.DB, error) {
	if err := filter.Validate(); err != nil {
		return nil, apperrors.NewIndexReadError("invalid filter").WithCause(err)
	}

	query := s.db.WithContext(ctx).Where("collection = ?", collection)
	for _, cond := range filter.Conditions {
		if !databaseFilterColumns[cond.Field] {
			return nil, apperrors.NewIndexReadError(fmt.Sprintf("unsupported filter field %q for database index", cond.Field))
		}
		query = query.Where(fmt.Sprintf("%s = ?", cond.Field), cond.Value)
	}
	return query, nil
}

func (r vectorRecord) payload() Payload {
	return Payload{
		PayloadKeyReportID:   float64(r.ReportID),
		PayloadKeyEmployeeID: float64(r.EmployeeID),
		PayloadKeyChunkIndex: float64(r.ChunkIndex),
		PayloadKeyReportDate: r.ReportDate,
		PayloadKeyText:       r.Text,
	}
}

func vectorNorm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v * v)
	}
	return math.Sqrt(sum)
}

func cosineSimilarity(a, b []float32, normA float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(a) != len(b) {
		minLen := len(a)
		if len(b) < minLen {
			minLen = len(b)
		}
		a = a[:minLen]
		b = b[:minLen]
	}

	var dot float64
	var normB float64
	for i := range a {
		dot += float64(a[i] * b[i])
		normB += float64(b[i] * b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (normA * math.Sqrt(normB))
}
