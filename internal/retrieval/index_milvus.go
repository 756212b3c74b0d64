package retrieval

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	apperrors "github.com/reporthub/backend-go/internal/errors"
	"github.com/reporthub/backend-go/internal/logger"
)

// MilvusOptions Milvus客户端配置
type MilvusOptions struct {
	Address  string
	Username string
	Password string
	Database string
	UseTLS   bool
}

type milvusIndex struct {
	client client.Client

	mu     sync.Mutex
	loaded map[string]bool
}

// NewMilvusIndex 创建基于Milvus的向量索引
func NewMilvusIndex(ctx context.Context, opts MilvusOptions) (VectorIndex, error) {
	if opts.Address == "" {
		opts.Address = "localhost:19530"
	}

	c, err := client.NewClient(ctx, client.Config{
		Address:       opts.Address,
		Username:      opts.Username,
		Password:      opts.Password,
		DBName:        opts.Database,
		EnableTLSAuth: opts.UseTLS,
	})
	if err != nil {
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("connect milvus at %s failed", opts.Address)).WithCause(err)
	}

	return &milvusIndex{
		client: c,
		loaded: make(map[string]bool),
	}, nil
}

func (s *milvusIndex) SetupCollection(ctx context.Context, collection string, dimension int) error {
	if dimension <= 0 {
		return apperrors.NewConfigurationError(fmt.Sprintf("collection %s requires a positive dimension, got %d", collection, dimension))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	has, err := s.client.HasCollection(ctx, collection)
	if err != nil {
		return apperrors.NewIndexWriteError(fmt.Sprintf("check collection %s failed", collection)).WithCause(err)
	}

	if !has {
		schema := &entity.Schema{
			CollectionName: collection,
			Description:    "employee report chunk vectors",
			Fields: []*entity.Field{
				{
					Name:       "id",
					DataType:   entity.FieldTypeVarChar,
					PrimaryKey: true,
					AutoID:     false,
					TypeParams: map[string]string{"max_length": "64"},
				},
				{
					Name:     PayloadKeyReportID,
					DataType: entity.FieldTypeInt64,
				},
				{
					Name:     PayloadKeyEmployeeID,
					DataType: entity.FieldTypeInt64,
				},
				{
					Name:     PayloadKeyChunkIndex,
					DataType: entity.FieldTypeInt64,
				},
				{
					Name:       PayloadKeyReportDate,
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "32"},
				},
				{
					Name:       PayloadKeyText,
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "65535"},
				},
				{
					Name:       "vector",
					DataType:   entity.FieldTypeFloatVector,
					TypeParams: map[string]string{"dim": strconv.Itoa(dimension)},
				},
			},
		}

		if err := s.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return apperrors.NewIndexWriteError(fmt.Sprintf("create collection %s failed", collection)).WithCause(err)
		}

		var index entity.Index
		index, indexErr := entity.NewIndexHNSW(entity.COSINE, 8, 64)
		if indexErr != nil {
			index, indexErr = entity.NewIndexIvfFlat(entity.COSINE, 128)
		}
		if indexErr != nil {
			return apperrors.NewIndexWriteError(fmt.Sprintf("build index for collection %s failed", collection)).WithCause(indexErr)
		}
		if err := s.client.CreateIndex(ctx, collection, "vector", index, false); err != nil {
			logger.Warn("milvus index creation failed, search falls back to brute force",
				zap.String("collection", collection), zap.Error(err))
		}
	}

	if !s.loaded[collection] {
		if err := s.client.LoadCollection(ctx, collection, false); err != nil {
			return apperrors.NewIndexWriteError(fmt.Sprintf("load collection %s failed", collection)).WithCause(err)
		}
		s.loaded[collection] = true
	}

	return nil
}

func (s *milvusIndex) UpsertPoint(ctx context.Context, collection string, pointID string, vector []float32, payload Payload) error {
	if len(vector) == 0 {
		return apperrors.NewIndexWriteError("embedding is empty")
	}

	if err := s.SetupCollection(ctx, collection, len(vector)); err != nil {
		return err
	}

	columns := []entity.Column{
		entity.NewColumnVarChar("id", []string{pointID}),
		entity.NewColumnInt64(PayloadKeyReportID, []int64{int64(payload.UintField(PayloadKeyReportID))}),
		entity.NewColumnInt64(PayloadKeyEmployeeID, []int64{int64(payload.UintField(PayloadKeyEmployeeID))}),
		entity.NewColumnInt64(PayloadKeyChunkIndex, []int64{int64(payload.IntField(PayloadKeyChunkIndex))}),
		entity.NewColumnVarChar(PayloadKeyReportDate, []string{payload.ReportDate()}),
		entity.NewColumnVarChar(PayloadKeyText, []string{payload.Text()}),
		entity.NewColumnFloatVector("vector", len(vector), [][]float32{vector}),
	}

	if _, err := s.client.Upsert(ctx, collection, "", columns...); err != nil {
		return apperrors.NewIndexWriteError("milvus upsert failed").WithCause(err)
	}

	s.flush(ctx, collection)
	return nil
}

func (s *milvusIndex) Search(ctx context.Context, collection string, vector []float32, limit int, filter Filter) ([]ScoredPoint, error) {
	if len(vector) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	has, err := s.client.HasCollection(ctx, collection)
	if err != nil {
		return nil, apperrors.NewIndexReadError(fmt.Sprintf("check collection %s failed", collection)).WithCause(err)
	}
	if !has {
		return []ScoredPoint{}, nil
	}

	expr, err := milvusFilterExpr(filter)
	if err != nil {
		return nil, apperrors.NewIndexReadError("invalid filter").WithCause(err)
	}

	sp, _ := entity.NewIndexHNSWSearchParam(64)
	outputFields := []string{PayloadKeyReportID, PayloadKeyEmployeeID, PayloadKeyChunkIndex, PayloadKeyReportDate, PayloadKeyText}
	searchResults, err := s.client.Search(
		ctx,
		collection,
		nil,
		expr,
		outputFields,
		[]entity.Vector{entity.FloatVector(vector)},
		"vector",
		entity.COSINE,
		limit,
		sp,
	)
	if err != nil {
		return nil, apperrors.NewIndexReadError("milvus search failed").WithCause(err)
	}
	if len(searchResults) == 0 {
		return []ScoredPoint{}, nil
	}
	result := searchResults[0]
	if result.Err != nil {
		return nil, apperrors.NewIndexReadError("milvus search failed").WithCause(result.Err)
	}

	var ids []string
	if idCol, ok := result.IDs.(*entity.ColumnVarChar); ok {
		ids = idCol.Data()
	}

	points := make([]ScoredPoint, 0, result.ResultCount)
	for i := 0; i < result.ResultCount; i++ {
		payload := milvusRowPayload(result.Fields, i)
		id := ""
		if i < len(ids) {
			id = ids[i]
		}
		score := float64(0)
		if i < len(result.Scores) {
			score = float64(result.Scores[i])
		}
		points = append(points, ScoredPoint{ID: id, Score: score, Payload: payload})
	}

	return points, nil
}

func (s *milvusIndex) RetrievePoint(ctx context.Context, collection string, pointID string) (Payload, bool, error) {
	has, err := s.client.HasCollection(ctx, collection)
	if err != nil {
		return nil, false, apperrors.NewIndexReadError(fmt.Sprintf("check collection %s failed", collection)).WithCause(err)
	}
	if !has {
		return nil, false, nil
	}

	outputFields := []string{PayloadKeyReportID, PayloadKeyEmployeeID, PayloadKeyChunkIndex, PayloadKeyReportDate, PayloadKeyText}
	resultSet, err := s.client.Query(ctx, collection, nil, fmt.Sprintf("id == %q", pointID), outputFields)
	if err != nil {
		return nil, false, apperrors.NewIndexReadError("milvus query failed").WithCause(err)
	}
	if milvusResultLen(resultSet) == 0 {
		return nil, false, nil
	}

	return milvusRowPayload(resultSet, 0), true, nil
}

func (s *milvusIndex) DeletePoints(ctx context.Context, collection string, selector PointSelector) error {
	if err := selector.Validate(); err != nil {
		return apperrors.NewIndexWriteError("invalid point selector").WithCause(err)
	}

	has, err := s.client.HasCollection(ctx, collection)
	if err != nil {
		return apperrors.NewIndexWriteError(fmt.Sprintf("check collection %s failed", collection)).WithCause(err)
	}
	if !has {
		return nil
	}

	var expr string
	if len(selector.PointIDs) > 0 {
		quoted := make([]string, len(selector.PointIDs))
		for i, id := range selector.PointIDs {
			quoted[i] = strconv.Quote(id)
		}
		expr = fmt.Sprintf("id in [%s]", strings.Join(quoted, ", "))
	} else {
		expr, err = milvusFilterExpr(*selector.Filter)
		if err != nil {
			return apperrors.NewIndexWriteError("invalid filter").WithCause(err)
		}
	}

	if err := s.client.Delete(ctx, collection, "", expr); err != nil {
		return apperrors.NewIndexWriteError("milvus delete failed").WithCause(err)
	}

	s.flush(ctx, collection)
	return nil
}

func (s *milvusIndex) CollectionInfo(ctx context.Context, collection string) (CollectionInfo, error) {
	desc, err := s.client.DescribeCollection(ctx, collection)
	if err != nil {
		return CollectionInfo{}, apperrors.NewIndexReadError(fmt.Sprintf("describe collection %s failed", collection)).WithCause(err)
	}

	dimension := 0
	if desc.Schema != nil {
		for _, field := range desc.Schema.Fields {
			if field.DataType == entity.FieldTypeFloatVector {
				dimension, _ = strconv.Atoi(field.TypeParams["dim"])
				break
			}
		}
	}

	stats, err := s.client.GetCollectionStatistics(ctx, collection)
	if err != nil {
		return CollectionInfo{}, apperrors.NewIndexReadError(fmt.Sprintf("collection %s statistics failed", collection)).WithCause(err)
	}
	pointCount, _ := strconv.ParseInt(stats["row_count"], 10, 64)

	return CollectionInfo{
		Name:       collection,
		PointCount: pointCount,
		Dimension:  dimension,
		Metric:     "cosine",
	}, nil
}

func (s *milvusIndex) VerifyDeletion(ctx context.Context, collection string, filter Filter) (bool, error) {
	expr, err := milvusFilterExpr(filter)
	if err != nil {
		return false, apperrors.NewIndexReadError("invalid filter").WithCause(err)
	}

	has, err := s.client.HasCollection(ctx, collection)
	if err != nil {
		return false, apperrors.NewIndexReadError(fmt.Sprintf("check collection %s failed", collection)).WithCause(err)
	}
	if !has {
		return true, nil
	}

	resultSet, err := s.client.Query(ctx, collection, nil, expr, []string{"id"})
	if err != nil {
		return false, apperrors.NewIndexReadError("milvus query failed").WithCause(err)
	}
	return milvusResultLen(resultSet) == 0, nil
}

func (s *milvusIndex) Ready() bool {
	if s.client == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := s.client.ListCollections(ctx)
	return err == nil
}

func (s *milvusIndex) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// flush失败不影响已提交的写入，只记录警告
func (s *milvusIndex) flush(ctx context.Context, collection string) {
	if err := s.client.Flush(ctx, collection, false); err != nil {
		logger.Warn("milvus flush failed", zap.String("collection", collection), zap.Error(err))
	}
}

// milvusFilterExpr 把合取过滤器转换为Milvus布尔表达式
func milvusFilterExpr(filter Filter) (string, error) {
	if err := filter.Validate(); err != nil {
		return "", err
	}
	terms := make([]string, 0, len(filter.Conditions))
	for _, cond := range filter.Conditions {
		switch v := cond.Value.(type) {
		case string:
			terms = append(terms, fmt.Sprintf("%s == %s", cond.Field, strconv.Quote(v)))
		case uint:
			terms = append(terms, fmt.Sprintf("%s == %d", cond.Field, v))
		case uint64:
			terms = append(terms, fmt.Sprintf("%s == %d", cond.Field, v))
		case int:
			terms = append(terms, fmt.Sprintf("%s == %d", cond.Field, v))
		case int64:
			terms = append(terms, fmt.Sprintf("%s == %d", cond.Field, v))
		case float64:
			terms = append(terms, fmt.Sprintf("%s == %s", cond.Field, strconv.FormatFloat(v, 'f', -1, 64)))
		case bool:
			terms = append(terms, fmt.Sprintf("%s == %t", cond.Field, v))
		default:
			return "", fmt.Errorf("unsupported filter value type %T on field %q", cond.Value, cond.Field)
		}
	}
	return strings.Join(terms, " && "), nil
}

// milvusRowPayload 从结果列集合中取第i行组装载荷
func milvusRowPayload(columns []entity.Column, row int) Payload {
	payload := make(Payload, len(columns))
	for _, column := range columns {
		switch col := column.(type) {
		case *entity.ColumnInt64:
			data := col.Data()
			if row < len(data) {
				payload[col.Name()] = float64(data[row])
			}
		case *entity.ColumnVarChar:
			data := col.Data()
			if row < len(data) {
				payload[col.Name()] = data[row]
			}
		}
	}
	delete(payload, "id")
	return payload
}

func milvusResultLen(columns []entity.Column) int {
	for _, column := range columns {
		return column.Len()
	}
	return 0
}
