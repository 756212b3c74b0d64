package retrieval

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	apperrors "github.com/reporthub/backend-go/internal/errors"
)

// chromemLockFile 独占锁文件名，本地存储路径同一时间只允许一个进程持有
const chromemLockFile = ".lock"

// ChromemOptions 内嵌向量存储配置
type ChromemOptions struct {
	Path     string
	Compress bool
}

type chromemIndex struct {
	db       *chromem.DB
	path     string
	lockFile *os.File

	mu          sync.Mutex
	collections map[string]*chromem.Collection
	dims        map[string]int
}

// NewChromemIndex 创建基于chromem-go的内嵌向量索引
// 通过O_EXCL锁文件独占存储路径，已被占用时立即返回StorageLocked错误而不是等待
func NewChromemIndex(opts ChromemOptions) (VectorIndex, error) {
	if opts.Path == "" {
		return nil, apperrors.NewConfigurationError("chromem vector index requires a storage path")
	}

	if err := os.MkdirAll(opts.Path, 0o755); err != nil {
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("create vector storage path %s failed", opts.Path)).WithCause(err)
	}

	lockPath := filepath.Join(opts.Path, chromemLockFile)
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, apperrors.NewStorageLockedError(opts.Path)
		}
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("acquire storage lock %s failed", lockPath)).WithCause(err)
	}
	fmt.Fprintf(lockFile, "%d\n", os.Getpid())

	db, err := chromem.NewPersistentDB(opts.Path, opts.Compress)
	if err != nil {
		lockFile.Close()
		os.Remove(lockPath)
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("open chromem storage %s failed", opts.Path)).WithCause(err)
	}

	return &chromemIndex{
		db:          db,
		path:        opts.Path,
		lockFile:    lockFile,
		collections: make(map[string]*chromem.Collection),
		dims:        make(map[string]int),
	}, nil
}

func (s *chromemIndex) SetupCollection(ctx context.Context, collection string, dimension int) error {
	if dimension <= 0 {
		return apperrors.NewConfigurationError(fmt.Sprintf("collection %s requires a positive dimension, got %d", collection, dimension))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getOrCreateLocked(collection); err != nil {
		return apperrors.NewIndexWriteError(fmt.Sprintf("create collection %s failed", collection)).WithCause(err)
	}

	if s.dims[collection] != dimension {
		s.dims[collection] = dimension
		// 维度随存储一起落盘，进程重启后CollectionInfo和删除校验仍然可用
		if err := os.WriteFile(s.dimFilePath(collection), []byte(strconv.Itoa(dimension)), 0o644); err != nil {
			return apperrors.NewIndexWriteError(fmt.Sprintf("persist dimension for collection %s failed", collection)).WithCause(err)
		}
	}

	return nil
}

func (s *chromemIndex) UpsertPoint(ctx context.Context, collection string, pointID string, vector []float32, payload Payload) error {
	if len(vector) == 0 {
		return apperrors.NewIndexWriteError("embedding is empty")
	}

	s.mu.Lock()
	col, err := s.getOrCreateLocked(collection)
	if err == nil && s.dims[collection] == 0 {
		s.dims[collection] = len(vector)
	}
	s.mu.Unlock()
	if err != nil {
		return apperrors.NewIndexWriteError(fmt.Sprintf("open collection %s failed", collection)).WithCause(err)
	}

	metadata := payloadToMetadata(payload)
	err = col.Add(ctx,
		[]string{pointID},
		[][]float32{vector},
		[]map[string]string{metadata},
		[]string{payload.Text()},
	)
	if err != nil {
		return apperrors.NewIndexWriteError("chromem upsert failed").WithCause(err)
	}
	return nil
}

func (s *chromemIndex) Search(ctx context.Context, collection string, vector []float32, limit int, filter Filter) ([]ScoredPoint, error) {
	if len(vector) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	col := s.getCollection(collection)
	if col == nil {
		return []ScoredPoint{}, nil
	}

	count := col.Count()
	if count == 0 {
		return []ScoredPoint{}, nil
	}
	if limit > count {
		limit = count
	}

	results, err := col.QueryEmbedding(ctx, vector, limit, filter.StringValues(), nil)
	if err != nil {
		return nil, apperrors.NewIndexReadError("chromem search failed").WithCause(err)
	}

	points := make([]ScoredPoint, 0, len(results))
	for _, result := range results {
		points = append(points, ScoredPoint{
			ID:      result.ID,
			Score:   float64(result.Similarity),
			Payload: metadataToPayload(result.Metadata, result.Content),
		})
	}
	return points, nil
}

func (s *chromemIndex) RetrievePoint(ctx context.Context, collection string, pointID string) (Payload, bool, error) {
	col := s.getCollection(collection)
	if col == nil {
		return nil, false, nil
	}

	doc, err := col.GetByID(ctx, pointID)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return nil, false, nil
		}
		return nil, false, apperrors.NewIndexReadError("chromem retrieve failed").WithCause(err)
	}

	return metadataToPayload(doc.Metadata, doc.Content), true, nil
}

func (s *chromemIndex) DeletePoints(ctx context.Context, collection string, selector PointSelector) error {
	if err := selector.Validate(); err != nil {
		return apperrors.NewIndexWriteError("invalid point selector").WithCause(err)
	}

	col := s.getCollection(collection)
	if col == nil {
		return nil
	}

	var err error
	if len(selector.PointIDs) > 0 {
		err = col.Delete(ctx, nil, nil, selector.PointIDs...)
	} else {
		err = col.Delete(ctx, selector.Filter.StringValues(), nil)
	}
	if err != nil {
		return apperrors.NewIndexWriteError("chromem delete failed").WithCause(err)
	}
	return nil
}

func (s *chromemIndex) CollectionInfo(ctx context.Context, collection string) (CollectionInfo, error) {
	col := s.getCollection(collection)
	if col == nil {
		return CollectionInfo{}, apperrors.NewIndexReadError(fmt.Sprintf("collection %s not found", collection))
	}

	return CollectionInfo{
		Name:       collection,
		PointCount: int64(col.Count()),
		Dimension:  s.collectionDim(collection),
		Metric:     "cosine",
	}, nil
}

func (s *chromemIndex) VerifyDeletion(ctx context.Context, collection string, filter Filter) (bool, error) {
	if err := filter.Validate(); err != nil {
		return false, apperrors.NewIndexReadError("invalid filter").WithCause(err)
	}

	col := s.getCollection(collection)
	if col == nil || col.Count() == 0 {
		return true, nil
	}

	dim := s.collectionDim(collection)
	if dim <= 0 {
		return false, apperrors.NewIndexReadError(fmt.Sprintf("collection %s dimension unknown, run setup first", collection))
	}

	// chromem没有按元数据计数的接口，用单位探测向量查一条命中即可判定
	probe := make([]float32, dim)
	probe[0] = 1
	results, err := col.QueryEmbedding(ctx, probe, 1, filter.StringValues(), nil)
	if err != nil {
		return false, apperrors.NewIndexReadError("chromem verify failed").WithCause(err)
	}
	return len(results) == 0, nil
}

func (s *chromemIndex) Ready() bool {
	return s.db != nil
}

// Close 释放存储路径的独占锁
func (s *chromemIndex) Close() error {
	if s.lockFile == nil {
		return nil
	}
	s.lockFile.Close()
	s.lockFile = nil
	return os.Remove(filepath.Join(s.path, chromemLockFile))
}

func (s *chromemIndex) getOrCreateLocked(collection string) (*chromem.Collection, error) {
	if col, ok := s.collections[collection]; ok {
		return col, nil
	}
	col, err := s.db.GetOrCreateCollection(collection, map[string]string{"hnsw:space": "cosine"}, nil)
	if err != nil {
		return nil, err
	}
	s.collections[collection] = col
	return col, nil
}

// getCollection 只查找已有集合，避免读路径隐式建集合
func (s *chromemIndex) getCollection(collection string) *chromem.Collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.collections[collection]; ok {
		return col
	}
	col := s.db.GetCollection(collection, nil)
	if col != nil {
		s.collections[collection] = col
	}
	return col
}

func (s *chromemIndex) collectionDim(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dim, ok := s.dims[collection]; ok && dim > 0 {
		return dim
	}
	raw, err := os.ReadFile(s.dimFilePath(collection))
	if err != nil {
		return 0
	}
	dim, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || dim <= 0 {
		return 0
	}
	s.dims[collection] = dim
	return dim
}

func (s *chromemIndex) dimFilePath(collection string) string {
	return filepath.Join(s.path, collection+".dim")
}

// chromem只支持字符串元数据，数值字段在读回时还原为数值
var numericPayloadKeys = map[string]bool{
	PayloadKeyReportID:   true,
	PayloadKeyEmployeeID: true,
	PayloadKeyChunkIndex: true,
}

func payloadToMetadata(payload Payload) map[string]string {
	metadata := make(map[string]string, len(payload))
	for key, value := range payload {
		if key == PayloadKeyText {
			continue
		}
		metadata[key] = formatFilterValue(value)
	}
	return metadata
}

func metadataToPayload(metadata map[string]string, content string) Payload {
	payload := make(Payload, len(metadata)+1)
	for key, value := range metadata {
		if numericPayloadKeys[key] {
			if parsed, err := strconv.ParseFloat(value, 64); err == nil {
				payload[key] = parsed
				continue
			}
		}
		payload[key] = value
	}
	payload[PayloadKeyText] = content
	return payload
}
