package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/reporthub/backend-go/internal/errors"
)

// QdrantOptions Qdrant客户端配置
type QdrantOptions struct {
	Host    string
	Port    int
	APIKey  string
	UseTLS  bool
	Timeout time.Duration
}

type qdrantIndex struct {
	client   *http.Client
	endpoint string
	apiKey   string
}

// NewQdrantIndex 创建基于REST接口的Qdrant向量索引
func NewQdrantIndex(opts QdrantOptions) (VectorIndex, error) {
	if opts.Host == "" {
		opts.Host = "localhost"
	}
	if opts.Port == 0 {
		opts.Port = 6333
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	scheme := "http"
	if opts.UseTLS {
		scheme = "https"
	}

	return &qdrantIndex{
		client:   &http.Client{Timeout: timeout},
		endpoint: fmt.Sprintf("%s://%s:%d", scheme, opts.Host, opts.Port),
		apiKey:   opts.APIKey,
	}, nil
}

func (s *qdrantIndex) SetupCollection(ctx context.Context, collection string, dimension int) error {
	if dimension <= 0 {
		return apperrors.NewConfigurationError(fmt.Sprintf("collection %s requires a positive dimension, got %d", collection, dimension))
	}

	resp, err := s.doRequest(ctx, http.MethodGet, fmt.Sprintf("/collections/%s", collection), nil)
	if err == nil && resp.StatusCode == http.StatusOK {
		drainBody(resp)
		return nil
	}
	if resp != nil {
		drainBody(resp)
	}

	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	resp, err = s.doRequest(ctx, http.MethodPut, fmt.Sprintf("/collections/%s", collection), body)
	if err != nil {
		return apperrors.NewIndexWriteError(fmt.Sprintf("create collection %s failed", collection)).WithCause(err)
	}
	defer resp.Body.Close()

	// 并发初始化时另一调用可能先建好集合，冲突视为成功
	if resp.StatusCode == http.StatusConflict {
		return nil
	}
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return apperrors.NewIndexWriteError(fmt.Sprintf("create collection %s failed: %s %s", collection, resp.Status, string(raw)))
	}

	return nil
}

func (s *qdrantIndex) UpsertPoint(ctx context.Context, collection string, pointID string, vector []float32, payload Payload) error {
	if len(vector) == 0 {
		return apperrors.NewIndexWriteError("embedding is empty")
	}

	body := map[string]interface{}{
		"points": []map[string]interface{}{
			{
				"id":      pointID,
				"vector":  vector,
				"payload": payload,
			},
		},
	}

	resp, err := s.doRequest(ctx, http.MethodPut, fmt.Sprintf("/collections/%s/points?wait=true", collection), body)
	if err != nil {
		return apperrors.NewIndexWriteError("qdrant upsert failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return apperrors.NewIndexWriteError(fmt.Sprintf("qdrant upsert failed: %s %s", resp.Status, string(raw)))
	}

	return nil
}

func (s *qdrantIndex) Search(ctx context.Context, collection string, vector []float32, limit int, filter Filter) ([]ScoredPoint, error) {
	if len(vector) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	body := map[string]interface{}{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
		"with_vectors": false,
	}
	if !filter.IsZero() {
		body["filter"] = qdrantFilter(filter)
	}

	resp, err := s.doRequest(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/search", collection), body)
	if err != nil {
		return nil, apperrors.NewIndexReadError("qdrant search failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, apperrors.NewIndexReadError(fmt.Sprintf("qdrant search failed: %s %s", resp.Status, string(raw)))
	}

	var searchResp struct {
		Result []struct {
			ID      interface{} `json:"id"`
			Score   float64     `json:"score"`
			Payload Payload     `json:"payload"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, apperrors.NewIndexReadError("decode qdrant search response failed").WithCause(err)
	}

	results := make([]ScoredPoint, 0, len(searchResp.Result))
	for _, item := range searchResp.Result {
		payload := item.Payload
		if payload == nil {
			payload = Payload{}
		}
		results = append(results, ScoredPoint{
			ID:      pointIDString(item.ID),
			Score:   item.Score,
			Payload: payload,
		})
	}

	return results, nil
}

func (s *qdrantIndex) RetrievePoint(ctx context.Context, collection string, pointID string) (Payload, bool, error) {
	resp, err := s.doRequest(ctx, http.MethodGet, fmt.Sprintf("/collections/%s/points/%s", collection, pointID), nil)
	if err != nil {
		return nil, false, apperrors.NewIndexReadError("qdrant retrieve failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, false, apperrors.NewIndexReadError(fmt.Sprintf("qdrant retrieve failed: %s %s", resp.Status, string(raw)))
	}

	var retrieveResp struct {
		Result struct {
			ID      interface{} `json:"id"`
			Payload Payload     `json:"payload"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&retrieveResp); err != nil {
		return nil, false, apperrors.NewIndexReadError("decode qdrant retrieve response failed").WithCause(err)
	}

	payload := retrieveResp.Result.Payload
	if payload == nil {
		payload = Payload{}
	}
	return payload, true, nil
}

func (s *qdrantIndex) DeletePoints(ctx context.Context, collection string, selector PointSelector) error {
	if err := selector.Validate(); err != nil {
		return apperrors.NewIndexWriteError("invalid point selector").WithCause(err)
	}

	var body map[string]interface{}
	if len(selector.PointIDs) > 0 {
		body = map[string]interface{}{"points": selector.PointIDs}
	} else {
		body = map[string]interface{}{"filter": qdrantFilter(*selector.Filter)}
	}

	resp, err := s.doRequest(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/delete?wait=true", collection), body)
	if err != nil {
		return apperrors.NewIndexWriteError("qdrant delete failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return apperrors.NewIndexWriteError(fmt.Sprintf("qdrant delete failed: %s %s", resp.Status, string(raw)))
	}

	return nil
}

func (s *qdrantIndex) CollectionInfo(ctx context.Context, collection string) (CollectionInfo, error) {
	resp, err := s.doRequest(ctx, http.MethodGet, fmt.Sprintf("/collections/%s", collection), nil)
	if err != nil {
		return CollectionInfo{}, apperrors.NewIndexReadError("qdrant collection info failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return CollectionInfo{}, apperrors.NewIndexReadError(fmt.Sprintf("qdrant collection info failed: %s %s", resp.Status, string(raw)))
	}

	var infoResp struct {
		Result struct {
			PointsCount int64 `json:"points_count"`
			Config      struct {
				Params struct {
					Vectors struct {
						Size     int    `json:"size"`
						Distance string `json:"distance"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&infoResp); err != nil {
		return CollectionInfo{}, apperrors.NewIndexReadError("decode qdrant collection info failed").WithCause(err)
	}

	return CollectionInfo{
		Name:       collection,
		PointCount: infoResp.Result.PointsCount,
		Dimension:  infoResp.Result.Config.Params.Vectors.Size,
		Metric:     strings.ToLower(infoResp.Result.Config.Params.Vectors.Distance),
	}, nil
}

func (s *qdrantIndex) VerifyDeletion(ctx context.Context, collection string, filter Filter) (bool, error) {
	if err := filter.Validate(); err != nil {
		return false, apperrors.NewIndexReadError("invalid filter").WithCause(err)
	}

	body := map[string]interface{}{
		"filter": qdrantFilter(filter),
		"exact":  true,
	}

	resp, err := s.doRequest(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/count", collection), body)
	if err != nil {
		return false, apperrors.NewIndexReadError("qdrant count failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return false, apperrors.NewIndexReadError(fmt.Sprintf("qdrant count failed: %s %s", resp.Status, string(raw)))
	}

	var countResp struct {
		Result struct {
			Count int64 `json:"count"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&countResp); err != nil {
		return false, apperrors.NewIndexReadError("decode qdrant count response failed").WithCause(err)
	}

	return countResp.Result.Count == 0, nil
}

func (s *qdrantIndex) Ready() bool {
	return s.client != nil
}

func (s *qdrantIndex) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// qdrantFilter 把合取过滤器转换为Qdrant的must匹配表达式
func qdrantFilter(filter Filter) map[string]interface{} {
	must := make([]map[string]interface{}, 0, len(filter.Conditions))
	for _, cond := range filter.Conditions {
		must = append(must, map[string]interface{}{
			"key": cond.Field,
			"match": map[string]interface{}{
				"value": cond.Value,
			},
		})
	}
	return map[string]interface{}{"must": must}
}

func pointIDString(val interface{}) string {
	switch v := val.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func drainBody(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func (s *qdrantIndex) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.endpoint+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	return s.client.Do(req)
}
