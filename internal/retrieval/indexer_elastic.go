package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/reporthub/backend-go/internal/config"
)

// ElasticsearchIndexer 基于ES的分块全文索引
//
// 所有分块写入单个索引，文档ID复用向量点ID，重复写入即覆盖。
type ElasticsearchIndexer struct {
	client    *elasticsearch.Client
	indexName string
	mu        sync.Mutex
	ensured   bool
}

// NewElasticsearchIndexer 创建ES索引器，地址为空时返回空实现
func NewElasticsearchIndexer(cfg config.FulltextConfig) (FulltextIndexer, error) {
	if !cfg.Enabled || len(cfg.Addresses) == 0 {
		return NoopFulltextIndexer{}, nil
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		APIKey:    cfg.APIKey,
	})
	if err != nil {
		return nil, err
	}

	prefix := cfg.IndexPrefix
	if prefix == "" {
		prefix = "reporthub"
	}

	return &ElasticsearchIndexer{
		client:    client,
		indexName: fmt.Sprintf("%s_chunks", prefix),
	}, nil
}

func (e *ElasticsearchIndexer) ensureIndex(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ensured {
		return nil
	}

	existsReq := esapi.IndicesExistsRequest{
		Index: []string{e.indexName},
	}
	resp, err := existsReq.Do(ctx, e.client)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == 200 {
		e.ensured = true
		return nil
	}

	mapping := map[string]interface{}{
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"point_id":    map[string]interface{}{"type": "keyword"},
				"report_id":   map[string]interface{}{"type": "long"},
				"employee_id": map[string]interface{}{"type": "long"},
				"chunk_index": map[string]interface{}{"type": "integer"},
				"report_date": map[string]interface{}{"type": "date", "format": "yyyy-MM-dd"},
				"text": map[string]interface{}{
					"type":          "text",
					"analyzer":      "standard",
					"index_options": "offsets",
				},
				"created_at": map[string]interface{}{"type": "date"},
			},
		},
	}

	body, _ := json.Marshal(mapping)
	createReq := esapi.IndicesCreateRequest{
		Index: e.indexName,
		Body:  bytes.NewReader(body),
	}
	createResp, err := createReq.Do(ctx, e.client)
	if err != nil {
		return err
	}
	defer createResp.Body.Close()

	if createResp.IsError() {
		return fmt.Errorf("create index error: %s", createResp.String())
	}

	e.ensured = true
	return nil
}

func (e *ElasticsearchIndexer) IndexChunk(ctx context.Context, chunk FulltextChunk) error {
	if e.client == nil {
		return nil
	}
	if err := e.ensureIndex(ctx); err != nil {
		return err
	}

	payload, _ := json.Marshal(chunk)
	req := esapi.IndexRequest{
		Index:      e.indexName,
		DocumentID: chunk.PointID,
		Body:       bytes.NewReader(payload),
		Refresh:    "true",
	}

	resp, err := req.Do(ctx, e.client)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return fmt.Errorf("index chunk error: %s", resp.String())
	}

	return nil
}

func (e *ElasticsearchIndexer) RemoveReport(ctx context.Context, reportID uint) error {
	if e.client == nil {
		return nil
	}

	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{
				"report_id": reportID,
			},
		},
	}

	body, _ := json.Marshal(query)
	req := esapi.DeleteByQueryRequest{
		Index: []string{e.indexName},
		Body:  bytes.NewReader(body),
	}

	resp, err := req.Do(ctx, e.client)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return fmt.Errorf("delete report chunks error: %s", resp.String())
	}

	return nil
}

func (e *ElasticsearchIndexer) KeywordSearch(ctx context.Context, query string, employeeID uint, limit int) ([]KeywordMatch, error) {
	if e.client == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	if err := e.ensureIndex(ctx); err != nil {
		return nil, err
	}

	// match_phrase 精确短语优先，match 模糊匹配兜底
	boolQuery := map[string]interface{}{
		"must": []interface{}{
			map[string]interface{}{
				"term": map[string]interface{}{
					"employee_id": employeeID,
				},
			},
		},
		"should": []interface{}{
			map[string]interface{}{
				"match_phrase": map[string]interface{}{
					"text": map[string]interface{}{
						"query": query,
						"boost": 3.0,
					},
				},
			},
			map[string]interface{}{
				"match": map[string]interface{}{
					"text": map[string]interface{}{
						"query":                query,
						"operator":             "and",
						"minimum_should_match": "70%",
						"boost":                1.0,
					},
				},
			},
		},
		"minimum_should_match": 1,
	}

	body := map[string]interface{}{
		"size": limit,
		"query": map[string]interface{}{
			"bool": boolQuery,
		},
		"highlight": map[string]interface{}{
			"fields": map[string]interface{}{
				"text": map[string]interface{}{
					"fragment_size":       150,
					"number_of_fragments": 1,
					"pre_tags":            []string{"<mark>"},
					"post_tags":           []string{"</mark>"},
				},
			},
		},
	}

	payload, _ := json.Marshal(body)
	searchReq := esapi.SearchRequest{
		Index: []string{e.indexName},
		Body:  bytes.NewReader(payload),
	}

	resp, err := searchReq.Do(ctx, e.client)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return nil, fmt.Errorf("keyword search error: %s", resp.String())
	}

	var result struct {
		Hits struct {
			Hits []struct {
				ID        string              `json:"_id"`
				Score     float64             `json:"_score"`
				Source    FulltextChunk       `json:"_source"`
				Highlight map[string][]string `json:"highlight"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	matches := make([]KeywordMatch, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		match := KeywordMatch{
			PointID:    hit.ID,
			ReportID:   hit.Source.ReportID,
			EmployeeID: hit.Source.EmployeeID,
			ChunkIndex: hit.Source.ChunkIndex,
			ReportDate: hit.Source.ReportDate,
			Text:       hit.Source.Text,
			Score:      hit.Score,
		}
		if fragments := hit.Highlight["text"]; len(fragments) > 0 {
			match.Highlight = fragments[0]
		}
		matches = append(matches, match)
	}

	return matches, nil
}

func (e *ElasticsearchIndexer) Ready() bool {
	return e.client != nil
}
