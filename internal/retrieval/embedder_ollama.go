package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	apperrors "github.com/reporthub/backend-go/internal/errors"
)

// OllamaOptions Ollama嵌入客户端配置
type OllamaOptions struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OllamaEmbedder 使用本地Ollama的embed接口生成向量
type OllamaEmbedder struct {
	client  *http.Client
	baseURL string
	model   string

	probeMu sync.Mutex
	probed  int
}

// NewOllamaEmbedder 创建Ollama嵌入向量生成器
func NewOllamaEmbedder(opts OllamaOptions) *OllamaEmbedder {
	if opts.BaseURL == "" {
		opts.BaseURL = "http://localhost:11434"
	}
	if opts.Model == "" {
		opts.Model = "llama3.1:8b"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}

	return &OllamaEmbedder{
		client:  &http.Client{Timeout: opts.Timeout},
		baseURL: strings.TrimSuffix(opts.BaseURL, "/"),
		model:   opts.Model,
	}
}

type ollamaEmbedRequest struct {
	Model string      `json:"model"`
	Input interface{} `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.NewEmbeddingError("text is empty")
	}

	resp, err := e.embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		return nil, apperrors.NewEmbeddingError("ollama returned empty embedding")
	}
	return resp.Embeddings[0], nil
}

func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, apperrors.NewEmbeddingError("text is empty")
		}
	}

	resp, err := e.embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, apperrors.NewEmbeddingError(fmt.Sprintf("ollama returned %d embeddings for %d inputs", len(resp.Embeddings), len(texts)))
	}
	return resp.Embeddings, nil
}

func (e *OllamaEmbedder) embed(ctx context.Context, input interface{}) (*ollamaEmbedResponse, error) {
	payload, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Input: input})
	if err != nil {
		return nil, apperrors.NewEmbeddingError("marshal embed request failed").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, apperrors.NewEmbeddingError("build embed request failed").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := e.client.Do(req)
	if err != nil {
		return nil, apperrors.NewEmbeddingError("ollama request failed").WithCause(err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, apperrors.NewEmbeddingError("read ollama response failed").WithCause(err)
	}

	var resp ollamaEmbedResponse
	if httpResp.StatusCode >= 300 {
		// 错误响应体不一定是JSON，能解出error字段就用，解不出用状态行
		_ = json.Unmarshal(body, &resp)
		msg := resp.Error
		if msg == "" {
			msg = httpResp.Status
		}
		return nil, apperrors.NewEmbeddingError(fmt.Sprintf("ollama embed failed: %s", msg))
	}

	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperrors.NewEmbeddingError("decode ollama response failed").WithCause(err)
	}

	return &resp, nil
}

// Dimensions 返回嵌入维度，基于固定探测文本求得
// 只缓存成功的探测结果，探测失败返回0，下次调用会重试
func (e *OllamaEmbedder) Dimensions() int {
	e.probeMu.Lock()
	defer e.probeMu.Unlock()
	if e.probed == 0 {
		e.probed = probeDimensions(e)
	}
	return e.probed
}

func (e *OllamaEmbedder) ModelName() string {
	return e.model
}

// Ready 探测模型是否可以生成向量
func (e *OllamaEmbedder) Ready() bool {
	return e.Dimensions() > 0
}
