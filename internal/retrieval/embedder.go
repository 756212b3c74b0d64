package retrieval

import (
	"context"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/reporthub/backend-go/internal/config"
	apperrors "github.com/reporthub/backend-go/internal/errors"
)

// dimensionProbeText 探测嵌入维度用的固定文本，进程内只探测一次并缓存
const dimensionProbeText = "Test text"

// Embedder 定义文本向量化接口
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelName() string
	Ready() bool
}

// NewEmbedder 按配置选择嵌入提供方，无法识别时退化为Noop
func NewEmbedder(cfg config.EmbeddingConfig) Embedder {
	switch strings.ToLower(cfg.Provider) {
	case "ollama":
		return NewOllamaEmbedder(OllamaOptions{
			BaseURL: cfg.Ollama.BaseURL,
			Model:   cfg.Ollama.Model,
			Timeout: time.Duration(cfg.Ollama.Timeout) * time.Second,
		})
	case "openai":
		return NewOpenAIEmbedder(cfg.OpenAI.APIKey, cfg.OpenAI.Model)
	default:
		return NewNoopEmbedder(0)
	}
}

// probeDimensions 用固定探测文本求一次维度，失败返回0
func probeDimensions(e Embedder) int {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	vec, err := e.Embed(ctx, dimensionProbeText)
	if err != nil {
		return 0
	}
	return len(vec)
}

// NoopEmbedder 零向量占位实现，用于降级运行与测试
type NoopEmbedder struct {
	dimensions int
}

// NewNoopEmbedder 创建零向量嵌入器
func NewNoopEmbedder(dimensions int) *NoopEmbedder {
	if dimensions <= 0 {
		dimensions = 8
	}
	return &NoopEmbedder{dimensions: dimensions}
}

func (n *NoopEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.NewEmbeddingError("text is empty")
	}
	return make([]float32, n.dimensions), nil
}

func (n *NoopEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := n.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, vec)
	}
	return out, nil
}

func (n *NoopEmbedder) Dimensions() int {
	return n.dimensions
}

func (n *NoopEmbedder) ModelName() string {
	return "noop"
}

func (n *NoopEmbedder) Ready() bool {
	return true
}

// OpenAI各嵌入模型的公开维度，避免为拿维度多付一次探测调用
var openaiEmbeddingDimensions = map[string]int{
	"text-embedding-3-large": 3072,
	"text-embedding-3-small": 1536,
	"text-embedding-ada-002": 1536,
}

// OpenAIEmbedder 使用OpenAI Embedding API
type OpenAIEmbedder struct {
	client *openai.Client
	model  string

	probeMu sync.Mutex
	probed  int
}

// NewOpenAIEmbedder 创建OpenAI嵌入向量生成器，密钥为空时退化为Noop
func NewOpenAIEmbedder(apiKey, model string) Embedder {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return NewNoopEmbedder(0)
	}
	if model == "" {
		model = "text-embedding-3-small"
	}

	return &OpenAIEmbedder{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, apperrors.NewEmbeddingError("text is empty")
		}
	}
	if e.client == nil {
		return nil, apperrors.NewEmbeddingError("openai client not initialized")
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: texts,
	})
	if err != nil {
		return nil, apperrors.NewEmbeddingError("openai embedding request failed").WithCause(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, apperrors.NewEmbeddingError("openai embedding response incomplete")
	}

	out := make([][]float32, len(resp.Data))
	for i, item := range resp.Data {
		vec := make([]float32, len(item.Embedding))
		copy(vec, item.Embedding)
		out[i] = vec
	}
	return out, nil
}

func (e *OpenAIEmbedder) Dimensions() int {
	if dims, ok := openaiEmbeddingDimensions[e.model]; ok {
		return dims
	}
	e.probeMu.Lock()
	defer e.probeMu.Unlock()
	if e.probed == 0 {
		e.probed = probeDimensions(e)
	}
	return e.probed
}

func (e *OpenAIEmbedder) ModelName() string {
	return e.model
}

func (e *OpenAIEmbedder) Ready() bool {
	return e.client != nil
}
