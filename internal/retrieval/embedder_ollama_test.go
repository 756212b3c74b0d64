package retrieval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/reporthub/backend-go/internal/errors"
)

func newOllamaTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *OllamaEmbedder) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	embedder := NewOllamaEmbedder(OllamaOptions{
		BaseURL: server.URL,
		Model:   "llama3.1:8b",
	})
	return server, embedder
}

func TestOllamaEmbedderEmbed(t *testing.T) {
	var gotPath string
	var gotBody map[string]interface{}

	_, embedder := newOllamaTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"embeddings": [][]float32{{0.1, 0.2, 0.3}},
		})
	})

	vec, err := embedder.Embed(context.Background(), "daily report text")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)

	// 请求走embed端点，携带model和input字段
	assert.Equal(t, "/api/embed", gotPath)
	assert.Equal(t, "llama3.1:8b", gotBody["model"])
	assert.Equal(t, "daily report text", gotBody["input"])
}

func TestOllamaEmbedderEmbedBatch(t *testing.T) {
	_, embedder := newOllamaTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		inputs, ok := req["input"].([]interface{})
		require.True(t, ok, "batch input should be a list")

		embeddings := make([][]float32, len(inputs))
		for i := range inputs {
			embeddings[i] = []float32{float32(i), float32(i)}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"embeddings": embeddings})
	})

	vectors, err := embedder.EmbedBatch(context.Background(), []string{"one", "two", "three"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, []float32{2, 2}, vectors[2])
}

func TestOllamaEmbedderEmptyText(t *testing.T) {
	embedder := NewOllamaEmbedder(OllamaOptions{BaseURL: "http://localhost:1"})

	_, err := embedder.Embed(context.Background(), "   ")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeEmbedding))
}

func TestOllamaEmbedderServerError(t *testing.T) {
	_, embedder := newOllamaTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "model not loaded"})
	})

	_, err := embedder.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeEmbedding))
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestOllamaEmbedderUnreachable(t *testing.T) {
	embedder := NewOllamaEmbedder(OllamaOptions{BaseURL: "http://127.0.0.1:1"})

	_, err := embedder.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeEmbedding))
}

func TestOllamaEmbedderDimensionsProbeCached(t *testing.T) {
	var calls int32
	_, embedder := newOllamaTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Test text", req["input"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"embeddings": [][]float32{make([]float32, 4096)},
		})
	})

	assert.Equal(t, 4096, embedder.Dimensions())
	assert.Equal(t, 4096, embedder.Dimensions())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "probe result should be cached")
}

func TestOllamaEmbedderDimensionsRetriesAfterFailure(t *testing.T) {
	var calls int32
	_, embedder := newOllamaTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"embeddings": [][]float32{make([]float32, 1024)},
		})
	})

	// 失败不缓存，下一次调用重新探测
	assert.Equal(t, 0, embedder.Dimensions())
	assert.Equal(t, 1024, embedder.Dimensions())
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
