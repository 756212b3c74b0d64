package retrieval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/reporthub/backend-go/internal/errors"
)

func newQdrantTestIndex(t *testing.T, handler http.Handler) VectorIndex {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	parsed, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(parsed.Port())
	require.NoError(t, err)

	index, err := NewQdrantIndex(QdrantOptions{
		Host:   parsed.Hostname(),
		Port:   port,
		APIKey: "test-key",
	})
	require.NoError(t, err)
	return index
}

func TestQdrantSetupCollectionCreates(t *testing.T) {
	var createBody map[string]interface{}

	index := newQdrantTestIndex(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/collections/reports":
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/reports":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&createBody))
			json.NewEncoder(w).Encode(map[string]interface{}{"result": true})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))

	require.NoError(t, index.SetupCollection(context.Background(), "reports", 768))

	vectors := createBody["vectors"].(map[string]interface{})
	assert.Equal(t, float64(768), vectors["size"])
	assert.Equal(t, "Cosine", vectors["distance"])
}

func TestQdrantSetupCollectionIdempotent(t *testing.T) {
	index := newQdrantTestIndex(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 已存在的集合只会收到探测请求
		require.Equal(t, http.MethodGet, r.Method)
		json.NewEncoder(w).Encode(map[string]interface{}{"result": map[string]interface{}{}})
	}))

	require.NoError(t, index.SetupCollection(context.Background(), "reports", 768))
	require.NoError(t, index.SetupCollection(context.Background(), "reports", 768))
}

func TestQdrantSetupCollectionConcurrentConflict(t *testing.T) {
	index := newQdrantTestIndex(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusConflict)
	}))

	// 并发创建时的409视为成功
	assert.NoError(t, index.SetupCollection(context.Background(), "reports", 768))
}

func TestQdrantSetupCollectionRejectsZeroDimension(t *testing.T) {
	index := newQdrantTestIndex(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for invalid dimension")
	}))

	err := index.SetupCollection(context.Background(), "reports", 0)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConfiguration))
}

func TestQdrantUpsertPoint(t *testing.T) {
	var gotBody map[string]interface{}
	var gotAPIKey string
	var gotQuery url.Values

	index := newQdrantTestIndex(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/collections/reports/points", r.URL.Path)
		gotAPIKey = r.Header.Get("api-key")
		gotQuery = r.URL.Query()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]interface{}{"result": map[string]interface{}{}})
	}))

	payload := Payload{
		PayloadKeyReportID:   float64(7),
		PayloadKeyEmployeeID: float64(42),
		PayloadKeyChunkIndex: float64(0),
		PayloadKeyReportDate: "2024-03-01",
		PayloadKeyText:       "chunk text",
	}
	err := index.UpsertPoint(context.Background(), "reports", "point-1", []float32{0.1, 0.2}, payload)
	require.NoError(t, err)

	assert.Equal(t, "test-key", gotAPIKey)
	assert.Equal(t, "true", gotQuery.Get("wait"))

	points := gotBody["points"].([]interface{})
	require.Len(t, points, 1)
	point := points[0].(map[string]interface{})
	assert.Equal(t, "point-1", point["id"])
	assert.Equal(t, "chunk text", point["payload"].(map[string]interface{})[PayloadKeyText])
}

func TestQdrantUpsertPointEmptyVector(t *testing.T) {
	index := newQdrantTestIndex(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for empty vector")
	}))

	err := index.UpsertPoint(context.Background(), "reports", "p", nil, Payload{})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeIndexWrite))
}

func TestQdrantSearchWithFilter(t *testing.T) {
	var gotBody map[string]interface{}

	index := newQdrantTestIndex(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/collections/reports/points/search", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"result": []map[string]interface{}{
				{
					"id":    "point-1",
					"score": 0.91,
					"payload": map[string]interface{}{
						PayloadKeyReportID:   7,
						PayloadKeyEmployeeID: 42,
						PayloadKeyText:       "matched chunk",
					},
				},
				{"id": "point-2", "score": 0.40},
			},
		})
	}))

	filter := NewEqualsFilter(PayloadKeyEmployeeID, uint(42))
	points, err := index.Search(context.Background(), "reports", []float32{0.5, 0.5}, 5, filter)
	require.NoError(t, err)
	require.Len(t, points, 2)

	assert.Equal(t, "point-1", points[0].ID)
	assert.InDelta(t, 0.91, points[0].Score, 1e-9)
	assert.Equal(t, "matched chunk", points[0].Payload.Text())
	assert.Equal(t, uint(42), points[0].Payload.UintField(PayloadKeyEmployeeID))

	// 无载荷的命中返回空载荷而不是nil
	assert.NotNil(t, points[1].Payload)

	assert.Equal(t, float64(5), gotBody["limit"])
	assert.Equal(t, true, gotBody["with_payload"])
	must := gotBody["filter"].(map[string]interface{})["must"].([]interface{})
	require.Len(t, must, 1)
	cond := must[0].(map[string]interface{})
	assert.Equal(t, PayloadKeyEmployeeID, cond["key"])
	assert.Equal(t, float64(42), cond["match"].(map[string]interface{})["value"])
}

func TestQdrantSearchEmptyVector(t *testing.T) {
	index := newQdrantTestIndex(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for empty vector")
	}))

	points, err := index.Search(context.Background(), "reports", nil, 5, Filter{})
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestQdrantRetrievePoint(t *testing.T) {
	index := newQdrantTestIndex(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/collections/reports/points/known" {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"result": map[string]interface{}{
					"id":      "known",
					"payload": map[string]interface{}{PayloadKeyText: "stored chunk"},
				},
			})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))

	payload, found, err := index.RetrievePoint(context.Background(), "reports", "known")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "stored chunk", payload.Text())

	_, found, err = index.RetrievePoint(context.Background(), "reports", "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestQdrantDeletePoints(t *testing.T) {
	var bodies []map[string]interface{}

	index := newQdrantTestIndex(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/collections/reports/points/delete", r.URL.Path)
		require.Equal(t, "true", r.URL.Query().Get("wait"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies = append(bodies, body)
		json.NewEncoder(w).Encode(map[string]interface{}{"result": map[string]interface{}{}})
	}))

	err := index.DeletePoints(context.Background(), "reports", SelectPoints("point-1", "point-2"))
	require.NoError(t, err)

	filter := NewEqualsFilter(PayloadKeyReportID, uint(7))
	err = index.DeletePoints(context.Background(), "reports", SelectByFilter(filter))
	require.NoError(t, err)

	require.Len(t, bodies, 2)
	assert.Equal(t, []interface{}{"point-1", "point-2"}, bodies[0]["points"])
	assert.Contains(t, bodies[1], "filter")
}

func TestQdrantDeletePointsInvalidSelector(t *testing.T) {
	index := newQdrantTestIndex(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for invalid selector")
	}))

	// 点ID和过滤器必须二选一
	err := index.DeletePoints(context.Background(), "reports", PointSelector{})
	assert.Error(t, err)
}

func TestQdrantVerifyDeletion(t *testing.T) {
	count := int64(3)
	var gotBody map[string]interface{}

	index := newQdrantTestIndex(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/collections/reports/points/count", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"result": map[string]interface{}{"count": count},
		})
	}))

	filter := NewEqualsFilter(PayloadKeyEmployeeID, uint(42))

	verified, err := index.VerifyDeletion(context.Background(), "reports", filter)
	require.NoError(t, err)
	assert.False(t, verified)
	assert.Equal(t, true, gotBody["exact"])

	count = 0
	verified, err = index.VerifyDeletion(context.Background(), "reports", filter)
	require.NoError(t, err)
	assert.True(t, verified)
}

func TestQdrantCollectionInfo(t *testing.T) {
	index := newQdrantTestIndex(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"result": map[string]interface{}{
				"points_count": 12,
				"config": map[string]interface{}{
					"params": map[string]interface{}{
						"vectors": map[string]interface{}{
							"size":     768,
							"distance": "Cosine",
						},
					},
				},
			},
		})
	}))

	info, err := index.CollectionInfo(context.Background(), "reports")
	require.NoError(t, err)
	assert.Equal(t, "reports", info.Name)
	assert.Equal(t, int64(12), info.PointCount)
	assert.Equal(t, 768, info.Dimension)
	assert.Equal(t, "cosine", info.Metric)
}
