package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reporthub/backend-go/internal/config"
	apperrors "github.com/reporthub/backend-go/internal/errors"
)

func TestNewVectorIndexProviderSelection(t *testing.T) {
	t.Run("qdrant", func(t *testing.T) {
		index, err := NewVectorIndex(config.VectorStoreConfig{
			Provider: "qdrant",
			Qdrant:   config.QdrantConfig{Host: "qdrant.internal", Port: 6333},
		}, nil)
		require.NoError(t, err)
		assert.IsType(t, &qdrantIndex{}, index)
	})

	t.Run("chromem", func(t *testing.T) {
		index, err := NewVectorIndex(config.VectorStoreConfig{
			Provider: "chromem",
			Chromem:  config.ChromemConfig{Path: t.TempDir()},
		}, nil)
		require.NoError(t, err)
		assert.IsType(t, &chromemIndex{}, index)
		require.NoError(t, index.Close())
	})

	t.Run("database", func(t *testing.T) {
		db, _ := newMockGorm(t)

		index, err := NewVectorIndex(config.VectorStoreConfig{Provider: "database"}, db)
		require.NoError(t, err)
		assert.IsType(t, &databaseIndex{}, index)
	})

	t.Run("provider name is case insensitive", func(t *testing.T) {
		index, err := NewVectorIndex(config.VectorStoreConfig{
			Provider: "Qdrant",
			Qdrant:   config.QdrantConfig{Host: "qdrant.internal", Port: 6333},
		}, nil)
		require.NoError(t, err)
		assert.NotNil(t, index)
	})
}

func TestNewVectorIndexDatabaseRequiresConnection(t *testing.T) {
	_, err := NewVectorIndex(config.VectorStoreConfig{Provider: "database"}, nil)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConfiguration))
}

func TestNewVectorIndexUnknownProvider(t *testing.T) {
	_, err := NewVectorIndex(config.VectorStoreConfig{Provider: "pinecone"}, nil)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConfiguration))
	assert.Contains(t, err.Error(), "pinecone")
}

func TestPayloadFieldAccessors(t *testing.T) {
	payload := Payload{
		PayloadKeyReportID:   float64(7),
		PayloadKeyEmployeeID: "42",
		PayloadKeyChunkIndex: 3,
		PayloadKeyReportDate: "2024-03-01",
		PayloadKeyText:       "chunk body",
	}

	// 数值字段要兼容JSON浮点、原生整数和字符串化后的元数据
	assert.Equal(t, uint(7), payload.UintField(PayloadKeyReportID))
	assert.Equal(t, uint(42), payload.UintField(PayloadKeyEmployeeID))
	assert.Equal(t, 3, payload.IntField(PayloadKeyChunkIndex))
	assert.Equal(t, "2024-03-01", payload.ReportDate())
	assert.Equal(t, "chunk body", payload.Text())

	assert.Zero(t, payload.UintField("absent"))
	assert.Zero(t, payload.IntField("absent"))
	assert.Empty(t, Payload{}.Text())
}

func TestPointSelectorValidate(t *testing.T) {
	filter := NewEqualsFilter(PayloadKeyReportID, uint(7))

	assert.NoError(t, SelectPoints("p-1", "p-2").Validate())
	assert.NoError(t, SelectByFilter(filter).Validate())

	// 两种目标同时给或都不给都非法
	assert.Error(t, PointSelector{}.Validate())
	both := PointSelector{PointIDs: []string{"p-1"}, Filter: &filter}
	assert.Error(t, both.Validate())
}
