package retrieval

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	apperrors "github.com/reporthub/backend-go/internal/errors"
)

func newMockGorm(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	return gdb, mock
}

var vectorRecordColumns = []string{
	"point_id", "collection", "report_id", "employee_id",
	"chunk_index", "report_date", "text", "embedding",
}

func TestDatabaseIndexSearchRanksByCosine(t *testing.T) {
	gdb, mock := newMockGorm(t)
	index := NewDatabaseIndex(gdb)

	rows := sqlmock.NewRows(vectorRecordColumns).
		AddRow("far", "reports", 1, 42, 0, "2024-03-01", "orthogonal chunk", "[0,1,0]").
		AddRow("close", "reports", 1, 42, 1, "2024-03-01", "near chunk", "[0.9,0.1,0]").
		AddRow("exact", "reports", 1, 42, 2, "2024-03-01", "exact chunk", "[1,0,0]")

	mock.ExpectQuery(`SELECT \* FROM "vector_records" WHERE collection = \$1 AND employee_id = \$2`).
		WillReturnRows(rows)

	points, err := index.Search(context.Background(), "reports", []float32{1, 0, 0}, 2,
		NewEqualsFilter(PayloadKeyEmployeeID, uint(42)))
	require.NoError(t, err)
	require.Len(t, points, 2)

	// 余弦相似度决定顺序，limit截断尾部
	assert.Equal(t, "exact", points[0].ID)
	assert.InDelta(t, 1.0, points[0].Score, 1e-6)
	assert.Equal(t, "close", points[1].ID)
	assert.Greater(t, points[0].Score, points[1].Score)

	assert.Equal(t, "exact chunk", points[0].Payload.Text())
	assert.Equal(t, uint(42), points[0].Payload.UintField(PayloadKeyEmployeeID))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabaseIndexSearchRejectsUnknownFilterField(t *testing.T) {
	gdb, _ := newMockGorm(t)
	index := NewDatabaseIndex(gdb)

	// 过滤字段必须映射到已知列，否则会拼进SQL
	_, err := index.Search(context.Background(), "reports", []float32{1, 0, 0}, 5,
		NewEqualsFilter("malicious_column", "x"))
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeIndexRead))
}

func TestDatabaseIndexSearchEmptyVector(t *testing.T) {
	gdb, _ := newMockGorm(t)
	index := NewDatabaseIndex(gdb)

	points, err := index.Search(context.Background(), "reports", nil, 5, Filter{})
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestDatabaseIndexRetrievePoint(t *testing.T) {
	gdb, mock := newMockGorm(t)
	index := NewDatabaseIndex(gdb)

	rows := sqlmock.NewRows(vectorRecordColumns).
		AddRow("point-1", "reports", 7, 42, 3, "2024-03-01", "stored chunk", "[1,0]")

	mock.ExpectQuery(`SELECT \* FROM "vector_records" WHERE collection = \$1 AND point_id = \$2`).
		WillReturnRows(rows)

	payload, found, err := index.RetrievePoint(context.Background(), "reports", "point-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint(7), payload.UintField(PayloadKeyReportID))
	assert.Equal(t, 3, payload.IntField(PayloadKeyChunkIndex))
	assert.Equal(t, "stored chunk", payload.Text())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabaseIndexRetrievePointMissing(t *testing.T) {
	gdb, mock := newMockGorm(t)
	index := NewDatabaseIndex(gdb)

	mock.ExpectQuery(`SELECT \* FROM "vector_records"`).
		WillReturnRows(sqlmock.NewRows(vectorRecordColumns))

	_, found, err := index.RetrievePoint(context.Background(), "reports", "missing")
	require.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabaseIndexDeleteByPointIDs(t *testing.T) {
	gdb, mock := newMockGorm(t)
	index := NewDatabaseIndex(gdb)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "vector_records" WHERE collection = \$1 AND point_id IN \(\$2,\$3\)`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	err := index.DeletePoints(context.Background(), "reports", SelectPoints("p-1", "p-2"))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabaseIndexDeleteByFilter(t *testing.T) {
	gdb, mock := newMockGorm(t)
	index := NewDatabaseIndex(gdb)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "vector_records" WHERE collection = \$1 AND report_id = \$2`).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	err := index.DeletePoints(context.Background(), "reports",
		SelectByFilter(NewEqualsFilter(PayloadKeyReportID, uint(7))))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabaseIndexVerifyDeletion(t *testing.T) {
	gdb, mock := newMockGorm(t)
	index := NewDatabaseIndex(gdb)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "vector_records" WHERE collection = \$1 AND employee_id = \$2`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	verified, err := index.VerifyDeletion(context.Background(), "reports",
		NewEqualsFilter(PayloadKeyEmployeeID, uint(42)))
	require.NoError(t, err)
	assert.True(t, verified)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "vector_records"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	verified, err = index.VerifyDeletion(context.Background(), "reports",
		NewEqualsFilter(PayloadKeyEmployeeID, uint(42)))
	require.NoError(t, err)
	assert.False(t, verified)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}

	assert.InDelta(t, 1.0, cosineSimilarity(a, []float32{1, 0, 0}, vectorNorm(a)), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity(a, []float32{0, 1, 0}, vectorNorm(a)), 1e-9)
	assert.InDelta(t, -1.0, cosineSimilarity(a, []float32{-1, 0, 0}, vectorNorm(a)), 1e-9)

	// 零向量与空向量都返回0
	assert.Zero(t, cosineSimilarity(a, []float32{0, 0, 0}, vectorNorm(a)))
	assert.Zero(t, cosineSimilarity(nil, a, 0))
}

func TestVectorNorm(t *testing.T) {
	assert.InDelta(t, 5.0, vectorNorm([]float32{3, 4}), 1e-9)
	assert.Zero(t, vectorNorm(nil))
}
