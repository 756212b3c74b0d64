package retrieval

import (
	"testing"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMilvusFilterExpr(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		want   string
	}{
		{
			name:   "uint等值",
			filter: NewEqualsFilter(PayloadKeyEmployeeID, uint(42)),
			want:   "employee_id == 42",
		},
		{
			name:   "字符串加引号",
			filter: NewEqualsFilter(PayloadKeyReportDate, "2025-03-15"),
			want:   `report_date == "2025-03-15"`,
		},
		{
			name:   "多条件合取",
			filter: NewEqualsFilter(PayloadKeyEmployeeID, uint(42)).And(PayloadKeyChunkIndex, 1),
			want:   "employee_id == 42 && chunk_index == 1",
		},
		{
			name:   "float64不带指数",
			filter: NewEqualsFilter(PayloadKeyReportID, float64(7)),
			want:   "report_id == 7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, err := milvusFilterExpr(tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, expr)
		})
	}
}

func TestMilvusFilterExprRejectsInvalid(t *testing.T) {
	_, err := milvusFilterExpr(Filter{Conditions: []Condition{{Field: "", Op: OpEqual, Value: "x"}}})
	assert.Error(t, err)

	_, err = milvusFilterExpr(Filter{Conditions: []Condition{{Field: PayloadKeyText, Op: "contains", Value: "x"}}})
	assert.Error(t, err)

	_, err = milvusFilterExpr(NewEqualsFilter(PayloadKeyEmployeeID, []string{"42"}))
	assert.Error(t, err)
}

func TestMilvusRowPayload(t *testing.T) {
	columns := []entity.Column{
		entity.NewColumnVarChar("id", []string{"p-1", "p-2"}),
		entity.NewColumnInt64(PayloadKeyReportID, []int64{7, 8}),
		entity.NewColumnInt64(PayloadKeyEmployeeID, []int64{42, 99}),
		entity.NewColumnInt64(PayloadKeyChunkIndex, []int64{0, 1}),
		entity.NewColumnVarChar(PayloadKeyReportDate, []string{"2025-03-15", "2025-03-16"}),
		entity.NewColumnVarChar(PayloadKeyText, []string{"first chunk", "second chunk"}),
	}

	payload := milvusRowPayload(columns, 1)

	// id列只用于点标识，不进载荷
	_, hasID := payload["id"]
	assert.False(t, hasID)
	assert.Equal(t, uint(8), payload.UintField(PayloadKeyReportID))
	assert.Equal(t, uint(99), payload.UintField(PayloadKeyEmployeeID))
	assert.Equal(t, 1, payload.IntField(PayloadKeyChunkIndex))
	assert.Equal(t, "2025-03-16", payload.ReportDate())
	assert.Equal(t, "second chunk", payload.Text())
}

func TestMilvusResultLen(t *testing.T) {
	assert.Equal(t, 0, milvusResultLen(nil))
	assert.Equal(t, 2, milvusResultLen([]entity.Column{
		entity.NewColumnInt64(PayloadKeyReportID, []int64{7, 8}),
	}))
}
