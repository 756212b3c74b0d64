package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEqualsFilter(t *testing.T) {
	filter := NewEqualsFilter(PayloadKeyEmployeeID, uint(42))

	require.NoError(t, filter.Validate())
	require.Len(t, filter.Conditions, 1)
	assert.Equal(t, OpEqual, filter.Conditions[0].Op)
	assert.False(t, filter.IsZero())
}

func TestFilterAndChaining(t *testing.T) {
	filter := NewEqualsFilter(PayloadKeyEmployeeID, uint(42)).
		And(PayloadKeyReportID, uint(7))

	require.NoError(t, filter.Validate())
	require.Len(t, filter.Conditions, 2)
	assert.Equal(t, []string{PayloadKeyEmployeeID, PayloadKeyReportID}, filter.Fields())
}

func TestFilterValidateRejectsBadConditions(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
	}{
		{"empty field", Filter{Conditions: []Condition{{Field: "", Op: OpEqual, Value: 1}}}},
		{"nil value", Filter{Conditions: []Condition{{Field: "report_id", Op: OpEqual, Value: nil}}}},
		{"unsupported op", Filter{Conditions: []Condition{{Field: "report_id", Op: Op("gt"), Value: 1}}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.filter.Validate())
		})
	}
}

func TestFilterZeroValue(t *testing.T) {
	var filter Filter
	assert.True(t, filter.IsZero())
	assert.NoError(t, filter.Validate())
	assert.Empty(t, filter.StringValues())
}

func TestFilterStringValues(t *testing.T) {
	filter := NewEqualsFilter(PayloadKeyEmployeeID, uint(42)).
		And(PayloadKeyReportDate, "2024-03-01").
		And(PayloadKeyChunkIndex, float64(3))

	values := filter.StringValues()
	assert.Equal(t, "42", values[PayloadKeyEmployeeID])
	assert.Equal(t, "2024-03-01", values[PayloadKeyReportDate])
	// 浮点整数值不能带小数点，否则匹配不上写入时的格式
	assert.Equal(t, "3", values[PayloadKeyChunkIndex])
}
