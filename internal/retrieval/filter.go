package retrieval

import (
	"fmt"
	"sort"
	"strconv"
)

// Op 过滤条件操作符
type Op string

const (
	// OpEqual 等值匹配，当前所有后端只需要这一种操作符
	OpEqual Op = "eq"
)

// Condition 单个过滤条件
type Condition struct {
	Field string
	Op    Op
	Value interface{}
}

// Filter 载荷字段的合取过滤表达式
// 在服务边界校验一次，再由各个后端转换为自己的原生表示
type Filter struct {
	Conditions []Condition
}

// NewEqualsFilter 创建单字段等值过滤器
func NewEqualsFilter(field string, value interface{}) Filter {
	return Filter{
		Conditions: []Condition{
			{Field: field, Op: OpEqual, Value: value},
		},
	}
}

// And 追加一个等值条件，返回新的过滤器
func (f Filter) And(field string, value interface{}) Filter {
	conditions := make([]Condition, 0, len(f.Conditions)+1)
	conditions = append(conditions, f.Conditions...)
	conditions = append(conditions, Condition{Field: field, Op: OpEqual, Value: value})
	return Filter{Conditions: conditions}
}

// IsZero 判断过滤器是否为空
func (f Filter) IsZero() bool {
	return len(f.Conditions) == 0
}

// Validate 校验过滤器的字段名与操作符
func (f Filter) Validate() error {
	for _, cond := range f.Conditions {
		if cond.Field == "" {
			return fmt.Errorf("filter condition has empty field")
		}
		if cond.Op != OpEqual {
			return fmt.Errorf("unsupported filter operator %q on field %q", cond.Op, cond.Field)
		}
		if cond.Value == nil {
			return fmt.Errorf("filter condition on field %q has nil value", cond.Field)
		}
	}
	return nil
}

// StringValues 把所有条件转成字符串键值对，供只支持字符串元数据的后端使用
func (f Filter) StringValues() map[string]string {
	if f.IsZero() {
		return nil
	}
	out := make(map[string]string, len(f.Conditions))
	for _, cond := range f.Conditions {
		out[cond.Field] = formatFilterValue(cond.Value)
	}
	return out
}

// Fields 返回过滤器涉及的字段名，按字典序排序
func (f Filter) Fields() []string {
	fields := make([]string, 0, len(f.Conditions))
	for _, cond := range f.Conditions {
		fields = append(fields, cond.Field)
	}
	sort.Strings(fields)
	return fields
}

func formatFilterValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
