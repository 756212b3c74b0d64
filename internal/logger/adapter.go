package logger

import (
	"go.uber.org/zap"

	"github.com/reporthub/backend-go/internal/interfaces"
)

// zapAdapter 把zap适配到interfaces.LoggerInterface，供依赖注入使用
type zapAdapter struct {
	sugar *zap.SugaredLogger
}

// NewAdapter 创建LoggerInterface适配器
func NewAdapter(l *zap.Logger) interfaces.LoggerInterface {
	if l == nil {
		l = GetLogger()
	}
	// 跳过适配器自身这一层调用栈
	return &zapAdapter{sugar: l.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

// normalizeFields 调用方有时传入单个map而不是键值对，展开成键值对
func normalizeFields(fields []interface{}) []interface{} {
	if len(fields) == 1 {
		if m, ok := fields[0].(map[string]interface{}); ok {
			expanded := make([]interface{}, 0, len(m)*2)
			for k, v := range m {
				expanded = append(expanded, k, v)
			}
			return expanded
		}
	}
	return fields
}

func (a *zapAdapter) Info(msg string, fields ...interface{}) {
	a.sugar.Infow(msg, normalizeFields(fields)...)
}

func (a *zapAdapter) Error(msg string, fields ...interface{}) {
	a.sugar.Errorw(msg, normalizeFields(fields)...)
}

func (a *zapAdapter) Debug(msg string, fields ...interface{}) {
	a.sugar.Debugw(msg, normalizeFields(fields)...)
}

func (a *zapAdapter) Warn(msg string, fields ...interface{}) {
	a.sugar.Warnw(msg, normalizeFields(fields)...)
}

func (a *zapAdapter) Fatal(msg string, fields ...interface{}) {
	a.sugar.Fatalw(msg, normalizeFields(fields)...)
}

func (a *zapAdapter) With(fields ...interface{}) interfaces.LoggerInterface {
	return &zapAdapter{sugar: a.sugar.With(normalizeFields(fields)...)}
}

func (a *zapAdapter) WithError(err error) interfaces.LoggerInterface {
	return &zapAdapter{sugar: a.sugar.With("error", err)}
}
